package cel

// ConditionExpressionExamples are expressions accepted in the `cel` form of a rule condition.
var ConditionExpressionExamples = map[string]string{
	"prefix":          `present && value.startsWith("7.5.1.")`,
	"major_below":     `present && majorVersion(value) < 8`,
	"minor_at_least":  `present && minorVersion(value) >= 1`,
	"version_floor":   `present && versionAtLeast(value, "8.1.3")`,
	"fleet_member":    `present && "fleet:50b4f0ee-b8e4-4c9c-b321-243ff1f9e487" in value`,
	"missing":         `!present`,
	"one_of":          `value in ["6.2.5.16868", "7.5.2.17004"]`,
	"numeric_compare": `present && value >= 10.0`,
}

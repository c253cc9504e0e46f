package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fwupdate/internal/rules"
)

func TestParseAttrs(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    rules.Attributes
		wantErr bool
	}{
		{
			name:  "plain string",
			pairs: []string{"sku=NOTE-WBNA"},
			want:  rules.Attributes{"sku": "NOTE-WBNA"},
		},
		{
			name:  "dotted keys nest",
			pairs: []string{"firmware_notecard.version=7.5.1.17000", "firmware_notecard.built=2024"},
			want: rules.Attributes{
				"firmware_notecard": map[string]any{"version": "7.5.1.17000", "built": float64(2024)},
			},
		},
		{
			name:  "json array",
			pairs: []string{`fleets=["fleet:1","fleet:2"]`},
			want:  rules.Attributes{"fleets": []any{"fleet:1", "fleet:2"}},
		},
		{
			name:  "value containing equals",
			pairs: []string{"note=a=b"},
			want:  rules.Attributes{"note": "a=b"},
		},
		{name: "missing equals", pairs: []string{"sku"}, wantErr: true},
		{name: "empty key", pairs: []string{"=x"}, wantErr: true},
		{name: "path through scalar", pairs: []string{"a=1", "a.b=2"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAttrs(tt.pairs)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDescribeTarget(t *testing.T) {
	tests := []struct {
		name   string
		target *rules.Target
		want   string
	}{
		{name: "no update", target: nil, want: "none"},
		{name: "channel agnostic", target: rules.VersionTarget("8.1.3"), want: "8.1.3"},
		{
			name:   "both channels",
			target: rules.ChannelTarget(map[rules.Channel]string{rules.ChannelHost: "2.0.0", rules.ChannelNotecard: "7.5.2.17004"}),
			want:   "notecard=7.5.2.17004, host=2.0.0",
		},
		{name: "empty channels", target: rules.ChannelTarget(map[rules.Channel]string{}), want: "none"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describeTarget(tt.target))
		})
	}
}

func TestValidateRulesCmd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	doc := `
- id: pin-notecard
  conditions:
    firmware_notecard.version: 7.5.1.17000
  target:
    notecard: 7.5.2.17004
- conditions:
    fleets:
      cel: 'present && "fleet:1" in value'
  target: null
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cmd := validateRulesCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--file", path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "2 rule(s)")
	assert.Contains(t, out.String(), "pin-notecard: 1 condition(s), target notecard=7.5.2.17004")
	assert.Contains(t, out.String(), "rule-2: 1 condition(s), target none")
}

func TestValidateRulesCmdRejectsBadDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- target: 42\n"), 0o600))

	cmd := validateRulesCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--file", path})

	assert.Error(t, cmd.Execute())
}

func TestValidateRulesCmdExamples(t *testing.T) {
	cmd := validateRulesCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--examples"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), `major_below      {cel: 'present && majorVersion(value) < 8'}`)
	assert.Contains(t, out.String(), "missing")
}

func TestValidateRulesCmdNeedsFile(t *testing.T) {
	cmd := validateRulesCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(nil)

	assert.Error(t, cmd.Execute())
}

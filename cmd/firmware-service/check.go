package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"fwupdate/internal/constants"
	"fwupdate/internal/request"
	"fwupdate/internal/rules"
	"fwupdate/internal/rulestore"
	"fwupdate/pkg/bootstrap"
	"fwupdate/pkg/cel"
)

func checkCmd() *cobra.Command {
	var (
		device string
		dryRun bool
		attrs  []string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one firmware decision for a device and print the result",
		Example: `  firmware-service check --device dev:864475044215343 --dry-run
  firmware-service check --device dev:1 --attr firmware_notecard.version=7.5.1.17000 --attr 'fleets=["fleet:1"]'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			attributes, err := parseAttrs(attrs)
			if err != nil {
				return err
			}
			attributes["device"] = device

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			deps := bootstrap.FirmwareDeps{}
			connector := bootstrap.NewDatabaseConnector(cfg, log)
			switch cfg.Firmware.RulesSource {
			case constants.RulesSourcePostgres:
				db, err := connector.InitPostgreSQL(ctx)
				if err != nil {
					return err
				}
				if db != nil {
					defer db.Close()
				}
				deps.DB = db
			case constants.RulesSourceDynamo:
				dynamo, err := connector.InitDynamoDB(ctx)
				if err != nil {
					return err
				}
				deps.Dynamo = dynamo
			}

			fw, err := bootstrap.InitFirmware(ctx, cfg, deps, log)
			if err != nil {
				return err
			}

			result, err := fw.Processor.Process(ctx, request.Payload{
				DeviceID:   device,
				DryRun:     dryRun,
				Attributes: attributes,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().StringVar(&device, "device", "", "Device UID")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Decide without requesting updates")
	cmd.Flags().StringArrayVar(&attrs, "attr", nil, "Request attribute as key=value; dotted keys nest, JSON values are decoded")
	_ = cmd.MarkFlagRequired("device")

	return cmd
}

// parseAttrs turns key=value pairs into request attributes. Values that
// parse as JSON keep their JSON type; anything else is a string.
func parseAttrs(pairs []string) (rules.Attributes, error) {
	attrs := make(rules.Attributes, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid attribute %q: expected key=value", pair)
		}

		var value any = raw
		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
			value = decoded
		}

		if err := setPath(attrs, strings.Split(key, "."), value); err != nil {
			return nil, fmt.Errorf("invalid attribute %q: %w", pair, err)
		}
	}
	return attrs, nil
}

func setPath(m map[string]any, path []string, value any) error {
	for _, part := range path[:len(path)-1] {
		next, exists := m[part]
		if !exists {
			child := make(map[string]any)
			m[part] = child
			m = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%s is already set to a non-object value", part)
		}
		m = child
	}
	m[path[len(path)-1]] = value
	return nil
}

func validateRulesCmd() *cobra.Command {
	var (
		file     string
		examples bool
	)

	cmd := &cobra.Command{
		Use:   "validate-rules",
		Short: "Decode a rules file and report its rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			if examples {
				printConditionExamples(cmd.OutOrStdout())
				return nil
			}
			if file == "" {
				return fmt.Errorf("--file is required")
			}

			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}

			compiler, err := cel.NewCompiler()
			if err != nil {
				return err
			}

			set, err := rulestore.DecodeDocument(data, compiler)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d rule(s)\n", file, len(set))
			for i, rule := range set {
				fmt.Fprintf(out, "  %s: %d condition(s), target %s\n", rule.IDAt(i), len(rule.Conditions), describeTarget(rule.Target))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Path to a YAML or JSON rules document")
	cmd.Flags().BoolVar(&examples, "examples", false, "Print example cel conditions and exit")

	return cmd
}

func describeTarget(t *rules.Target) string {
	switch {
	case t == nil:
		return "none"
	case t.ChannelAgnostic():
		return t.Version
	}
	parts := make([]string, 0, len(rules.Channels))
	for _, ch := range rules.Channels {
		if v, ok := t.For(ch); ok {
			parts = append(parts, fmt.Sprintf("%s=%s", ch, v))
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

func printConditionExamples(out io.Writer) {
	names := make([]string, 0, len(cel.ConditionExpressionExamples))
	for name := range cel.ConditionExpressionExamples {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(out, "%-16s {cel: '%s'}\n", name, cel.ConditionExpressionExamples[name])
	}
}

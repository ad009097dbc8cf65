// Package config implements the "par3 config" command group.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/par3/pkg/config"
	"github.com/spf13/cobra"
)

// Cmd is the "config" command group, added to the root command.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and validate par3 configuration",
}

var schemaOutput string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Generate a JSON schema for the configuration file",
	Long: `Generate a JSON schema for par3's configuration file.

Examples:
  # Print schema to stdout
  par3 config schema

  # Save schema to file
  par3 config schema --output par3.schema.json`,
	RunE: runSchema,
}

var checkPath string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Load and validate a configuration file",
	RunE:  runCheck,
}

func init() {
	schemaCmd.Flags().StringVarP(&schemaOutput, "output", "o", "", "output file (default: stdout)")
	checkCmd.Flags().StringVar(&checkPath, "file", "", "config file to validate (default: $XDG_CONFIG_HOME/par3/config.yaml)")
	Cmd.AddCommand(schemaCmd)
	Cmd.AddCommand(checkCmd)
}

func runSchema(cmd *cobra.Command, args []string) error {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Version = "https://json-schema.org/draft/2020-12/schema"
	schema.Title = "par3 Configuration"
	schema.Description = "Configuration schema for the par3 parity archive toolkit"

	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	if schemaOutput != "" {
		if err := os.WriteFile(schemaOutput, schemaJSON, 0644); err != nil {
			return fmt.Errorf("failed to write schema file: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "JSON schema written to %s\n", schemaOutput)
		return nil
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(schemaJSON))
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(checkPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config is invalid: %w", err)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
	return nil
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-formflow/pkg/catalog"
	"github.com/goliatone/go-formflow/pkg/schema"
)

var (
	importOperation string
	importOutput    string
)

var importOpenAPICmd = &cobra.Command{
	Use:   "import-openapi [file]",
	Short: "Convert an OpenAPI multipart operation into a catalog schema",
	Long: `Reads an OpenAPI 3 document and turns the multipart/form-data request body
of --operation into a schema document that can be dropped into a catalog
directory.

Example:
  formflow import-openapi gateway.yaml --operation coidaLetter > coida.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runImportOpenAPI,
}

func init() {
	importOpenAPICmd.Flags().StringVar(&importOperation, "operation", "", "operation id to convert (default: the first multipart operation)")
	importOpenAPICmd.Flags().StringVarP(&importOutput, "output", "o", "", "output file (stdout if empty)")
}

func runImportOpenAPI(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	imported, err := catalog.ImportOpenAPI(cmd.Context(), data, importOperation)
	if err != nil {
		return err
	}
	if _, err := schema.Compile(imported); err != nil {
		return fmt.Errorf("imported schema does not compile: %w", err)
	}
	out, err := yaml.Marshal(map[string][]schema.FormSchema{"schemas": {imported}})
	if err != nil {
		return err
	}
	if importOutput == "" {
		_, err = cmd.OutOrStdout().Write(out)
		return err
	}
	if err := os.WriteFile(importOutput, out, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Schema written to %s\n", importOutput)
	return nil
}

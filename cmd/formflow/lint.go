package main

import (
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-formflow/pkg/catalog"
)

var lintCmd = &cobra.Command{
	Use:   "lint [dir...]",
	Short: "Check catalog documents for problems",
	Long: `Compiles every service and schema document under each directory and
reports all problems found. Without arguments the bundled catalog is checked.`,
	RunE: runLint,
}

func runLint(cmd *cobra.Command, args []string) error {
	targets := map[string]fs.FS{}
	var order []string
	if len(args) == 0 {
		targets["(bundled)"] = catalog.EmbeddedFS()
		order = append(order, "(bundled)")
	}
	for _, dir := range args {
		info, err := os.Stat(dir)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
		targets[dir] = os.DirFS(dir)
		order = append(order, dir)
	}

	count := 0
	for _, name := range order {
		violations, err := catalog.Lint(targets[name])
		if err != nil {
			return err
		}
		for _, v := range violations {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s/%s\n", name, v)
		}
		count += len(violations)
	}
	if count > 0 {
		return fmt.Errorf("lint: %d problem(s) found", count)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-formflow/pkg/admin"
)

var (
	adminFormTypes []string
	adminJSON      bool
	replaceType    string
	replaceFile    string
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Operator tools",
}

var adminSubmissionsCmd = &cobra.Command{
	Use:   "submissions",
	Short: "List stored submissions grouped by owner",
	RunE:  runAdminSubmissions,
}

var adminReplaceCmd = &cobra.Command{
	Use:   "replace [record-id]",
	Short: "Overwrite a stored submission with a corrected JSON record",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAdminReplace,
}

func init() {
	adminSubmissionsCmd.Flags().StringSliceVar(&adminFormTypes, "form-type", nil, "form types to list (repeatable or comma separated)")
	adminSubmissionsCmd.Flags().BoolVar(&adminJSON, "json", false, "print JSON instead of a table")
	adminReplaceCmd.Flags().StringVar(&replaceType, "form-type", "", "form type the record belongs to")
	adminReplaceCmd.Flags().StringVarP(&replaceFile, "file", "f", "", "record JSON file (- for stdin)")
	adminCmd.AddCommand(adminSubmissionsCmd, adminReplaceCmd)
}

func runAdminSubmissions(cmd *cobra.Command, _ []string) error {
	var formTypes []string
	for _, ft := range adminFormTypes {
		if ft = strings.TrimSpace(ft); ft != "" {
			formTypes = append(formTypes, ft)
		}
	}
	if len(formTypes) == 0 {
		return errors.New("--form-type is required")
	}
	client, err := newGateway()
	if err != nil {
		return err
	}
	records, err := admin.NewClient(client, admin.WithLogger(logger)).ListMany(cmd.Context(), formTypes...)
	if err != nil {
		return err
	}

	grouped := make(map[string][]admin.Group, len(records))
	for formType, recs := range records {
		grouped[formType] = admin.GroupByOwner(recs)
	}
	if adminJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(grouped)
	}

	keys := make([]string, 0, len(grouped))
	for formType := range grouped {
		keys = append(keys, formType)
	}
	sort.Strings(keys)
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FORM\tOWNER\tSUBMISSIONS\tLATEST")
	for _, formType := range keys {
		for _, g := range grouped[formType] {
			latest := ""
			if !g.Latest.SubmittedAt.IsZero() {
				latest = g.Latest.SubmittedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", formType, g.Owner, len(g.Records), latest)
		}
	}
	return tw.Flush()
}

func runAdminReplace(cmd *cobra.Command, args []string) error {
	formType := strings.TrimSpace(replaceType)
	if formType == "" {
		return errors.New("--form-type is required")
	}
	if strings.TrimSpace(replaceFile) == "" {
		return errors.New("--file is required")
	}
	var (
		data []byte
		err  error
	)
	if replaceFile == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(replaceFile)
	}
	if err != nil {
		return fmt.Errorf("read record: %w", err)
	}
	var rec admin.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	if len(args) == 1 {
		id := strings.TrimSpace(args[0])
		if rec.ID != "" && rec.ID != id {
			return fmt.Errorf("record id %q does not match %q", rec.ID, id)
		}
		rec.ID = id
	}

	client, err := newGateway()
	if err != nil {
		return err
	}
	if err := admin.NewClient(client, admin.WithLogger(logger)).Replace(cmd.Context(), formType, rec); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "replaced %s/%s\n", formType, rec.ID)
	return nil
}

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-formflow/pkg/catalog"
	"github.com/goliatone/go-formflow/pkg/form"
	"github.com/goliatone/go-formflow/pkg/formstate"
	"github.com/goliatone/go-formflow/pkg/renderers/tui"
	"github.com/goliatone/go-formflow/pkg/submission"
)

var fillCmd = &cobra.Command{
	Use:   "fill [service-id]",
	Short: "Fill and submit a service form in the terminal",
	Args:  cobra.ExactArgs(1),
	RunE:  runFill,
}

func init() {
	fillCmd.Flags().StringVar(&identity, "identity", "", "end-user identity (email)")
}

func runFill(cmd *cobra.Command, args []string) error {
	if strings.TrimSpace(identity) == "" {
		return errIdentityRequired
	}
	id, err := catalog.ParseServiceID(args[0])
	if err != nil {
		return err
	}
	cat, err := loadCatalog()
	if err != nil {
		return err
	}
	client, err := newGateway()
	if err != nil {
		return err
	}
	dispatcher := catalog.NewDispatcher(cat, client, catalog.WithDispatcherLogger(logger))
	services, err := dispatcher.ListAvailableServices(cmd.Context(), identity)
	if err != nil {
		return err
	}
	available := false
	for _, svc := range services {
		if svc.ID == id {
			available = true
			break
		}
	}
	if !available {
		return &catalog.NotFoundError{ServiceID: id}
	}
	def, compiled, err := cat.SelectService(id)
	if err != nil {
		return err
	}

	initial := formstate.New(nil).WithExtras(catalog.VisibilityExtras(services, ""))
	sess, err := form.NewSession(def, compiled, initial,
		form.WithIdentity(identity),
		form.WithSubmitter(submission.NewAdapter(client, submission.WithLogger(logger))),
		form.WithLogger(logger),
		form.WithOnSuccess(func(_ context.Context, _ submission.Ack) {
			dispatcher.Invalidate(identity)
		}),
	)
	if err != nil {
		return err
	}
	wizard := tui.New(tui.WithPromptDriver(tui.NewSurveyDriver(cmd.OutOrStdout())), tui.WithLogger(logger))
	if _, err := wizard.Run(cmd.Context(), sess); err != nil {
		return fmt.Errorf("fill %s: %w", def.Name, err)
	}
	return nil
}

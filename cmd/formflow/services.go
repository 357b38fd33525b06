package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-formflow/pkg/catalog"
)

var errIdentityRequired = errors.New("--identity is required")

var identity string

var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "List the services an identity may fill",
	Long: `Asks the gateway which services the identity has purchased and prints
the matching catalog entries. Without --identity the whole catalog is listed.`,
	RunE: runServices,
}

func init() {
	servicesCmd.Flags().StringVar(&identity, "identity", "", "end-user identity (email)")
}

func runServices(cmd *cobra.Command, _ []string) error {
	cat, err := loadCatalog()
	if err != nil {
		return err
	}
	services := cat.Services()
	if strings.TrimSpace(identity) != "" {
		client, err := newGateway()
		if err != nil {
			return err
		}
		services, err = catalog.NewDispatcher(cat, client, catalog.WithDispatcherLogger(logger)).
			ListAvailableServices(cmd.Context(), identity)
		if err != nil {
			return err
		}
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tFORM")
	for _, def := range services {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", def.ID, def.Name, def.FormID())
	}
	return tw.Flush()
}

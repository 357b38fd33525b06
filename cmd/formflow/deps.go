package main

import (
	"os"
	"strings"

	"github.com/goliatone/go-formflow/pkg/catalog"
	"github.com/goliatone/go-formflow/pkg/gateway"
)

func loadCatalog() (*catalog.Catalog, error) {
	if dir := strings.TrimSpace(cfg.CatalogDir); dir != "" {
		return catalog.LoadFS(os.DirFS(dir))
	}
	return catalog.Embedded()
}

func newGateway() (*gateway.Client, error) {
	if err := cfg.RequireGateway(); err != nil {
		return nil, err
	}
	return gateway.NewClient(cfg.GatewayURL,
		gateway.WithToken(cfg.GatewayToken),
		gateway.WithTimeout(cfg.GatewayTimeout),
		gateway.WithLogger(logger.Named("gateway")),
	)
}

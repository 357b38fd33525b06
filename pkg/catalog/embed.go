package catalog

import (
	"embed"
	"io/fs"
	"sync"
)

//go:embed data/*.yaml
var embeddedData embed.FS

// EmbeddedFS returns the bundled portal catalog documents.
func EmbeddedFS() fs.FS {
	sub, err := fs.Sub(embeddedData, "data")
	if err != nil {
		panic(err)
	}
	return sub
}

var (
	embeddedOnce    sync.Once
	embeddedCatalog *Catalog
	embeddedErr     error
)

// Embedded loads the bundled catalog once per process.
func Embedded() (*Catalog, error) {
	embeddedOnce.Do(func() {
		embeddedCatalog, embeddedErr = LoadFS(EmbeddedFS())
	})
	return embeddedCatalog, embeddedErr
}

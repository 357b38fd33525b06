// Package catalog holds the static set of services the portal offers and the
// compiled form schema behind each of them.
package catalog

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-formflow/pkg/schema"
	"github.com/goliatone/go-formflow/pkg/submission"
)

// NotFoundError reports a service id with no catalog entry.
type NotFoundError struct {
	ServiceID int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("catalog: service %d is unavailable", e.ServiceID)
}

// Entry pairs a service with its compiled schema.
type Entry struct {
	Service  schema.ServiceDefinition
	Compiled *schema.Compiled
	Source   string
}

// Catalog is immutable once loaded and safe for concurrent use.
type Catalog struct {
	entries map[int]Entry
	order   []int
}

type documentFile struct {
	Services []schema.ServiceDefinition `json:"services" yaml:"services"`
	Schemas  []schema.FormSchema        `json:"schemas" yaml:"schemas"`
}

// LoadFS walks fsys and merges every JSON/YAML document into one catalog.
// Duplicate service or schema ids, dangling schema references and schemas
// that fail to compile are reported with the originating file.
func LoadFS(fsys fs.FS, opts ...schema.CompileOption) (*Catalog, error) {
	if fsys == nil {
		return nil, fmt.Errorf("catalog: filesystem is required")
	}

	services := make(map[int]schema.ServiceDefinition)
	serviceSource := make(map[int]string)
	schemas := make(map[string]schema.FormSchema)
	schemaSource := make(map[string]string)

	err := fs.WalkDir(fsys, ".", func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() || !isCatalogFile(path) {
			return nil
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("catalog: read %s: %w", path, err)
		}
		doc, err := parseDocument(data, path)
		if err != nil {
			return err
		}
		for _, def := range doc.Services {
			if def.ID <= 0 {
				return fmt.Errorf("catalog: file %s declares service %q without a positive id", path, def.Name)
			}
			if prev, dup := serviceSource[def.ID]; dup {
				return fmt.Errorf("catalog: duplicate service %d (files %s and %s)", def.ID, prev, path)
			}
			if strings.TrimSpace(def.Collection) == "" {
				return fmt.Errorf("catalog: service %d in %s has no collection", def.ID, path)
			}
			services[def.ID] = def
			serviceSource[def.ID] = path
		}
		for _, s := range doc.Schemas {
			id := strings.TrimSpace(s.ID)
			if id == "" {
				return fmt.Errorf("catalog: file %s declares a schema without id", path)
			}
			if prev, dup := schemaSource[id]; dup {
				return fmt.Errorf("catalog: duplicate schema %q (files %s and %s)", id, prev, path)
			}
			schemas[id] = s
			schemaSource[id] = path
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	compiled := make(map[string]*schema.Compiled, len(schemas))
	for id, s := range schemas {
		c, err := schema.Compile(s, opts...)
		if err != nil {
			return nil, fmt.Errorf("catalog: %s: %w", schemaSource[id], err)
		}
		for _, field := range c.Fields() {
			if submission.IsReserved(field.Key) {
				return nil, fmt.Errorf("catalog: %s: schema %s field %q collides with a reserved part", schemaSource[id], id, field.Key)
			}
		}
		compiled[id] = c
	}
	return assemble(services, serviceSource, compiled)
}

func assemble(services map[int]schema.ServiceDefinition, sources map[int]string, compiled map[string]*schema.Compiled) (*Catalog, error) {
	cat := &Catalog{entries: make(map[int]Entry, len(services))}
	for id, def := range services {
		c, ok := compiled[def.SchemaRef]
		if !ok {
			return nil, fmt.Errorf("catalog: service %d (%s) references unknown schema %q", id, sources[id], def.SchemaRef)
		}
		cat.entries[id] = Entry{Service: def, Compiled: c, Source: sources[id]}
		cat.order = append(cat.order, id)
	}
	sort.Ints(cat.order)
	return cat, nil
}

// New builds a catalog from already compiled entries; used by tests and the
// OpenAPI importer.
func New(entries ...Entry) (*Catalog, error) {
	services := make(map[int]schema.ServiceDefinition, len(entries))
	sources := make(map[int]string, len(entries))
	compiled := make(map[string]*schema.Compiled, len(entries))
	for _, e := range entries {
		if e.Compiled == nil {
			return nil, fmt.Errorf("catalog: service %d has no compiled schema", e.Service.ID)
		}
		if _, dup := services[e.Service.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate service %d", e.Service.ID)
		}
		if e.Service.SchemaRef == "" {
			e.Service.SchemaRef = e.Compiled.ID()
		}
		services[e.Service.ID] = e.Service
		sources[e.Service.ID] = e.Source
		compiled[e.Service.SchemaRef] = e.Compiled
	}
	return assemble(services, sources, compiled)
}

// Services lists every definition ordered by id.
func (c *Catalog) Services() []schema.ServiceDefinition {
	if c == nil {
		return nil
	}
	out := make([]schema.ServiceDefinition, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.entries[id].Service)
	}
	return out
}

// Len reports the number of services.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.order)
}

// Service looks up a definition by id.
func (c *Catalog) Service(id int) (schema.ServiceDefinition, bool) {
	if c == nil {
		return schema.ServiceDefinition{}, false
	}
	e, ok := c.entries[id]
	return e.Service, ok
}

// SelectService returns the service and its compiled schema, or a
// *NotFoundError.
func (c *Catalog) SelectService(id int) (schema.ServiceDefinition, *schema.Compiled, error) {
	if c == nil {
		return schema.ServiceDefinition{}, nil, &NotFoundError{ServiceID: id}
	}
	e, ok := c.entries[id]
	if !ok {
		return schema.ServiceDefinition{}, nil, &NotFoundError{ServiceID: id}
	}
	return e.Service, e.Compiled, nil
}

// Entries returns every entry ordered by service id.
func (c *Catalog) Entries() []Entry {
	if c == nil {
		return nil
	}
	out := make([]Entry, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.entries[id])
	}
	return out
}

// ParseServiceID parses the decimal service ids used in URLs and gateway
// answers.
func ParseServiceID(raw string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("catalog: invalid service id %q", raw)
	}
	return id, nil
}

func parseDocument(data []byte, source string) (documentFile, error) {
	var doc documentFile
	if len(strings.TrimSpace(string(data))) == 0 {
		return documentFile{}, fmt.Errorf("catalog: file %s is empty", source)
	}
	if strings.EqualFold(filepath.Ext(source), ".json") {
		if err := json.Unmarshal(data, &doc); err != nil {
			return documentFile{}, fmt.Errorf("catalog: parse %s: %w", source, err)
		}
		return doc, nil
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return documentFile{}, fmt.Errorf("catalog: parse %s: %w", source, err)
	}
	return doc, nil
}

func isCatalogFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

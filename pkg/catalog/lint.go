package catalog

import (
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/goliatone/go-formflow/pkg/schema"
	"github.com/goliatone/go-formflow/pkg/submission"
)

// Violation is one problem found by Lint.
type Violation struct {
	File     string
	Location string
	Message  string
}

func (v Violation) String() string {
	if v.Location == "" {
		return v.File + ": " + v.Message
	}
	return v.File + ": " + v.Location + " -> " + v.Message
}

// Lint checks every catalog document under fsys and reports all problems
// instead of stopping at the first. Schemas no service references are
// reported too. The error is non-nil only when fsys cannot be walked.
func Lint(fsys fs.FS, opts ...schema.CompileOption) ([]Violation, error) {
	if fsys == nil {
		return nil, fmt.Errorf("catalog: filesystem is required")
	}
	var out []Violation
	report := func(file string, location []string, format string, args ...any) {
		out = append(out, Violation{File: file, Location: strings.Join(location, " > "), Message: fmt.Sprintf(format, args...)})
	}

	serviceSource := make(map[int]string)
	var services []schema.ServiceDefinition
	schemaSource := make(map[string]string)
	var schemas []schema.FormSchema

	err := fs.WalkDir(fsys, ".", func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() || !isCatalogFile(path) {
			return nil
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			report(path, nil, "%v", err)
			return nil
		}
		doc, err := parseDocument(data, path)
		if err != nil {
			report(path, nil, "%s", strings.TrimPrefix(err.Error(), "catalog: "))
			return nil
		}
		for i, def := range doc.Services {
			loc := []string{"services", strconv.Itoa(i)}
			switch {
			case def.ID <= 0:
				report(path, loc, "service %q has no positive id", def.Name)
				continue
			case serviceSource[def.ID] != "":
				report(path, loc, "duplicate service %d, first declared in %s", def.ID, serviceSource[def.ID])
				continue
			}
			if strings.TrimSpace(def.Collection) == "" {
				report(path, loc, "service %d has no collection", def.ID)
			}
			serviceSource[def.ID] = path
			services = append(services, def)
		}
		for i, s := range doc.Schemas {
			id := strings.TrimSpace(s.ID)
			loc := []string{"schemas", strconv.Itoa(i)}
			switch {
			case id == "":
				report(path, loc, "schema has no id")
				continue
			case schemaSource[id] != "":
				report(path, loc, "duplicate schema %q, first declared in %s", id, schemaSource[id])
				continue
			}
			schemaSource[id] = path
			schemas = append(schemas, s)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: lint: %w", err)
	}

	compiled := make(map[string]bool, len(schemas))
	for _, s := range schemas {
		loc := []string{"schema " + s.ID}
		c, err := schema.Compile(s, opts...)
		if err != nil {
			report(schemaSource[s.ID], loc, "%v", err)
			continue
		}
		compiled[s.ID] = true
		for _, field := range c.Fields() {
			if submission.IsReserved(field.Key) {
				report(schemaSource[s.ID], append(loc, "field "+field.Key), "collides with a reserved part")
			}
		}
	}

	referenced := make(map[string]bool)
	for _, def := range services {
		referenced[def.SchemaRef] = true
		if _, declared := schemaSource[def.SchemaRef]; !declared {
			report(serviceSource[def.ID], []string{"service " + strconv.Itoa(def.ID)}, "references unknown schema %q", def.SchemaRef)
		}
	}
	for _, s := range schemas {
		if !referenced[s.ID] && compiled[s.ID] {
			report(schemaSource[s.ID], []string{"schema " + s.ID}, "not referenced by any service")
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		if out[i].Location != out[j].Location {
			return out[i].Location < out[j].Location
		}
		return out[i].Message < out[j].Message
	})
	return out, nil
}

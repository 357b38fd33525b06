package submission

import (
	"sort"
	"strconv"
	"strings"

	"github.com/goliatone/go-formflow/pkg/schema"
)

// Reserved multipart part names sent with every submission.
const (
	PartCollection = "collectionName"
	PartFormID     = "formId"
	PartIdentity   = "nextauth"
	PartServiceID  = "serviceId"
)

var reserved = map[string]struct{}{
	PartCollection: {},
	PartFormID:     {},
	PartIdentity:   {},
	PartServiceID:  {},
}

// IsReserved reports whether name collides with a reserved part.
func IsReserved(name string) bool {
	_, ok := reserved[strings.TrimSpace(name)]
	return ok
}

// HiddenField is a name/value pair emitted alongside the schema fields.
type HiddenField struct {
	Name  string
	Value string
}

// ReservedFields returns the routing parts for def and identity in name
// order. HTML renderers emit these as hidden inputs; the identity part is
// skipped when identity is blank.
func ReservedFields(def schema.ServiceDefinition, identity string) []HiddenField {
	fields := map[string]string{
		PartCollection: def.Collection,
		PartFormID:     def.FormID(),
		PartServiceID:  strconv.Itoa(def.ID),
	}
	if identity = strings.TrimSpace(identity); identity != "" {
		fields[PartIdentity] = identity
	}
	return sortedHiddenFields(fields)
}

func sortedHiddenFields(fields map[string]string) []HiddenField {
	names := make([]string, 0, len(fields))
	for name := range fields {
		if strings.TrimSpace(name) != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]HiddenField, 0, len(names))
	for _, name := range names {
		out = append(out, HiddenField{Name: name, Value: fields[name]})
	}
	return out
}

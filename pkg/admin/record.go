// Package admin reads and corrects stored submissions through the gateway's
// admin endpoints.
package admin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-formflow/pkg/submission"
)

const (
	keyID          = "_id"
	keySubmittedAt = "submittedAt"
	keyCreatedAt   = "createdAt"
	keyFileURLs    = "fileUrls"
)

// Record is one stored submission. Fields holds every user-supplied value;
// the reserved parts are lifted into their own fields.
type Record struct {
	ID          string
	FormID      string
	Collection  string
	ServiceID   string
	Owner       string
	SubmittedAt time.Time
	FileURLs    map[string]string
	Fields      map[string]any

	// source keeps the stored encoding of the lifted keys so a full-record
	// replace writes unchanged values back in their original shape.
	source  map[string]json.RawMessage
	timeKey string
}

// UnmarshalJSON accepts both plain and extended JSON ids and dates
// (`{"$oid": ...}`, `{"$date": ...}`).
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("admin: decode record: %w", err)
	}
	out := Record{Fields: make(map[string]any), source: make(map[string]json.RawMessage)}
	for key, value := range raw {
		switch key {
		case keyID:
			out.ID = decodeID(value)
		case keySubmittedAt, keyCreatedAt:
			ts, err := decodeTime(value)
			if err != nil {
				return fmt.Errorf("admin: record %s: %w", key, err)
			}
			if out.timeKey == "" || key == keySubmittedAt {
				out.SubmittedAt = ts
				out.timeKey = key
			}
		case keyFileURLs:
			if err := json.Unmarshal(value, &out.FileURLs); err != nil {
				return fmt.Errorf("admin: record fileUrls: %w", err)
			}
		case submission.PartIdentity:
			_ = json.Unmarshal(value, &out.Owner)
		case submission.PartFormID:
			_ = json.Unmarshal(value, &out.FormID)
		case submission.PartCollection:
			_ = json.Unmarshal(value, &out.Collection)
		case submission.PartServiceID:
			out.ServiceID = decodeID(value)
		default:
			var v any
			if err := json.Unmarshal(value, &v); err != nil {
				return fmt.Errorf("admin: record field %s: %w", key, err)
			}
			out.Fields[key] = v
			continue
		}
		out.source[key] = value
	}
	*r = out
	return nil
}

// MarshalJSON writes the record back in the shape the gateway stores. Ids,
// service ids and timestamps that were not changed keep their stored
// encoding and key.
func (r Record) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(r.Fields)+8)
	for key, value := range r.Fields {
		doc[key] = value
	}
	if r.ID != "" {
		doc[keyID] = r.keepID(keyID, r.ID, "$oid")
	}
	timeKey := r.timeKey
	if timeKey == "" {
		timeKey = keySubmittedAt
	}
	for _, key := range []string{keySubmittedAt, keyCreatedAt} {
		if raw, ok := r.source[key]; ok && key != timeKey {
			doc[key] = raw
		}
	}
	if !r.SubmittedAt.IsZero() {
		doc[timeKey] = r.keepTime(timeKey)
	}
	if len(r.FileURLs) > 0 {
		doc[keyFileURLs] = r.FileURLs
	}
	if r.Owner != "" {
		doc[submission.PartIdentity] = r.Owner
	}
	if r.FormID != "" {
		doc[submission.PartFormID] = r.FormID
	}
	if r.Collection != "" {
		doc[submission.PartCollection] = r.Collection
	}
	if r.ServiceID != "" {
		doc[submission.PartServiceID] = r.keepID(submission.PartServiceID, r.ServiceID, "$oid")
	}
	return json.Marshal(doc)
}

// keepID returns the stored encoding of key when it still decodes to id, an
// extended JSON wrapper when the stored value used one, or id itself.
func (r Record) keepID(key, id, wrapper string) any {
	raw, ok := r.source[key]
	if !ok {
		return id
	}
	if decodeID(raw) == id {
		return raw
	}
	if isObject(raw) {
		return map[string]string{wrapper: id}
	}
	return id
}

func (r Record) keepTime(key string) any {
	formatted := r.SubmittedAt.UTC().Format(time.RFC3339Nano)
	raw, ok := r.source[key]
	if !ok {
		return formatted
	}
	if ts, err := decodeTime(raw); err == nil && ts.Equal(r.SubmittedAt) {
		return raw
	}
	if isObject(raw) {
		return map[string]string{"$date": formatted}
	}
	return formatted
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// FieldKeys lists the user-supplied keys in lexical order.
func (r Record) FieldKeys() []string {
	keys := make([]string, 0, len(r.Fields))
	for key := range r.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func decodeID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	var ext struct {
		OID string `json:"$oid"`
	}
	if err := json.Unmarshal(raw, &ext); err == nil {
		return ext.OID
	}
	return ""
}

var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func decodeTime(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseTime(s)
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	var ext struct {
		Date json.RawMessage `json:"$date"`
	}
	if err := json.Unmarshal(raw, &ext); err == nil && len(ext.Date) > 0 {
		return decodeTime(ext.Date)
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %s", raw)
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", s)
}

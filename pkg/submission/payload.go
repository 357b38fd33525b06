// Package submission turns a validated form state into the multipart payload
// accepted by the gateway's generic submission endpoint.
package submission

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-formflow/pkg/formstate"
	"github.com/goliatone/go-formflow/pkg/schema"
)

// ErrAuthenticationRequired is returned when no user identity is available.
var ErrAuthenticationRequired = errors.New("submission: authentication required")

// Attachment is one binary part. Part is the multipart field name, indexed
// ("documents[0]") for multi-file fields.
type Attachment struct {
	Part string
	File formstate.FileRef
}

// Payload is the fully serialised submission for one service.
type Payload struct {
	ServiceID    int
	Collection   string
	FormID       string
	UserIdentity string
	Fields       map[string]string
	Attachments  []Attachment
}

// BuildPayload serialises the visible, answered fields of state. Arrays are
// always sent as indexed parts (`key[0]`, `key[1]`).
func BuildPayload(def schema.ServiceDefinition, compiled *schema.Compiled, identity string, state formstate.State) (Payload, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return Payload{}, ErrAuthenticationRequired
	}
	if compiled == nil {
		return Payload{}, errors.New("submission: compiled schema is required")
	}

	payload := Payload{
		ServiceID:    def.ID,
		Collection:   def.Collection,
		FormID:       def.FormID(),
		UserIdentity: identity,
		Fields:       make(map[string]string),
	}

	visible := compiled.VisibleSet(state)
	for _, field := range compiled.Fields() {
		if IsReserved(field.Key) {
			return Payload{}, fmt.Errorf("submission: field %q collides with a reserved part", field.Key)
		}
		if !visible[field.Key] {
			continue
		}
		value, ok := state.Get(field.Key)
		if !ok || formstate.IsEmpty(value) {
			continue
		}
		if err := payload.add(field, value); err != nil {
			return Payload{}, err
		}
	}
	return payload, nil
}

func (p *Payload) add(field schema.FieldSpec, value any) error {
	key := field.Key
	switch typed := value.(type) {
	case string:
		p.Fields[key] = typed
	case float64:
		p.Fields[key] = strconv.FormatFloat(typed, 'f', -1, 64)
	case bool:
		p.Fields[key] = strconv.FormatBool(typed)
	case time.Time:
		if field.Kind == schema.KindDate {
			p.Fields[key] = typed.Format(formstate.DateLayout)
		} else {
			p.Fields[key] = typed.Format(time.RFC3339)
		}
	case []string:
		i := 0
		for _, item := range typed {
			if strings.TrimSpace(item) == "" {
				continue
			}
			p.Fields[indexed(key, i)] = item
			i++
		}
	case formstate.FileRef:
		p.Attachments = append(p.Attachments, Attachment{Part: key, File: typed})
	case []formstate.FileRef:
		i := 0
		for _, file := range typed {
			if file.IsZero() {
				continue
			}
			p.Attachments = append(p.Attachments, Attachment{Part: indexed(key, i), File: file})
			i++
		}
	default:
		return fmt.Errorf("submission: field %q has unsupported value type %T", key, value)
	}
	return nil
}

func indexed(key string, i int) string {
	return key + "[" + strconv.Itoa(i) + "]"
}

// Encode writes the payload as multipart/form-data. Reserved parts come
// first, then fields and attachments in name order.
func (p Payload) Encode() (contentType string, body *bytes.Buffer, err error) {
	body = &bytes.Buffer{}
	w := multipart.NewWriter(body)

	reservedParts := []HiddenField{
		{Name: PartCollection, Value: p.Collection},
		{Name: PartFormID, Value: p.FormID},
		{Name: PartIdentity, Value: p.UserIdentity},
		{Name: PartServiceID, Value: strconv.Itoa(p.ServiceID)},
	}
	for _, part := range reservedParts {
		if err := w.WriteField(part.Name, part.Value); err != nil {
			return "", nil, fmt.Errorf("submission: write %s: %w", part.Name, err)
		}
	}

	names := make([]string, 0, len(p.Fields))
	for name := range p.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := w.WriteField(name, p.Fields[name]); err != nil {
			return "", nil, fmt.Errorf("submission: write %s: %w", name, err)
		}
	}

	attachments := append([]Attachment(nil), p.Attachments...)
	sort.SliceStable(attachments, func(i, j int) bool { return attachments[i].Part < attachments[j].Part })
	for _, att := range attachments {
		if err := writeFile(w, att); err != nil {
			return "", nil, err
		}
	}

	if err := w.Close(); err != nil {
		return "", nil, fmt.Errorf("submission: close multipart: %w", err)
	}
	return w.FormDataContentType(), body, nil
}

func writeFile(w *multipart.Writer, att Attachment) error {
	rc, err := att.File.Open()
	if err != nil {
		return fmt.Errorf("submission: open %s for %s: %w", att.File.Name, att.Part, err)
	}
	defer func() {
		_ = rc.Close()
	}()

	header := make(textproto.MIMEHeader)
	header["Content-Disposition"] = []string{
		fmt.Sprintf(`form-data; name="%s"; filename="%s"`, escapeQuotes(att.Part), escapeQuotes(att.File.Name)),
	}
	contentType := att.File.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header["Content-Type"] = []string{contentType}

	part, err := w.CreatePart(header)
	if err != nil {
		return fmt.Errorf("submission: create part %s: %w", att.Part, err)
	}
	if _, err := io.Copy(part, rc); err != nil {
		return fmt.Errorf("submission: copy %s: %w", att.File.Name, err)
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

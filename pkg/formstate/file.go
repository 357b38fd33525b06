package formstate

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoContent is returned by FileRef.Open when the reference carries no
// content source.
var ErrNoContent = errors.New("formstate: file has no content")

// FileRef points at an attachment chosen for a file field. The content is
// opened lazily so large uploads are streamed straight into the submission
// payload.
type FileRef struct {
	Name        string
	ContentType string
	Size        int64

	open func() (io.ReadCloser, error)
}

// Open returns a reader over the file content. Callers close it.
func (f FileRef) Open() (io.ReadCloser, error) {
	if f.open == nil {
		return nil, ErrNoContent
	}
	return f.open()
}

// IsZero reports whether no file was attached.
func (f FileRef) IsZero() bool {
	return strings.TrimSpace(f.Name) == "" && f.open == nil
}

func (f FileRef) String() string {
	return f.Name
}

// sameFile compares metadata only; the opener is not comparable.
func (f FileRef) sameFile(other FileRef) bool {
	return f.Name == other.Name && f.ContentType == other.ContentType && f.Size == other.Size
}

// FileFromBytes wraps in-memory content.
func FileFromBytes(name, contentType string, data []byte) FileRef {
	content := append([]byte(nil), data...)
	if contentType == "" {
		contentType = contentTypeFor(name)
	}
	return FileRef{
		Name:        filepath.Base(name),
		ContentType: contentType,
		Size:        int64(len(content)),
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(content)), nil
		},
	}
}

// FileFromPath references a file on disk. The file must exist and be regular.
func FileFromPath(path string) (FileRef, error) {
	clean := filepath.Clean(strings.TrimSpace(path))
	info, err := os.Stat(clean)
	if err != nil {
		return FileRef{}, fmt.Errorf("formstate: stat %s: %w", clean, err)
	}
	if !info.Mode().IsRegular() {
		return FileRef{}, fmt.Errorf("formstate: %s is not a regular file", clean)
	}
	return FileRef{
		Name:        info.Name(),
		ContentType: contentTypeFor(clean),
		Size:        info.Size(),
		open: func() (io.ReadCloser, error) {
			return os.Open(clean)
		},
	}, nil
}

// FileFromMultipart references an upload received by an HTTP handler.
func FileFromMultipart(fh *multipart.FileHeader) FileRef {
	if fh == nil {
		return FileRef{}
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = contentTypeFor(fh.Filename)
	}
	return FileRef{
		Name:        filepath.Base(fh.Filename),
		ContentType: contentType,
		Size:        fh.Size,
		open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

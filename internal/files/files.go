// Package files manages the locally stored attachment bytes (scanned
// business cards) referenced by outbox items. The sync engine only consumes
// the [Store] interface; the capture flow writes through [Dir.Put].
package files

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// Store is the attachment byte store consumed by the sync runner. A local
// URI is opaque outside this package.
type Store interface {
	// Exists reports whether the bytes behind uri are still present.
	Exists(uri string) bool

	// Open returns a reader over the bytes behind uri.
	Open(uri string) (io.ReadCloser, error)

	// Size returns the byte length of the stored file.
	Size(uri string) (int64, error)

	// Delete removes the bytes behind uri. Deleting an absent uri is a
	// no-op.
	Delete(uri string) error
}

// Dir is a directory-backed attachment store rooted under the agent's data
// directory.
type Dir struct {
	root string
}

// NewDir creates (if needed) and returns a Dir rooted at root.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("creating attachment directory: %w", err)
	}
	return &Dir{root: root}, nil
}

// Put copies the bytes from r into managed storage and returns the local URI
// and the sniffed MIME type. The URI embeds a fresh UUID so capture
// filenames never collide.
func (d *Dir) Put(r io.Reader, filename string) (uri, mimeType string, err error) {
	name := uuid.New().String() + filepath.Ext(filename)
	path := filepath.Join(d.root, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", "", fmt.Errorf("creating attachment file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", "", fmt.Errorf("writing attachment bytes: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", "", fmt.Errorf("closing attachment file: %w", err)
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		// Undetectable bytes still upload; the server decides what to do
		// with an octet-stream card scan.
		return name, "application/octet-stream", nil
	}
	return name, mt.String(), nil
}

// Exists reports whether the file behind uri is still on disk.
func (d *Dir) Exists(uri string) bool {
	_, err := os.Stat(d.path(uri))
	return err == nil
}

// Open returns a reader over the stored file.
func (d *Dir) Open(uri string) (io.ReadCloser, error) {
	f, err := os.Open(d.path(uri))
	if err != nil {
		return nil, fmt.Errorf("opening attachment %q: %w", uri, err)
	}
	return f, nil
}

// Size returns the byte length of the stored file.
func (d *Dir) Size(uri string) (int64, error) {
	info, err := os.Stat(d.path(uri))
	if err != nil {
		return 0, fmt.Errorf("stat attachment %q: %w", uri, err)
	}
	return info.Size(), nil
}

// Delete removes the stored file. Absent files are not an error — delivery
// cleanup is best-effort and may run twice.
func (d *Dir) Delete(uri string) error {
	err := os.Remove(d.path(uri))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting attachment %q: %w", uri, err)
	}
	return nil
}

// path resolves a local URI inside the managed root. Base-name cleaning keeps
// a mangled URI from escaping the directory.
func (d *Dir) path(uri string) string {
	return filepath.Join(d.root, filepath.Base(uri))
}

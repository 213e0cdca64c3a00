// Package staging manages the local filesystem staging area used as a
// side-channel for bulk import and export. It sits outside the primary
// blob/metadata stores and is never on the request hot path.
package staging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Subdirectories created under the staging root.
const (
	ImportDir         = "import"
	OutboxDir         = "outbox"
	BillingDir        = "billing"
	MedicalRecordsDir = "medical_records"
)

// Area is a staging root with its fixed subdirectories. Construct with New,
// which creates any directories that are missing.
type Area struct {
	root string
}

// New initializes the staging area rooted at dir, creating the root and the
// import/outbox/billing/medical_records folders if they do not exist.
func New(dir string) (*Area, error) {
	if dir == "" {
		return nil, fmt.Errorf("staging root dir is required")
	}
	for _, sub := range []string{ImportDir, OutboxDir, BillingDir, MedicalRecordsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create staging dir %s: %w", sub, err)
		}
	}
	return &Area{root: dir}, nil
}

// Root returns the staging root directory.
func (a *Area) Root() string {
	return a.root
}

// Path returns the absolute path of a staging subdirectory.
func (a *Area) Path(sub string) string {
	return filepath.Join(a.root, sub)
}

// ListFiles returns the names of regular files directly inside the given
// staging subdirectory, ignoring nested directories.
func (a *Area) ListFiles(sub string) ([]string, error) {
	entries, err := os.ReadDir(a.Path(sub))
	if err != nil {
		return nil, fmt.Errorf("list staging %s: %w", sub, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Remove deletes a file from a staging subdirectory.
func (a *Area) Remove(sub, name string) error {
	return os.Remove(filepath.Join(a.Path(sub), name))
}

// UniquePath returns a path under dir for the desired filename that does not
// collide with an existing file. On collision it appends an incrementing
// numeric suffix before the extension: report.pdf, report_1.pdf, report_2.pdf.
func UniquePath(dir, filename string) string {
	candidate := filepath.Join(dir, filename)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}

	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	for i := 1; ; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// WriteUnique streams r into dir under the desired filename, de-duplicating
// the target name with UniquePath. It returns the path actually written.
func WriteUnique(dir, filename string, r io.Reader) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	// UniquePath then O_EXCL is check-then-create; a concurrent writer can
	// claim the candidate in between, so retry with a fresh candidate until
	// the exclusive create wins.
	var f *os.File
	var path string
	for {
		path = UniquePath(dir, filename)
		var err error
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			break
		}
		if os.IsExist(err) {
			continue
		}
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// Package blob stores uploaded documents and derived artifacts on the local
// filesystem and hands out public URLs for them.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"paperflow/internal/apperr"
	"paperflow/internal/util"

	"github.com/google/uuid"
)

// Store is the storage collaborator used by intake and the local engines.
type Store interface {
	Upload(ctx context.Context, name string, r io.Reader, folder string) (string, error)
	Open(ctx context.Context, locator string) (io.ReadCloser, error)
	URL(locator string) string
	// Locator resolves a URL produced by URL back to its locator.
	Locator(rawURL string) (string, bool)
}

// FilesPrefix is the HTTP path under which Local blobs are served.
const FilesPrefix = "/files/"

type Local struct {
	root    string
	baseURL string
}

var _ Store = (*Local)(nil)

func NewLocal(root, publicBaseURL string) (*Local, error) {
	if err := util.EnsureDir(root); err != nil {
		return nil, err
	}
	return &Local{root: root, baseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

// Upload writes r under folder with a random key and returns the locator
// "<folder>/<uuid><ext>".
func (s *Local) Upload(ctx context.Context, name string, r io.Reader, folder string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	folder = strings.Trim(path.Clean("/"+folder), "/")
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	locator := path.Join(folder, uuid.NewString()+ext)
	if _, err := util.WriteAtomic(s.path(locator), r); err != nil {
		return "", fmt.Errorf("store blob %s: %w", locator, err)
	}
	return locator, nil
}

func (s *Local) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(locator))
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperr.NotFound("blob", locator)
	}
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", locator, err)
	}
	return f, nil
}

// Handler serves stored blobs; mount it under FilesPrefix.
func (s *Local) Handler() http.Handler {
	return http.StripPrefix(FilesPrefix, http.FileServer(http.Dir(s.root)))
}

// Path returns the filesystem path of locator. Locators are cleaned so they
// cannot escape the root.
func (s *Local) Path(locator string) string {
	return s.path(locator)
}

func (s *Local) path(locator string) string {
	clean := strings.TrimPrefix(path.Clean("/"+locator), "/")
	return filepath.Join(s.root, filepath.FromSlash(clean))
}

func (s *Local) URL(locator string) string {
	return s.baseURL + FilesPrefix + locator
}

func (s *Local) Locator(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	loc, ok := strings.CutPrefix(u.Path, FilesPrefix)
	if !ok || loc == "" {
		return "", false
	}
	return loc, true
}

package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by a Source when a document does not exist.
var ErrNotFound = errors.New("document not found")

// maxDocumentSize bounds how much of a document is read.
const maxDocumentSize = 4 << 20

// Source fetches raw configuration documents by name.
type Source interface {
	Fetch(ctx context.Context, doc Document) ([]byte, error)
}

// DirSource reads documents from files in a directory.
type DirSource struct {
	Dir string
}

func (s DirSource) Fetch(ctx context.Context, doc Document) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.Dir, string(doc)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", doc, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", doc, err)
	}
	return data, nil
}

// HTTPSource fetches documents from BaseURL/<name>.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

func (s HTTPSource) Fetch(ctx context.Context, doc Document) ([]byte, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	url := strings.TrimSuffix(s.BaseURL, "/") + "/" + string(doc)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", doc, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", doc, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", doc, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: HTTP error, status %d", doc, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", doc, err)
	}
	return data, nil
}

// NewSource picks the source described by the settings: ListsURL wins
// over ListsDir.
func NewSource(s *Settings) Source {
	if s.ListsURL != "" {
		return HTTPSource{BaseURL: s.ListsURL}
	}
	return DirSource{Dir: s.ListsDir}
}

// Package manifest loads the build manifest that lists the application's
// static assets.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/pario-ai/edgeworker/pkg/models"
)

// ErrEmpty is returned for a manifest without assets.
var ErrEmpty = errors.New("manifest has no assets")

// DefaultExcludeSuffixes are never precached: source maps and scripts.
var DefaultExcludeSuffixes = []string{".map", ".js"}

// Load reads a manifest from a file path or an http(s) URL.
func Load(ctx context.Context, source string) (*models.Manifest, error) {
	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		data, err = fetch(ctx, source)
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes manifest JSON.
func Parse(data []byte) (*models.Manifest, error) {
	var m models.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Assets) == 0 {
		return nil, ErrEmpty
	}
	return &m, nil
}

func fetch(ctx context.Context, source string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", source, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// PrecacheList returns the assets that do not end in any of the excluded
// suffixes, preserving manifest order.
func PrecacheList(m *models.Manifest, exclude []string) []string {
	out := make([]string, 0, len(m.Assets))
	for _, u := range m.Assets {
		if hasAnySuffix(u, exclude) {
			continue
		}
		out = append(out, u)
	}
	return out
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

// AssetSet is an exact-match lookup over manifest asset paths.
type AssetSet map[string]struct{}

// NewAssetSet indexes the manifest assets.
func NewAssetSet(m *models.Manifest) AssetSet {
	set := make(AssetSet, len(m.Assets))
	for _, u := range m.Assets {
		set[u] = struct{}{}
	}
	return set
}

// Contains reports whether path is exactly a manifest asset.
func (s AssetSet) Contains(path string) bool {
	_, ok := s[path]
	return ok
}

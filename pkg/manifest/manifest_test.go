package manifest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/pario-ai/edgeworker/pkg/models"
)

const sample = `{"version":"abc123","assets":["/build/entry.client-X.js","/build/entry.client-X.js.map","/build/root-Y.css","/favicon.ico","/build/_assets/font-Z.woff2"]}`

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := os.WriteFile(path, []byte(sample), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := Load(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if m.Version != "abc123" || len(m.Assets) != 5 {
		t.Errorf("unexpected manifest: %+v", m)
	}
}

func TestLoadURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/build/manifest.json" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(sample))
	}))
	defer srv.Close()

	m, err := Load(context.Background(), srv.URL+"/build/manifest.json")
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Assets) != 5 {
		t.Errorf("expected 5 assets, got %d", len(m.Assets))
	}

	if _, err := Load(context.Background(), srv.URL+"/missing.json"); err == nil {
		t.Error("expected error for 404 manifest")
	}
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse([]byte(`{"assets":[]}`))
	if !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
}

func TestPrecacheListExcludesMapsAndScripts(t *testing.T) {
	m, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	got := PrecacheList(m, DefaultExcludeSuffixes)
	want := []string{"/build/root-Y.css", "/favicon.ico", "/build/_assets/font-Z.woff2"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
		}
	}
}

func TestAssetSet(t *testing.T) {
	set := NewAssetSet(&models.Manifest{Assets: []string{"/build/root.css"}})
	if !set.Contains("/build/root.css") {
		t.Error("expected exact match")
	}
	if set.Contains("/build/root.css/") || set.Contains("/build") {
		t.Error("expected no partial match")
	}
}

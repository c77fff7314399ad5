package router

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pario-ai/edgeworker/pkg/manifest"
	"github.com/pario-ai/edgeworker/pkg/models"
	"github.com/pario-ai/edgeworker/pkg/strategy"
)

type recorder struct {
	name  string
	calls int
}

func (h *recorder) HandleRequest(r *http.Request) (*http.Response, error) {
	h.calls++
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(h.name)),
	}, nil
}

func (h *recorder) Fetch(r *http.Request) (*http.Response, error) {
	return h.HandleRequest(r)
}

var assets = manifest.NewAssetSet(&models.Manifest{Assets: []string{
	"/build/root.css",
	"/favicon.ico",
	"/build/routes/index.data",
}})

func request(method, target string, headers map[string]string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestClassify(t *testing.T) {
	navigate := map[string]string{"Sec-Fetch-Mode": "navigate", "Sec-Fetch-Dest": "document"}
	tests := []struct {
		name string
		req  *http.Request
		want models.RequestKind
	}{
		{"navigation", request(http.MethodGet, "/posts", navigate), models.KindDocument},
		{"navigation by dest", request(http.MethodGet, "/posts", map[string]string{"Sec-Fetch-Dest": "document"}), models.KindDocument},
		{"html accept without fetch metadata", request(http.MethodGet, "/posts", map[string]string{"Accept": "text/html,application/xhtml+xml"}), models.KindDocument},
		{"html accept with cors mode", request(http.MethodGet, "/posts", map[string]string{"Accept": "text/html", "Sec-Fetch-Mode": "cors"}), models.KindOther},
		{"navigation wins over loader", request(http.MethodGet, "/posts?_data=routes/posts", navigate), models.KindDocument},
		{"navigation wins over asset", request(http.MethodGet, "/favicon.ico", navigate), models.KindDocument},
		{"post navigation", request(http.MethodPost, "/posts", navigate), models.KindOther},
		{"loader query", request(http.MethodGet, "/posts?_data=routes/posts", nil), models.KindLoader},
		{"empty loader query", request(http.MethodGet, "/posts?_data=", nil), models.KindOther},
		{"bare loader query", request(http.MethodGet, "/posts?_data", nil), models.KindOther},
		{"loader suffix", request(http.MethodGet, "/posts.data", nil), models.KindLoader},
		{"loader wins over asset", request(http.MethodGet, "/build/routes/index.data", nil), models.KindLoader},
		{"loader post", request(http.MethodPost, "/posts?_data=routes/posts", nil), models.KindOther},
		{"asset", request(http.MethodGet, "/build/root.css", nil), models.KindAsset},
		{"asset ignores query", request(http.MethodGet, "/build/root.css?v=1", nil), models.KindAsset},
		{"asset prefix is not asset", request(http.MethodGet, "/build/root.css.map", nil), models.KindOther},
		{"api", request(http.MethodGet, "/api/health", nil), models.KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.req, assets); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func newTestRouter() (*Router, *recorder, *recorder, *recorder, *recorder) {
	doc := &recorder{name: "document"}
	data := &recorder{name: "data"}
	asset := &recorder{name: "asset"}
	net := &recorder{name: "network"}
	return New(doc, data, asset, net, assets), doc, data, asset, net
}

func TestHandleDelegates(t *testing.T) {
	tests := []struct {
		name string
		req  *http.Request
		want string
	}{
		{"document", request(http.MethodGet, "/", map[string]string{"Sec-Fetch-Mode": "navigate"}), "document"},
		{"loader", request(http.MethodGet, "/?_data=root", nil), "data"},
		{"asset", request(http.MethodGet, "/build/root.css", nil), "asset"},
		{"other", request(http.MethodGet, "/api/x", nil), "network"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, doc, data, asset, net := newTestRouter()
			resp, _, err := rt.Handle(tt.req)
			if err != nil {
				t.Fatal(err)
			}
			body, _ := io.ReadAll(resp.Body)
			if string(body) != tt.want {
				t.Errorf("expected %s handler, got %s", tt.want, body)
			}
			total := doc.calls + data.calls + asset.calls + net.calls
			if total != 1 {
				t.Errorf("expected exactly one handler call, got %d", total)
			}
		})
	}
}

func TestPassthroughMarksBypass(t *testing.T) {
	rt, _, _, _, _ := newTestRouter()
	resp, kind, err := rt.Handle(request(http.MethodGet, "/api/x", nil))
	if err != nil {
		t.Fatal(err)
	}
	if kind != models.KindOther {
		t.Errorf("expected other, got %s", kind)
	}
	if resp.Header.Get(strategy.HeaderCache) != strategy.CacheBypass {
		t.Error("expected bypass marker")
	}
}

package router

import (
	"net/http"
	"strings"

	"github.com/pario-ai/edgeworker/pkg/manifest"
	"github.com/pario-ai/edgeworker/pkg/models"
	"github.com/pario-ai/edgeworker/pkg/network"
	"github.com/pario-ai/edgeworker/pkg/strategy"
)

// Handler answers an intercepted request.
type Handler interface {
	HandleRequest(r *http.Request) (*http.Response, error)
}

// IsDocumentRequest reports whether r is a GET page navigation. Fetch
// metadata headers decide when present; otherwise an Accept of text/html
// does.
func IsDocumentRequest(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	mode := r.Header.Get("Sec-Fetch-Mode")
	dest := r.Header.Get("Sec-Fetch-Dest")
	if mode != "" || dest != "" {
		return mode == "navigate" || dest == "document"
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// IsLoaderRequest reports whether r is a GET for route loader data: either
// a non-empty "_data" query parameter or a ".data" path suffix.
func IsLoaderRequest(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if r.URL.Query().Get("_data") != "" {
		return true
	}
	return strings.HasSuffix(r.URL.Path, ".data")
}

// Classify returns the routing class of r. The checks run in order and the
// first match wins: document, loader, asset, other.
func Classify(r *http.Request, assets manifest.AssetSet) models.RequestKind {
	switch {
	case IsDocumentRequest(r):
		return models.KindDocument
	case IsLoaderRequest(r):
		return models.KindLoader
	case assets.Contains(r.URL.Path):
		return models.KindAsset
	default:
		return models.KindOther
	}
}

// Router dispatches requests to the document, data and asset caches, and
// sends everything else to the network.
type Router struct {
	document Handler
	data     Handler
	asset    Handler
	network  network.Fetcher
	assets   manifest.AssetSet
}

// New creates a Router.
func New(document, data, asset Handler, net network.Fetcher, assets manifest.AssetSet) *Router {
	return &Router{
		document: document,
		data:     data,
		asset:    asset,
		network:  net,
		assets:   assets,
	}
}

// Route returns the class of r and the handler that serves it.
func (rt *Router) Route(r *http.Request) (models.RequestKind, Handler) {
	kind := Classify(r, rt.assets)
	switch kind {
	case models.KindDocument:
		return kind, rt.document
	case models.KindLoader:
		return kind, rt.data
	case models.KindAsset:
		return kind, rt.asset
	default:
		return kind, Passthrough(rt.network)
	}
}

// Handle routes and serves r.
func (rt *Router) Handle(r *http.Request) (*http.Response, models.RequestKind, error) {
	kind, h := rt.Route(r)
	resp, err := h.HandleRequest(r)
	return resp, kind, err
}

// Passthrough returns a Handler that fetches from the network without
// touching any cache.
func Passthrough(f network.Fetcher) Handler {
	return passthrough{f}
}

type passthrough struct {
	f network.Fetcher
}

func (p passthrough) HandleRequest(r *http.Request) (*http.Response, error) {
	resp, err := p.f.Fetch(r)
	if err != nil {
		return nil, err
	}
	resp.Header.Set(strategy.HeaderCache, strategy.CacheBypass)
	return resp, nil
}

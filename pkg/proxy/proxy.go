package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pario-ai/edgeworker/pkg/config"
	"github.com/pario-ai/edgeworker/pkg/models"
	"github.com/pario-ai/edgeworker/pkg/network"
	"github.com/pario-ai/edgeworker/pkg/router"
	"github.com/pario-ai/edgeworker/pkg/strategy"
	"github.com/pario-ai/edgeworker/pkg/worker"
)

// Control endpoints served by the proxy itself.
const (
	MessagePath = "/__edgeworker/message"
	StatusPath  = "/__edgeworker/status"
)

// HeaderRoute reports the routing class of a response.
const HeaderRoute = "X-Edgeworker-Route"

// ClientCookie identifies a browser page across requests.
const ClientCookie = "__edgeworker_client"

// Server is the edgeworker front proxy.
type Server struct {
	cfg     *config.Config
	reg     *worker.Registration
	network network.Fetcher
	logger  *zap.Logger
	mux     *http.ServeMux
}

// New creates a proxy Server wired with the registration and origin.
func New(cfg *config.Config, reg *worker.Registration, net network.Fetcher, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		reg:     reg,
		network: net,
		logger:  logger,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc(MessagePath, s.handleMessage)
	s.mux.HandleFunc(StatusPath, s.handleStatus)
	s.mux.HandleFunc("/", s.handleFetch)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the proxy server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("edgeworker proxy listening", zap.String("addr", s.cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

// handleFetch is the fetch event: resolve the controlling worker, let it
// answer, and relay the response.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	clientID := clientFromCookie(r)

	var controller *worker.Worker
	if router.IsDocumentRequest(r) {
		if clientID == "" {
			clientID = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     ClientCookie,
				Value:    clientID,
				Path:     "/",
				MaxAge:   int((365 * 24 * time.Hour).Seconds()),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		controller = s.reg.Navigate(clientID)
	} else if clientID != "" {
		controller = s.reg.Controller(clientID)
	}

	var (
		resp *http.Response
		kind = models.KindOther
		err  error
	)
	if controller == nil {
		resp, err = router.Passthrough(s.network).HandleRequest(r)
	} else {
		resp, kind, err = controller.Fetch(r.WithContext(strategy.WithClient(r.Context(), clientID)))
	}
	if err != nil {
		s.logger.Warn("fetch failed",
			zap.String("path", r.URL.Path),
			zap.String("route", kind.String()),
			zap.Error(err))
		writeJSONError(w, http.StatusBadGateway, "upstream fetch failed")
		return
	}
	defer resp.Body.Close()

	for k, vals := range network.StripHopByHop(resp.Header) {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set(HeaderRoute, kind.String())
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.Debug("copy response", zap.String("path", r.URL.Path), zap.Error(err))
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var msg models.Message
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&msg); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid message body")
		return
	}
	if msg.Type == "" {
		writeJSONError(w, http.StatusBadRequest, "message type is required")
		return
	}

	// Navigation messages warm the sending client's partition.
	ctx := strategy.WithClient(r.Context(), clientFromCookie(r))
	err := s.reg.PostMessage(ctx, msg)
	switch {
	case errors.Is(err, worker.ErrNotActive):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.logger.Error("message failed", zap.String("type", msg.Type), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	json.NewEncoder(w).Encode(s.reg.Status())
}

func clientFromCookie(r *http.Request) string {
	c, err := r.Cookie(ClientCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"edgeworker_error","code":%d}}`, message, code)
}

package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/pario-ai/edgeworker/pkg/models"
	"github.com/pario-ai/edgeworker/pkg/network"
	"github.com/pario-ai/edgeworker/pkg/strategy"
)

// MessageHandler reacts to control messages. Handlers ignore message types
// they do not understand.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg models.Message) error
}

// NavigationHandler keeps the document cache warm for client-side
// navigations. On a navigation the document at the new location is fetched
// into the cache; on mount only when it is not cached yet. With a
// partitioned cache the document lands in the partition of the client
// carried by the context, and messages without a client are ignored.
type NavigationHandler struct {
	cache  *strategy.Cache
	logger *zap.Logger
}

// NewNavigationHandler returns a NavigationHandler writing to cache.
func NewNavigationHandler(cache *strategy.Cache, logger *zap.Logger) *NavigationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NavigationHandler{cache: cache, logger: logger}
}

// HandleMessage implements MessageHandler.
func (h *NavigationHandler) HandleMessage(ctx context.Context, msg models.Message) error {
	if msg.Type != models.MessageNavigation {
		return nil
	}
	var p models.NavigationPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return fmt.Errorf("navigation payload: %w", err)
	}
	if p.Location.Pathname == "" {
		return nil
	}
	documentURL := p.Location.Pathname + p.Location.Search
	if h.cache.Partitioned() && strategy.ClientFrom(ctx) == "" {
		h.logger.Debug("navigation message without client", zap.String("url", documentURL))
		return nil
	}

	if p.IsMount && h.cache.Has(ctx, documentURL) {
		return nil
	}

	req, err := network.NewGet(ctx, documentURL)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/html")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Dest", "document")

	h.logger.Debug("caching document", zap.String("url", documentURL))
	if err := h.cache.Add(req); err != nil {
		return fmt.Errorf("cache document %s: %w", documentURL, err)
	}
	return nil
}

// SkipWaitHandler activates the waiting worker when a page asks for it.
type SkipWaitHandler struct {
	reg *Registration
}

// NewSkipWaitHandler returns a SkipWaitHandler acting on reg.
func NewSkipWaitHandler(reg *Registration) *SkipWaitHandler {
	return &SkipWaitHandler{reg: reg}
}

// HandleMessage implements MessageHandler.
func (h *SkipWaitHandler) HandleMessage(ctx context.Context, msg models.Message) error {
	if msg.Type != models.MessageSkipWaiting {
		return nil
	}
	return h.reg.SkipWaiting(ctx)
}

// Package proxy implements the HTTP handlers that forward caller requests to the
// LLM provider: the memory-augmented chat-completion route and the generic passthrough.
package proxy

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/memoryllm/memproxy/internal/augment"
	"github.com/memoryllm/memproxy/internal/config"
	apperrors "github.com/memoryllm/memproxy/internal/errors"
	"github.com/memoryllm/memproxy/internal/logging"
	log "github.com/sirupsen/logrus"
)

// Doer sends an HTTP request to the provider.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Augmenter rewrites a chat-completion body before it is forwarded.
type Augmenter interface {
	Apply(ctx context.Context, body []byte) ([]byte, augment.State)
}

type snapshot struct {
	cfg       *config.Config
	client    Doer
	augmenter Augmenter
}

// Handler serves the proxied routes. Its dependencies can be swapped at runtime with Update.
type Handler struct {
	state atomic.Pointer[snapshot]
}

// NewHandler returns a handler forwarding to the provider configured in cfg through client.
func NewHandler(cfg *config.Config, client Doer, augmenter Augmenter) *Handler {
	h := &Handler{}
	h.Update(cfg, client, augmenter)
	return h
}

// Update atomically replaces the configuration and collaborators used by new requests.
// In-flight requests keep the snapshot they started with.
func (h *Handler) Update(cfg *config.Config, client Doer, augmenter Augmenter) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if client == nil {
		client = http.DefaultClient
	}
	if augmenter == nil {
		augmenter = augment.New(nil, augment.WithEnabled(false))
	}
	h.state.Store(&snapshot{cfg: cfg, client: client, augmenter: augmenter})
}

func (h *Handler) snapshot() *snapshot {
	return h.state.Load()
}

// writeError writes err to the caller, using the verbatim upstream payload when it carries one.
func writeError(c *gin.Context, err error) {
	appErr := apperrors.From(err)
	if appErr == nil {
		return
	}
	entry := log.WithFields(log.Fields{
		"status":     appErr.Status(),
		"code":       appErr.Code,
		"request_id": logging.GetGinRequestID(c),
	})
	if appErr.Err != nil {
		entry = entry.WithError(appErr.Err)
	}
	if appErr.Status() >= http.StatusInternalServerError {
		entry.Error(appErr.Message)
	} else {
		entry.Warn(appErr.Message)
	}

	if c.Writer.Written() {
		return
	}
	payload, contentType := appErr.Payload()
	c.Data(appErr.Status(), contentType, payload)
	c.Abort()
}

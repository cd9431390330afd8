package proxy

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	apperrors "github.com/memoryllm/memproxy/internal/errors"
	"github.com/memoryllm/memproxy/internal/logging"
	log "github.com/sirupsen/logrus"
)

// Passthrough forwards any request not claimed by another route to the provider unchanged.
func (h *Handler) Passthrough(c *gin.Context) {
	if c.Request.Method == http.MethodPost && strings.Trim(c.Request.URL.Path, "/") == "v1/chat/completions" {
		h.ChatCompletions(c)
		return
	}

	st := h.snapshot()
	target := PassthroughTargetURL(st.cfg.Upstream.ResolvedBaseURL(), c.Request.URL.Path, c.Request.URL.RawQuery)
	log.Infof("generic proxying %s request to: %s", c.Request.Method, target)
	c.Set(logging.MemoryStateKey, "bypass")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, apperrors.ProxyFailure(fmt.Errorf("read request body: %w", err)))
		return
	}

	req, err := newUpstreamRequest(c.Request.Context(), c.Request.Method, target, FilterRequestHeaders(c.Request.Header), body)
	if err != nil {
		writeError(c, apperrors.ProxyFailure(err))
		return
	}
	resp, err := st.client.Do(req)
	if err != nil {
		writeError(c, apperrors.ProxyFailure(err))
		return
	}
	defer closeBody(resp)

	CopyResponseHeaders(c.Writer.Header(), resp.Header)
	c.Status(resp.StatusCode)
	c.Writer.WriteHeaderNow()

	if c.Request.Method == http.MethodHead {
		return
	}
	if _, errRelay := relay(c.Writer, resp.Body, st.cfg.Streaming.GetChunkSize()); errRelay != nil && c.Request.Context().Err() == nil {
		log.WithError(errRelay).Error("streaming error")
	}
}

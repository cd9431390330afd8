package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	apperrors "github.com/memoryllm/memproxy/internal/errors"
	"github.com/memoryllm/memproxy/internal/logging"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const upstreamErrorExcerpt = 500

// ChatCompletions handles POST /v1/chat/completions: the body is enriched with
// memories and forwarded, then the provider's answer is relayed buffered or streamed.
func (h *Handler) ChatCompletions(c *gin.Context) {
	st := h.snapshot()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, apperrors.Internal(fmt.Errorf("read request body: %w", err)))
		return
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		writeError(c, apperrors.Internal(fmt.Errorf("request body is not a JSON object")))
		return
	}
	log.Info("received chat completion request")

	out, state := st.augmenter.Apply(c.Request.Context(), body)
	c.Set(logging.MemoryStateKey, string(state))

	target := ChatTargetURL(st.cfg.Upstream.ResolvedBaseURL(), c.Request.URL.Path)
	header := FilterRequestHeaders(c.Request.Header)
	if header.Get("Content-Type") == "" {
		header.Set("Content-Type", "application/json")
	}
	log.WithField("target", target).Info("proxying request to LLM provider")

	if isTruthy(gjson.GetBytes(out, "stream")) {
		if st.cfg.Streaming.DeferStatus {
			h.streamDeferred(c, st, target, header, out)
		} else {
			h.stream(c, st, target, header, out)
		}
		return
	}
	h.buffered(c, st, target, header, out)
}

func newUpstreamRequest(ctx context.Context, method, target string, header http.Header, body []byte) (*http.Request, error) {
	var reader io.Reader = http.NoBody
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header = header
	return req, nil
}

func (h *Handler) buffered(c *gin.Context, st *snapshot, target string, header http.Header, body []byte) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), st.cfg.Upstream.Timeout())
	defer cancel()

	req, err := newUpstreamRequest(ctx, http.MethodPost, target, header, body)
	if err != nil {
		writeError(c, apperrors.ProviderUnavailable(err))
		return
	}
	resp, err := st.client.Do(req)
	if err != nil {
		writeError(c, apperrors.ProviderUnavailable(err))
		return
	}
	defer closeBody(resp)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		writeError(c, apperrors.ProviderUnavailable(fmt.Errorf("read upstream body: %w", err)))
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		log.Errorf("LLM provider returned error: %d - %s", resp.StatusCode, excerpt(data))
		writeError(c, apperrors.Upstream(resp.StatusCode, data, contentType))
		return
	}
	if contentType == "" {
		contentType = "application/json"
	}
	log.Info("successfully processed chat completion request")
	c.Data(resp.StatusCode, contentType, data)
}

func setStreamHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
}

// stream commits a 200 event-stream response before contacting the provider.
// Upstream failures end the stream without a body.
func (h *Handler) stream(c *gin.Context, st *snapshot, target string, header http.Header, body []byte) {
	setStreamHeaders(c)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	req, err := newUpstreamRequest(c.Request.Context(), http.MethodPost, target, header, body)
	if err != nil {
		log.WithError(err).Error("streaming error")
		return
	}
	resp, err := st.client.Do(req)
	if err != nil {
		log.WithError(err).Error("streaming error")
		return
	}
	defer closeBody(resp)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, upstreamErrorExcerpt))
		log.Errorf("streaming error: LLM provider returned %d - %s", resp.StatusCode, excerpt(data))
		return
	}

	h.relayStream(c, st, resp)
}

// streamDeferred waits for the provider's status before committing the response,
// so a non-2xx answer reaches the caller with its original status and body.
func (h *Handler) streamDeferred(c *gin.Context, st *snapshot, target string, header http.Header, body []byte) {
	req, err := newUpstreamRequest(c.Request.Context(), http.MethodPost, target, header, body)
	if err != nil {
		writeError(c, apperrors.ProviderUnavailable(err))
		return
	}
	resp, err := st.client.Do(req)
	if err != nil {
		writeError(c, apperrors.ProviderUnavailable(err))
		return
	}
	defer closeBody(resp)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		data, errRead := io.ReadAll(resp.Body)
		if errRead != nil {
			writeError(c, apperrors.ProviderUnavailable(fmt.Errorf("read upstream body: %w", errRead)))
			return
		}
		log.Errorf("LLM provider returned error: %d - %s", resp.StatusCode, excerpt(data))
		writeError(c, apperrors.Upstream(resp.StatusCode, data, resp.Header.Get("Content-Type")))
		return
	}

	setStreamHeaders(c)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()
	h.relayStream(c, st, resp)
}

func (h *Handler) relayStream(c *gin.Context, st *snapshot, resp *http.Response) {
	written, err := relay(c.Writer, resp.Body, st.cfg.Streaming.GetChunkSize())
	if err != nil && c.Request.Context().Err() == nil {
		log.WithError(err).Error("streaming error")
		return
	}
	log.WithField("bytes", written).Debug("stream relay finished")
}

// isTruthy reports whether r is a non-empty, non-zero JSON value.
func isTruthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.True:
		return true
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return r.Str != ""
	case gjson.JSON:
		raw := strings.TrimSpace(r.Raw)
		return len(raw) > 2 && strings.TrimSpace(raw[1:len(raw)-1]) != ""
	}
	return false
}

func excerpt(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > upstreamErrorExcerpt {
		return s[:upstreamErrorExcerpt] + "..."
	}
	return s
}

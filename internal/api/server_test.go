package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/memoryllm/memproxy/internal/config"
	"github.com/memoryllm/memproxy/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type staticMemory string

func (m staticMemory) Search(context.Context, string) (string, bool) {
	return string(m), m != ""
}

func newUpstream(t *testing.T, bodies *[]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*bodies = append(*bodies, r.URL.Path+" "+string(body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T, cfg *config.Config, mem memory.Client) *Server {
	t.Helper()
	s, err := NewServer(cfg, mem)
	require.NoError(t, err)
	return s
}

func TestHealthz(t *testing.T) {
	cfg, err := config.LoadConfigOptional("", true)
	require.NoError(t, err)
	s := newTestServer(t, cfg, memory.Disabled{})

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","memory":"mcp"}`, w.Body.String())
}

func TestMetricsDisabledByDefault(t *testing.T) {
	cfg, err := config.LoadConfigOptional("", true)
	require.NoError(t, err)
	s := newTestServer(t, cfg, nil)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatRouteDecompressesAndInjects(t *testing.T) {
	var bodies []string
	srv := newUpstream(t, &bodies)

	cfg, err := config.LoadConfigOptional("", true)
	require.NoError(t, err)
	cfg.Upstream.BaseURL = srv.URL + "/v1/"
	s := newTestServer(t, cfg, staticMemory("likes tea"))

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write([]byte(`{"messages":[{"role":"user","content":"hi"}]}`))
	require.NoError(t, gz.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", &buf)
	req.Header.Set("Content-Encoding", "gzip")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, bodies, 1)
	assert.Equal(t, `/v1/chat/completions {"messages":[{"role":"system","content":"Relevant memories:\n\nlikes tea"},{"role":"user","content":"hi"}]}`, bodies[0])
}

func TestChatRouteVariantsAreAugmented(t *testing.T) {
	for _, path := range []string{"/v1/chat/completions/", "//v1/chat/completions"} {
		t.Run(path, func(t *testing.T) {
			var bodies []string
			srv := newUpstream(t, &bodies)

			cfg, err := config.LoadConfigOptional("", true)
			require.NoError(t, err)
			cfg.Upstream.BaseURL = srv.URL + "/v1"
			s := newTestServer(t, cfg, staticMemory("likes tea"))

			var buf bytes.Buffer
			gz := gzip.NewWriter(&buf)
			_, _ = gz.Write([]byte(`{"messages":[{"role":"user","content":"hi"}]}`))
			require.NoError(t, gz.Close())

			req := httptest.NewRequest(http.MethodPost, "/", &buf)
			req.URL.Path = path
			req.Header.Set("Content-Encoding", "gzip")
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)

			require.Equal(t, http.StatusOK, w.Code)
			require.Len(t, bodies, 1)
			assert.Equal(t, `/v1/chat/completions {"messages":[{"role":"system","content":"Relevant memories:\n\nlikes tea"},{"role":"user","content":"hi"}]}`, bodies[0])
		})
	}
}

func TestUnknownRoutesArePassedThrough(t *testing.T) {
	var bodies []string
	srv := newUpstream(t, &bodies)

	cfg, err := config.LoadConfigOptional("", true)
	require.NoError(t, err)
	cfg.Upstream.BaseURL = srv.URL + "/v1"
	s := newTestServer(t, cfg, staticMemory("never injected"))

	for _, tc := range []struct{ method, path, want string }{
		{http.MethodGet, "/v1/models", "/v1/models "},
		{http.MethodPost, "/v1/embeddings", `/v1/embeddings {"input":"x"}`},
		{http.MethodGet, "/v1/chat/completions", "/v1/chat/completions "},
		{http.MethodPost, "/healthz", "/v1/healthz {\"input\":\"x\"}"},
	} {
		w := httptest.NewRecorder()
		var body io.Reader
		if tc.method == http.MethodPost {
			body = strings.NewReader(`{"input":"x"}`)
		}
		s.Handler().ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, body))
		require.Equal(t, http.StatusOK, w.Code, tc.path)
		assert.Equal(t, tc.want, bodies[len(bodies)-1])
	}
}

func TestUpdateConfigSwitchesUpstreamAndMemory(t *testing.T) {
	var first, second []string
	srvA := newUpstream(t, &first)
	srvB := newUpstream(t, &second)

	cfg, err := config.LoadConfigOptional("", true)
	require.NoError(t, err)
	cfg.Upstream.BaseURL = srvA.URL
	s := newTestServer(t, cfg, staticMemory("m"))

	send := func() {
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
			strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`)))
		require.Equal(t, http.StatusOK, w.Code)
	}
	send()
	require.Len(t, first, 1)
	assert.Contains(t, first[0], "Relevant memories")

	updated, err := config.LoadConfigOptional("", true)
	require.NoError(t, err)
	updated.Upstream.BaseURL = srvB.URL
	disabled := false
	updated.Memory.Enabled = &disabled
	s.UpdateConfig(updated)

	send()
	require.Len(t, second, 1)
	assert.Equal(t, `/chat/completions {"messages":[{"role":"user","content":"hi"}]}`, second[0])

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, "none", gjson.Get(w.Body.String(), "memory").String())
}

func TestNewServerRejectsBadProxyURL(t *testing.T) {
	cfg, err := config.LoadConfigOptional("", true)
	require.NoError(t, err)
	cfg.Upstream.ProxyURL = "ftp://nope"
	_, err = NewServer(cfg, nil)
	assert.Error(t, err)
}

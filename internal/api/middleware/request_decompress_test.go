package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePayload = `{"messages":[{"role":"user","content":"hi"}]}`

func compress(t *testing.T, encoding string, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	var err error
	switch encoding {
	case "gzip":
		w = gzip.NewWriter(&buf)
	case "deflate":
		w = zlib.NewWriter(&buf)
	case "raw-deflate":
		w, err = flate.NewWriter(&buf, flate.DefaultCompression)
	case "br":
		w = brotli.NewWriter(&buf)
	case "zstd":
		w, err = zstd.NewWriter(&buf)
	}
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func newDecompressEngine(seen *[]byte, seenEncoding *string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(RequestDecompressionMiddleware())
	engine.POST("/echo", func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		*seen = body
		*seenEncoding = c.GetHeader("Content-Encoding")
		c.Status(http.StatusOK)
	})
	return engine
}

func TestRequestDecompressionMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		encoding string
	}{
		{"gzip", "gzip", "gzip"},
		{"deflate zlib", "deflate", "deflate"},
		{"deflate raw", "deflate", "raw-deflate"},
		{"brotli", "br", "br"},
		{"zstd", "zstd", "zstd"},
		{"uppercase header", "GZIP", "gzip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen []byte
			var seenEncoding string
			engine := newDecompressEngine(&seen, &seenEncoding)

			req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewReader(compress(t, tt.encoding, []byte(samplePayload))))
			req.Header.Set("Content-Encoding", tt.header)
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, req)

			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, samplePayload, string(seen))
			assert.Empty(t, seenEncoding)
		})
	}
}

func TestRequestDecompressionStackedEncodings(t *testing.T) {
	var seen []byte
	var seenEncoding string
	engine := newDecompressEngine(&seen, &seenEncoding)

	body := compress(t, "br", compress(t, "gzip", []byte(samplePayload)))
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewReader(body))
	req.Header.Set("Content-Encoding", "gzip, br")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, samplePayload, string(seen))
}

func TestRequestDecompressionPassesPlainBodies(t *testing.T) {
	var seen []byte
	var seenEncoding string
	engine := newDecompressEngine(&seen, &seenEncoding)

	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewReader([]byte(samplePayload)))
	req.Header.Set("Content-Encoding", "identity")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, samplePayload, string(seen))
}

func TestRequestDecompressionRejectsBadBodies(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"invalid gzip", "gzip"},
		{"invalid zstd", "zstd"},
		{"unsupported", "compress"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen []byte
			var seenEncoding string
			engine := newDecompressEngine(&seen, &seenEncoding)

			req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewReader([]byte("definitely not compressed")))
			req.Header.Set("Content-Encoding", tt.header)
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "invalid_request_error")
			assert.Nil(t, seen)
		})
	}
}

package middleware

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// maxDecompressedBytes caps decoded request bodies.
const maxDecompressedBytes = 128 << 20 // 128MiB

// RequestDecompressionMiddleware decodes request bodies sent with Content-Encoding
// gzip, deflate, br or zstd so handlers can inspect the JSON. Stacked encodings
// are undone in reverse order.
func RequestDecompressionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		encodings := parseContentEncoding(c.GetHeader("Content-Encoding"))
		if len(encodings) == 0 {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			abortDecompress(c, http.StatusBadRequest, "failed to read request body")
			return
		}
		for i := len(encodings) - 1; i >= 0; i-- {
			body, err = decodeBody(encodings[i], body)
			if errors.Is(err, errBodyTooLarge) {
				abortDecompress(c, http.StatusRequestEntityTooLarge, "decompressed request body too large")
				return
			}
			if err != nil {
				abortDecompress(c, http.StatusBadRequest, fmt.Sprintf("invalid %s request body", encodings[i]))
				return
			}
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Request.ContentLength = int64(len(body))
		c.Request.Header.Del("Content-Encoding")
		c.Next()
	}
}

func parseContentEncoding(header string) []string {
	var out []string
	for _, part := range strings.Split(header, ",") {
		enc := strings.ToLower(strings.TrimSpace(part))
		if enc == "" || enc == "identity" {
			continue
		}
		out = append(out, enc)
	}
	return out
}

var errBodyTooLarge = errors.New("decompressed body too large")

func decodeBody(encoding string, body []byte) ([]byte, error) {
	var reader io.Reader
	switch encoding {
	case "gzip", "x-gzip":
		gzr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer func() { _ = gzr.Close() }()
		reader = gzr
	case "deflate":
		// zlib-wrapped per RFC 9110; some clients send raw DEFLATE instead.
		if zr, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
			defer func() { _ = zr.Close() }()
			reader = zr
		} else {
			fr := flate.NewReader(bytes.NewReader(body))
			defer func() { _ = fr.Close() }()
			reader = fr
		}
	case "br":
		reader = brotli.NewReader(bytes.NewReader(body))
	case "zstd":
		zr, err := zstd.NewReader(bytes.NewReader(body), zstd.WithDecoderMaxMemory(maxDecompressedBytes))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		reader = zr
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}

	decoded, err := io.ReadAll(io.LimitReader(reader, maxDecompressedBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(decoded)) > maxDecompressedBytes {
		return nil, errBodyTooLarge
	}
	return decoded, nil
}

func abortDecompress(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"message": message,
			"type":    "invalid_request_error",
		},
	})
}

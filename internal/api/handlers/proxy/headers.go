package proxy

import (
	"net/http"
	"net/textproto"
)

var (
	// requestHopHeaders are not forwarded to the provider.
	requestHopHeaders = []string{"Host", "Content-Length", "Connection", "Accept-Encoding"}
	// responseHopHeaders are not relayed back to the caller.
	responseHopHeaders = []string{"Content-Encoding", "Content-Length", "Transfer-Encoding", "Connection"}
)

// FilterRequestHeaders returns a copy of h without the headers the proxy must not forward.
func FilterRequestHeaders(h http.Header) http.Header {
	return without(h, requestHopHeaders)
}

// FilterResponseHeaders returns a copy of h without the headers the proxy must not relay.
func FilterResponseHeaders(h http.Header) http.Header {
	return without(h, responseHopHeaders)
}

// CopyResponseHeaders adds the relayable headers of src to dst.
func CopyResponseHeaders(dst, src http.Header) {
	for key, values := range FilterResponseHeaders(src) {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func without(h http.Header, drop []string) http.Header {
	out := make(http.Header, len(h))
	for key, values := range h {
		if contains(drop, textproto.CanonicalMIMEHeaderKey(key)) {
			continue
		}
		out[key] = append([]string(nil), values...)
	}
	return out
}

func contains(list []string, key string) bool {
	for _, item := range list {
		if item == key {
			return true
		}
	}
	return false
}

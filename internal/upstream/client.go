// Package upstream builds the HTTP client used to reach the LLM provider.
package upstream

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/memoryllm/memproxy/internal/config"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// NewClient returns an HTTP client for the provider described by cfg.
//
// The configured timeout bounds connection setup and the wait for response
// headers; it does not bound reading a streamed body.
func NewClient(cfg *config.UpstreamConfig) (*http.Client, error) {
	timeout := cfg.Timeout()
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: time.Second,
		// Bodies are relayed byte-for-byte, so compressed responses must not be decoded here.
		DisableCompression: true,
	}

	if cfg != nil && strings.TrimSpace(cfg.ProxyURL) != "" {
		if err := applyProxy(transport, dialer, strings.TrimSpace(cfg.ProxyURL)); err != nil {
			return nil, err
		}
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}

func applyProxy(transport *http.Transport, dialer *net.Dialer, rawURL string) error {
	proxyURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("upstream: invalid proxy url: %w", err)
	}

	switch strings.ToLower(proxyURL.Scheme) {
	case "http", "https":
		transport.Proxy = http.ProxyURL(proxyURL)
	case "socks5", "socks5h":
		socksDialer, errSocks := proxy.FromURL(proxyURL, dialer)
		if errSocks != nil {
			return fmt.Errorf("upstream: socks5 proxy: %w", errSocks)
		}
		transport.Proxy = nil
		if contextDialer, ok := socksDialer.(proxy.ContextDialer); ok {
			transport.DialContext = contextDialer.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return socksDialer.Dial(network, addr)
			}
		}
	default:
		return fmt.Errorf("upstream: unsupported proxy scheme %q", proxyURL.Scheme)
	}

	log.WithField("scheme", proxyURL.Scheme).Info("upstream: using outbound proxy")
	return nil
}

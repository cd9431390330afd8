// Package memory retrieves long-term memories for a chat request from an external
// memory service and folds the service's heterogeneous results into one text block.
package memory

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Client looks up memories relevant to a query. Implementations swallow their own
// failures: ok is false whenever no usable memory text was found.
type Client interface {
	Search(ctx context.Context, query string) (text string, ok bool)
}

// Disabled is the degraded client; it never finds anything.
type Disabled struct{}

// Search implements Client.
func (Disabled) Search(context.Context, string) (string, bool) { return "", false }

// Close releases the underlying session of c when it holds one.
func Close(c Client) {
	if closer, ok := c.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.WithError(err).Warn("memory: failed to close client")
		}
	}
}

type timeoutClient struct {
	next    Client
	timeout time.Duration
}

// WithTimeout bounds every search of next by timeout. A non-positive timeout returns next unchanged.
func WithTimeout(next Client, timeout time.Duration) Client {
	if next == nil || timeout <= 0 {
		return next
	}
	return &timeoutClient{next: next, timeout: timeout}
}

func (t *timeoutClient) Search(ctx context.Context, query string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		text string
		ok   bool
	}
	done := make(chan result, 1)
	go func() {
		text, ok := t.next.Search(ctx, query)
		done <- result{text: text, ok: ok}
	}()

	select {
	case r := <-done:
		return r.text, r.ok
	case <-ctx.Done():
		log.WithError(ctx.Err()).Warn("memory: search abandoned")
		return "", false
	}
}

func (t *timeoutClient) Close() error {
	Close(t.next)
	return nil
}

// Search outcomes reported to a Recorder.
const (
	OutcomeFound = "found"
	OutcomeEmpty = "empty"
)

// Recorder receives the outcome and latency of each search.
type Recorder func(outcome string, elapsed time.Duration)

type instrumentedClient struct {
	next   Client
	record Recorder
}

// Instrumented reports each search of next to record.
func Instrumented(next Client, record Recorder) Client {
	if next == nil || record == nil {
		return next
	}
	return &instrumentedClient{next: next, record: record}
}

func (i *instrumentedClient) Search(ctx context.Context, query string) (string, bool) {
	start := time.Now()
	text, ok := i.next.Search(ctx, query)
	outcome := OutcomeEmpty
	if ok {
		outcome = OutcomeFound
	}
	i.record(outcome, time.Since(start))
	return text, ok
}

func (i *instrumentedClient) Close() error {
	Close(i.next)
	return nil
}

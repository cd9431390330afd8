// Package augment enriches chat-completion request bodies with memories retrieved
// for the caller's most recent user message.
package augment

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/memoryllm/memproxy/internal/memory"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/tiktoken-go/tokenizer"
)

const (
	// FallbackQuery is searched when the request carries no usable user message.
	FallbackQuery = "general conversation"

	searchPrefix   = "I am searching for relevant memories to provide context for an LLM response to the following user message: "
	memoriesHeader = "Relevant memories:\n\n"
)

// State describes what Apply did to a request.
type State string

const (
	StateInjected State = "injected"
	StateNoMemory State = "no_memory"
	StateDisabled State = "disabled"
	StateNoTarget State = "no_messages"
)

// Augmenter prepends a system message carrying retrieved memories to chat requests.
type Augmenter struct {
	memory   memory.Client
	enabled  bool
	observer func(tokens int)
}

// Option configures an Augmenter.
type Option func(*Augmenter)

// WithEnabled toggles memory retrieval. A disabled augmenter returns bodies unchanged.
func WithEnabled(enabled bool) Option {
	return func(a *Augmenter) { a.enabled = enabled }
}

// WithInjectionObserver is called with the estimated token count of every injected memory block.
func WithInjectionObserver(fn func(tokens int)) Option {
	return func(a *Augmenter) { a.observer = fn }
}

// New returns an augmenter backed by client. A nil client behaves like memory.Disabled.
func New(client memory.Client, opts ...Option) *Augmenter {
	if client == nil {
		client = memory.Disabled{}
	}
	a := &Augmenter{memory: client, enabled: true}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Augment returns body with memories injected, or body itself when nothing was injected.
func (a *Augmenter) Augment(ctx context.Context, body []byte) []byte {
	out, _ := a.Apply(ctx, body)
	return out
}

// Apply is Augment that also reports what happened.
func (a *Augmenter) Apply(ctx context.Context, body []byte) ([]byte, State) {
	if a == nil || !a.enabled {
		return body, StateDisabled
	}

	query := ExtractQuery(body)
	log.Debugf("augment: searching memories for %q", memory.RedactText(truncate(query, 120)))

	memories, ok := a.memory.Search(ctx, BuildSearchQuery(query))
	if !ok || strings.TrimSpace(memories) == "" {
		log.Info("augment: no memories to inject, sending original request")
		return body, StateNoMemory
	}

	out, injected := Inject(body, memories)
	if !injected {
		log.Warn("augment: request has no messages array, cannot inject memories")
		return body, StateNoTarget
	}

	tokens := EstimateTokens(memories)
	log.WithFields(log.Fields{
		"chars":  len(memories),
		"tokens": tokens,
	}).Info("augment: injected memories as system message")
	if a.observer != nil && tokens > 0 {
		a.observer(tokens)
	}
	return out, StateInjected
}

// BuildSearchQuery wraps the user's message in the retrieval instruction sent to the memory service.
func BuildSearchQuery(query string) string {
	return searchPrefix + query
}

// ExtractQuery returns the content of the last user message, or FallbackQuery.
func ExtractQuery(body []byte) string {
	messages := gjson.GetBytes(body, "messages")
	if !messages.IsArray() {
		return FallbackQuery
	}
	items := messages.Array()
	for i := len(items) - 1; i >= 0; i-- {
		msg := items[i]
		if msg.Get("role").String() != "user" {
			continue
		}
		content := msg.Get("content")
		if !content.Exists() {
			continue
		}
		if text := contentText(content); text != "" {
			return text
		}
		return FallbackQuery
	}
	return FallbackQuery
}

func contentText(content gjson.Result) string {
	switch {
	case content.Type == gjson.String:
		return content.Str
	case content.Type == gjson.Null:
		return ""
	case content.IsArray():
		parts := make([]string, 0)
		content.ForEach(func(_, part gjson.Result) bool {
			if text := part.Get("text"); text.Type == gjson.String && text.Str != "" {
				parts = append(parts, text.Str)
			}
			return true
		})
		return strings.Join(parts, "\n")
	}
	return content.Raw
}

// Inject prepends a system message carrying memories to the messages array of body.
// It returns false and body unchanged when there is no messages array.
func Inject(body []byte, memories string) ([]byte, bool) {
	messages := gjson.GetBytes(body, "messages")
	if !messages.IsArray() {
		return body, false
	}

	systemMessage, err := sjson.SetBytes([]byte(`{"role":"system"}`), "content", memoriesHeader+memories)
	if err != nil {
		return body, false
	}

	inner := bytes.TrimSpace([]byte(messages.Raw))
	inner = bytes.TrimSpace(inner[1 : len(inner)-1])

	var buf bytes.Buffer
	buf.Grow(len(messages.Raw) + len(systemMessage) + 2)
	buf.WriteByte('[')
	buf.Write(systemMessage)
	if len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte(']')

	out, err := sjson.SetRawBytes(body, "messages", buf.Bytes())
	if err != nil {
		return body, false
	}
	return out, true
}

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

// EstimateTokens counts text with the cl100k_base encoding. It returns 0 when the
// encoding is unavailable.
func EstimateTokens(text string) int {
	codecOnce.Do(func() {
		enc, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			log.WithError(err).Warn("augment: tokenizer unavailable")
			return
		}
		codec = enc
	})
	if codec == nil || text == "" {
		return 0
	}
	count, err := codec.Count(text)
	if err != nil {
		return 0
	}
	return count
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

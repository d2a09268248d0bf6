// Package translate implements the context-aware correction and
// translation client used by streaming sessions.
//
// The client exposes two logical operations over the same LLM service:
// Correct fixes recognition errors in a transcript using recent history as
// context, and Translate renders the corrected text into the target
// language. Both operations prefer the shared realtime channel when it is
// enabled and fall back to the chat-completions API on any realtime
// failure. The fallback is best-effort: when it fails too, Correct
// degrades to the raw input and Translate reports no result.
//
// Responses are cached process-wide in a bounded LRU keyed by the full
// request tuple, so a repeated segment pays no second round-trip while its
// entry is still cached.
package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/lask3802/live-translator/internal/translate/realtime"
)

// Prompt instructions are part of the external interface to the LLM
// service; the wording is fixed.
const (
	correctInstructions = "You correct ASR transcripts using context. " +
		"Do NOT repeat the history. " +
		"Only return the corrected version of the current transcript. " +
		"Output JSON only: {\"corrected_text\": \"...\"}."

	translateInstructions = "You translate text using context. " +
		"Do NOT repeat the history. " +
		"Only return the translation of the current text. " +
		"Output JSON only: {\"translated_text\": \"...\"}."
)

// RealtimeTransport is the single-flight realtime channel.
type RealtimeTransport interface {
	Request(ctx context.Context, instructions, payload string) (string, error)
}

// ChatTransport is the request/response fallback path.
type ChatTransport interface {
	Complete(ctx context.Context, instructions, payload string) (string, error)
}

// Config holds the translator settings resolved from configuration.
type Config struct {
	// APIKey is the LLM service credential. When empty the translator is
	// disabled: Correct is the identity and Translate reports no result.
	APIKey string

	// Model is the chat-completions model name.
	Model string

	// RealtimeModel is the realtime channel model name.
	RealtimeModel string

	// TargetLanguage is the default translation target.
	TargetLanguage string

	// UseRealtime enables the realtime path.
	UseRealtime bool
}

// Option is a functional option for a Translator.
type Option func(*Translator)

// WithRealtimeTransport replaces the realtime channel. Used in tests.
func WithRealtimeTransport(rt RealtimeTransport) Option {
	return func(t *Translator) { t.rt = rt }
}

// WithChatTransport replaces the chat-completions transport. Used in tests.
func WithChatTransport(chat ChatTransport) Option {
	return func(t *Translator) { t.chat = chat }
}

// Translator performs correction and translation with caching. It is safe
// for concurrent use and is shared process-wide across sessions.
type Translator struct {
	cfg     Config
	enabled bool

	rt    RealtimeTransport // nil when the realtime path is off
	chat  ChatTransport
	cache *lru.Cache[string, string]
}

// New creates a Translator from cfg. When cfg.APIKey is empty, the
// translator is disabled and never calls out.
func New(cfg Config, opts ...Option) *Translator {
	t := &Translator{
		cfg:     cfg,
		enabled: cfg.APIKey != "",
		cache:   newCache(),
	}

	if t.enabled {
		t.chat = &chatClient{
			client: oai.NewClient(option.WithAPIKey(cfg.APIKey)),
			model:  cfg.Model,
		}
		if cfg.UseRealtime {
			t.rt = realtime.New(cfg.APIKey, cfg.RealtimeModel)
		}
	}

	for _, o := range opts {
		o(t)
	}
	return t
}

// Enabled reports whether the translator has a credential and will call
// the LLM service.
func (t *Translator) Enabled() bool { return t.enabled }

// TargetLanguage returns the configured default target language.
func (t *Translator) TargetLanguage() string { return t.cfg.TargetLanguage }

// correctPayload is the user message body for a correction request.
type correctPayload struct {
	History           []string `json:"history"`
	CurrentTranscript string   `json:"current_transcript"`
}

// translatePayload is the user message body for a translation request.
type translatePayload struct {
	TargetLanguage string   `json:"target_language"`
	History        []string `json:"history"`
	ExtraContext   string   `json:"extra_context"`
	CurrentText    string   `json:"current_text"`
}

// Correct returns the corrected form of text given the history snapshot.
// It always returns a usable string: on any failure the input text comes
// back unchanged.
func (t *Translator) Correct(ctx context.Context, text string, history []string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	if !t.enabled {
		return text
	}

	key := cacheKey("correct", text, history, "", "", t.cfg.Model)
	if cached, ok := t.cache.Get(key); ok {
		return cached
	}

	payload, err := marshalPayload(correctPayload{
		History:           nonNil(history),
		CurrentTranscript: text,
	})
	if err != nil {
		slog.Error("correction payload marshal failed", "err", err)
		return text
	}

	corrected, err := t.requestField(ctx, correctInstructions, payload, "corrected_text")
	if err != nil {
		slog.Error("correction failed", "err", err)
		return text
	}
	if corrected == "" {
		corrected = text
	}
	t.cache.Add(key, corrected)
	return corrected
}

// Translate renders text into targetLanguage (or the configured default
// when empty). The second return value is false when translation is
// disabled or the service failed; an empty input translates to "" without
// an upstream call.
func (t *Translator) Translate(ctx context.Context, text string, history []string, targetLanguage, extraContext string) (string, bool) {
	if !t.enabled {
		return "", false
	}
	if strings.TrimSpace(text) == "" {
		return "", true
	}

	target := targetLanguage
	if target == "" {
		target = t.cfg.TargetLanguage
	}

	key := cacheKey("translate", text, history, extraContext, target, t.cfg.Model)
	if cached, ok := t.cache.Get(key); ok {
		return cached, true
	}

	payload, err := marshalPayload(translatePayload{
		TargetLanguage: target,
		History:        nonNil(history),
		ExtraContext:   extraContext,
		CurrentText:    text,
	})
	if err != nil {
		slog.Error("translation payload marshal failed", "err", err)
		return "", false
	}

	translated, err := t.requestField(ctx, translateInstructions, payload, "translated_text")
	if err != nil {
		slog.Error("translation failed", "err", err)
		return "", false
	}

	t.cache.Add(key, translated)
	return translated, true
}

// requestField performs one LLM round-trip and extracts the named string
// field from the JSON response. The realtime channel is tried first when
// enabled; any realtime failure — transport or unparseable response —
// falls back to the chat path for the same call. The fallback itself is
// not retried.
func (t *Translator) requestField(ctx context.Context, instructions, payload, field string) (string, error) {
	if t.rt != nil {
		raw, err := t.rt.Request(ctx, instructions, payload)
		if err == nil {
			value, ok := extractField(raw, field)
			if ok {
				return value, nil
			}
			slog.Warn("realtime response unparseable, falling back to chat")
		} else {
			slog.Warn("realtime request failed, falling back to chat", "err", err)
		}
	}

	raw, err := t.chat.Complete(ctx, instructions, payload)
	if err != nil {
		return "", err
	}
	value, ok := extractField(raw, field)
	if !ok {
		return "", fmt.Errorf("translate: response is not a JSON object")
	}
	return value, nil
}

// extractField parses raw as a JSON object and returns the named string
// field. ok is false only when raw is not a JSON object; a missing or
// non-string field yields the empty string.
func extractField(raw, field string) (value string, ok bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return "", false
	}
	if f, present := obj[field]; present {
		// A non-string value is treated as absent.
		_ = json.Unmarshal(f, &value)
	}
	return value, true
}

// marshalPayload serialises a user payload. encoding/json leaves non-ASCII
// code points unescaped, which the upstream prompts rely on.
func marshalPayload(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nonNil(history []string) []string {
	if history == nil {
		return []string{}
	}
	return history
}

// ── Chat transport ────────────────────────────────────────────────────────────

// chatClient implements ChatTransport over the OpenAI chat-completions API
// with a JSON-object response format.
type chatClient struct {
	client oai.Client
	model  string
}

// Complete implements ChatTransport.
func (c *chatClient) Complete(ctx context.Context, instructions, payload string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: oai.ChatModel(c.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(instructions),
			oai.UserMessage(payload),
		},
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return "", fmt.Errorf("translate: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("translate: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

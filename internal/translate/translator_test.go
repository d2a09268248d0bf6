package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

// fakeRealtime scripts the realtime transport.
type fakeRealtime struct {
	mu       sync.Mutex
	calls    int
	payloads []string
	response string
	err      error
}

func (f *fakeRealtime) Request(_ context.Context, _, payload string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.payloads = append(f.payloads, payload)
	return f.response, f.err
}

// fakeChat scripts the chat-completions transport.
type fakeChat struct {
	mu       sync.Mutex
	calls    int
	payloads []string
	response string
	err      error
}

func (f *fakeChat) Complete(_ context.Context, _, payload string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.payloads = append(f.payloads, payload)
	return f.response, f.err
}

func enabledConfig() Config {
	return Config{
		APIKey:         "test-key",
		Model:          "gpt-4o-mini",
		RealtimeModel:  "gpt-realtime",
		TargetLanguage: "zh-TW",
		UseRealtime:    true,
	}
}

func TestCorrect_DisabledIsIdentity(t *testing.T) {
	t.Parallel()

	tr := New(Config{Model: "gpt-4o-mini"})
	if tr.Enabled() {
		t.Fatal("translator without API key reports enabled")
	}
	if got := tr.Correct(context.Background(), "helo wrld", nil); got != "helo wrld" {
		t.Errorf("Correct = %q; want identity", got)
	}
}

func TestCorrect_EmptyInput(t *testing.T) {
	t.Parallel()

	rt := &fakeRealtime{}
	tr := New(enabledConfig(), WithRealtimeTransport(rt), WithChatTransport(&fakeChat{}))
	if got := tr.Correct(context.Background(), "   ", nil); got != "" {
		t.Errorf("Correct(blank) = %q; want empty", got)
	}
	if rt.calls != 0 {
		t.Error("blank input reached the transport")
	}
}

func TestCorrect_RealtimeSuccess(t *testing.T) {
	t.Parallel()

	rt := &fakeRealtime{response: `{"corrected_text":"hello world"}`}
	chat := &fakeChat{}
	tr := New(enabledConfig(), WithRealtimeTransport(rt), WithChatTransport(chat))

	got := tr.Correct(context.Background(), "helo wrld", []string{"earlier line"})
	if got != "hello world" {
		t.Errorf("Correct = %q; want corrected text", got)
	}
	if chat.calls != 0 {
		t.Error("chat path used although realtime succeeded")
	}
	if !strings.Contains(rt.payloads[0], `"current_transcript":"helo wrld"`) {
		t.Errorf("payload = %s; missing current_transcript", rt.payloads[0])
	}
	if !strings.Contains(rt.payloads[0], `"earlier line"`) {
		t.Errorf("payload = %s; missing history", rt.payloads[0])
	}
}

func TestCorrect_RealtimeFailureFallsBackToChat(t *testing.T) {
	t.Parallel()

	rt := &fakeRealtime{err: errors.New("socket gone")}
	chat := &fakeChat{response: `{"corrected_text":"fixed"}`}
	tr := New(enabledConfig(), WithRealtimeTransport(rt), WithChatTransport(chat))

	if got := tr.Correct(context.Background(), "raw", nil); got != "fixed" {
		t.Errorf("Correct = %q; want chat fallback result", got)
	}
	if rt.calls != 1 || chat.calls != 1 {
		t.Errorf("calls rt=%d chat=%d; want 1/1", rt.calls, chat.calls)
	}
}

func TestCorrect_UnparseableRealtimeFallsBackToChat(t *testing.T) {
	t.Parallel()

	rt := &fakeRealtime{response: "not json at all"}
	chat := &fakeChat{response: `{"corrected_text":"fixed"}`}
	tr := New(enabledConfig(), WithRealtimeTransport(rt), WithChatTransport(chat))

	if got := tr.Correct(context.Background(), "raw", nil); got != "fixed" {
		t.Errorf("Correct = %q; want chat fallback result", got)
	}
}

func TestCorrect_BothPathsFailReturnsInput(t *testing.T) {
	t.Parallel()

	rt := &fakeRealtime{err: errors.New("down")}
	chat := &fakeChat{err: errors.New("also down")}
	tr := New(enabledConfig(), WithRealtimeTransport(rt), WithChatTransport(chat))

	if got := tr.Correct(context.Background(), "raw text", nil); got != "raw text" {
		t.Errorf("Correct = %q; want raw input back", got)
	}
}

func TestCorrect_EmptyCorrectionFallsBackToInput(t *testing.T) {
	t.Parallel()

	rt := &fakeRealtime{response: `{"corrected_text":""}`}
	tr := New(enabledConfig(), WithRealtimeTransport(rt), WithChatTransport(&fakeChat{}))

	if got := tr.Correct(context.Background(), "keep me", nil); got != "keep me" {
		t.Errorf("Correct = %q; want input preserved on empty output", got)
	}
}

func TestTranslate_Disabled(t *testing.T) {
	t.Parallel()

	tr := New(Config{TargetLanguage: "zh-TW"})
	if _, ok := tr.Translate(context.Background(), "hello", nil, "", ""); ok {
		t.Error("Translate reported a result while disabled")
	}
}

func TestTranslate_EmptyInputShortCircuits(t *testing.T) {
	t.Parallel()

	rt := &fakeRealtime{}
	tr := New(enabledConfig(), WithRealtimeTransport(rt), WithChatTransport(&fakeChat{}))

	got, ok := tr.Translate(context.Background(), "  ", nil, "", "")
	if !ok || got != "" {
		t.Errorf("Translate(blank) = %q, %v; want \"\", true", got, ok)
	}
	if rt.calls != 0 {
		t.Error("blank input reached the transport")
	}
}

func TestTranslate_UsesDefaultAndOverrideTarget(t *testing.T) {
	t.Parallel()

	rt := &fakeRealtime{response: `{"translated_text":"你好"}`}
	tr := New(enabledConfig(), WithRealtimeTransport(rt), WithChatTransport(&fakeChat{}))

	if _, ok := tr.Translate(context.Background(), "hello", nil, "", ""); !ok {
		t.Fatal("Translate failed")
	}
	if !strings.Contains(rt.payloads[0], `"target_language":"zh-TW"`) {
		t.Errorf("payload = %s; want default target zh-TW", rt.payloads[0])
	}

	if _, ok := tr.Translate(context.Background(), "hello again", nil, "ja", "anime talk"); !ok {
		t.Fatal("Translate failed")
	}
	if !strings.Contains(rt.payloads[1], `"target_language":"ja"`) {
		t.Errorf("payload = %s; want override target ja", rt.payloads[1])
	}
	if !strings.Contains(rt.payloads[1], `"extra_context":"anime talk"`) {
		t.Errorf("payload = %s; want extra context", rt.payloads[1])
	}
}

func TestTranslate_ServiceFailureReportsAbsent(t *testing.T) {
	t.Parallel()

	rt := &fakeRealtime{err: errors.New("down")}
	chat := &fakeChat{err: errors.New("down too")}
	tr := New(enabledConfig(), WithRealtimeTransport(rt), WithChatTransport(chat))

	if _, ok := tr.Translate(context.Background(), "hello", nil, "", ""); ok {
		t.Error("Translate reported a result although both transports failed")
	}
}

func TestTranslate_NonASCIIPayloadUnescaped(t *testing.T) {
	t.Parallel()

	rt := &fakeRealtime{response: `{"translated_text":"ok"}`}
	tr := New(enabledConfig(), WithRealtimeTransport(rt), WithChatTransport(&fakeChat{}))

	if _, ok := tr.Translate(context.Background(), "こんにちは", []string{"昨日の話"}, "", ""); !ok {
		t.Fatal("Translate failed")
	}
	if !strings.Contains(rt.payloads[0], "こんにちは") || !strings.Contains(rt.payloads[0], "昨日の話") {
		t.Errorf("payload = %s; non-ASCII was escaped", rt.payloads[0])
	}
}

func TestCache_SecondIdenticalCallSkipsUpstream(t *testing.T) {
	t.Parallel()

	rt := &fakeRealtime{response: `{"corrected_text":"hello"}`}
	tr := New(enabledConfig(), WithRealtimeTransport(rt), WithChatTransport(&fakeChat{}))

	history := []string{"context line"}
	first := tr.Correct(context.Background(), "helo", history)
	second := tr.Correct(context.Background(), "helo", history)

	if first != second {
		t.Errorf("cached result %q differs from first %q", second, first)
	}
	if rt.calls != 1 {
		t.Errorf("upstream called %d times; want 1", rt.calls)
	}
}

func TestCache_DistinctTuplesDoNotCollide(t *testing.T) {
	t.Parallel()

	rt := &fakeRealtime{response: `{"translated_text":"x"}`}
	tr := New(enabledConfig(), WithRealtimeTransport(rt), WithChatTransport(&fakeChat{}))

	tr.Translate(context.Background(), "hello", nil, "ja", "")
	tr.Translate(context.Background(), "hello", nil, "fr", "")
	tr.Translate(context.Background(), "hello", nil, "ja", "hint")

	if rt.calls != 3 {
		t.Errorf("upstream called %d times; want 3 distinct tuples", rt.calls)
	}
}

func TestCache_CorrectAndTranslateDoNotShareEntries(t *testing.T) {
	t.Parallel()

	rt := &fakeRealtime{response: `{"corrected_text":"c","translated_text":"t"}`}
	tr := New(enabledConfig(), WithRealtimeTransport(rt), WithChatTransport(&fakeChat{}))

	tr.Correct(context.Background(), "same", nil)
	tr.Translate(context.Background(), "same", nil, "", "")
	if rt.calls != 2 {
		t.Errorf("upstream called %d times; want 2 (mode is part of the key)", rt.calls)
	}
}

func TestCache_BoundedEviction(t *testing.T) {
	t.Parallel()

	rt := &fakeRealtime{response: `{"corrected_text":"v"}`}
	tr := New(enabledConfig(), WithRealtimeTransport(rt), WithChatTransport(&fakeChat{}))

	ctx := context.Background()
	// Fill beyond capacity so the first entry is evicted.
	for i := range cacheSize + 1 {
		tr.Correct(ctx, fmt.Sprintf("text %d", i), nil)
	}
	calls := rt.calls

	// Oldest entry was evicted → a repeat pays one more round-trip.
	tr.Correct(ctx, "text 0", nil)
	if rt.calls != calls+1 {
		t.Errorf("evicted entry did not re-fetch (calls %d → %d)", calls, rt.calls)
	}

	// Newest entry is still cached.
	tr.Correct(ctx, fmt.Sprintf("text %d", cacheSize), nil)
	if rt.calls != calls+1 {
		t.Error("recent entry unexpectedly evicted")
	}
}

func TestCacheKey_Canonical(t *testing.T) {
	t.Parallel()

	a := cacheKey("correct", "text", []string{"h1", "h2"}, "", "", "m")
	b := cacheKey("correct", "text", []string{"h1", "h2"}, "", "", "m")
	if a != b {
		t.Error("identical tuples produce different keys")
	}

	c := cacheKey("correct", "text", []string{"h1"}, "", "", "m")
	if a == c {
		t.Error("different histories collide")
	}

	d := cacheKey("correct", "text", nil, "", "", "m")
	e := cacheKey("correct", "text", []string{}, "", "", "m")
	if d != e {
		t.Error("nil and empty history should canonicalise identically")
	}
}

// Package mock provides a scripted asr.Transcriber for tests.
package mock

import (
	"context"
	"sync"

	"github.com/lask3802/live-translator/pkg/provider/asr"
)

// Compile-time assertion that Transcriber satisfies asr.Transcriber.
var _ asr.Transcriber = (*Transcriber)(nil)

// Call records one Transcribe invocation.
type Call struct {
	SampleCount int
	Language    string
}

// Transcriber is a scripted test double. Responses are consumed in order;
// when the script is exhausted the last entry repeats. A nil script yields
// empty results.
type Transcriber struct {
	mu    sync.Mutex
	calls []Call

	// Script holds the segment lists to return, one per call.
	Script [][]asr.Segment

	// Err, when non-nil, is returned by every call.
	Err error
}

// Transcribe implements asr.Transcriber.
func (m *Transcriber) Transcribe(_ context.Context, samples []int16, language string) ([]asr.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := len(m.calls)
	m.calls = append(m.calls, Call{SampleCount: len(samples), Language: language})

	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Script) == 0 {
		return nil, nil
	}
	if idx >= len(m.Script) {
		idx = len(m.Script) - 1
	}
	return m.Script[idx], nil
}

// Calls returns a copy of the recorded invocations.
func (m *Transcriber) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

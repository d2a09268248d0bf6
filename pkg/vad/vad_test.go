package vad_test

import (
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"

	"github.com/lask3802/live-translator/pkg/audio"
	"github.com/lask3802/live-translator/pkg/vad"
)

// amplitudeModel is a deterministic stand-in for the VAD model: it reports
// speech whenever the window's peak amplitude exceeds 0.25.
type amplitudeModel struct {
	calls int
	err   error
}

func (m *amplitudeModel) Predict(window []float32, _ int) (float32, error) {
	m.calls++
	if m.err != nil {
		return 0, m.err
	}
	var peak float32
	for _, s := range window {
		if s > peak {
			peak = s
		}
		if -s > peak {
			peak = -s
		}
	}
	if peak > 0.25 {
		return 0.9, nil
	}
	return 0.1, nil
}

// silence returns n windows of zero-valued PCM bytes.
func silence(n int) []byte {
	return make([]byte, n*audio.WindowBytes)
}

// tone returns n windows of constant half-scale PCM bytes.
func tone(n int) []byte {
	out := make([]byte, n*audio.WindowBytes)
	for i := 0; i < len(out); i += 2 {
		binary.LittleEndian.PutUint16(out[i:i+2], uint16(int16(16384)))
	}
	return out
}

func collect(t *testing.T, s *vad.Sequencer, chunks ...[]byte) []vad.Event {
	t.Helper()
	var events []vad.Event
	for _, c := range chunks {
		evs, err := s.Process(c)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		events = append(events, evs...)
	}
	return events
}

func TestSequencer_PureSilence(t *testing.T) {
	t.Parallel()

	s := vad.NewSequencer(&amplitudeModel{}, vad.Config{})
	// 2 s of silence in uneven chunks.
	stream := silence(63) // ~2016 ms
	events := collect(t, s, stream[:100], stream[100:5000], stream[5000:])
	if len(events) != 0 {
		t.Fatalf("got %d events on pure silence; want 0", len(events))
	}
}

func TestSequencer_SingleUtterance(t *testing.T) {
	t.Parallel()

	s := vad.NewSequencer(&amplitudeModel{}, vad.Config{})
	// 6 windows silence, 47 windows tone (~1.5 s), 22 windows silence (~700 ms).
	events := collect(t, s, silence(6), tone(47), silence(22))

	if len(events) != 2 {
		t.Fatalf("got %d events; want start + commit", len(events))
	}
	if events[0].Type != vad.EventStart {
		t.Errorf("events[0].Type = %v; want EventStart", events[0].Type)
	}
	if events[1].Type != vad.EventCommit {
		t.Fatalf("events[1].Type = %v; want EventCommit", events[1].Type)
	}

	// The committed buffer holds the 47 speech windows plus the 16
	// trailing-silence windows that exhausted the 500 ms budget.
	wantSamples := (47 + 16) * audio.WindowSamples
	if got := len(events[1].Audio); got != wantSamples {
		t.Errorf("committed %d samples; want %d", got, wantSamples)
	}

	// Leading silence must not be part of the utterance.
	if events[1].Audio[0] == 0 {
		t.Error("committed buffer starts with silence; want speech")
	}
	if s.Triggered() {
		t.Error("sequencer still triggered after commit")
	}
}

func TestSequencer_BackToBackUtterances(t *testing.T) {
	t.Parallel()

	s := vad.NewSequencer(&amplitudeModel{}, vad.Config{})
	// Two bursts separated by 800 ms (25 windows) of silence.
	events := collect(t, s, tone(20), silence(25), tone(15), silence(25))

	var types []vad.EventType
	for _, e := range events {
		types = append(types, e.Type)
	}
	want := []vad.EventType{vad.EventStart, vad.EventCommit, vad.EventStart, vad.EventCommit}
	if len(types) != len(want) {
		t.Fatalf("event types = %v; want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event types = %v; want %v", types, want)
		}
	}
}

// TestSequencer_PartitionInvariance verifies that chunk boundaries do not
// change the emitted event sequence.
func TestSequencer_PartitionInvariance(t *testing.T) {
	t.Parallel()

	var stream []byte
	stream = append(stream, silence(3)...)
	stream = append(stream, tone(30)...)
	stream = append(stream, silence(20)...)
	stream = append(stream, tone(10)...)
	stream = append(stream, silence(20)...)

	whole := vad.NewSequencer(&amplitudeModel{}, vad.Config{})
	want := collect(t, whole, stream)

	rng := rand.New(rand.NewSource(99))
	for trial := range 10 {
		s := vad.NewSequencer(&amplitudeModel{}, vad.Config{})
		var got []vad.Event
		rest := stream
		for len(rest) > 0 {
			n := rng.Intn(len(rest)) + 1
			got = append(got, collect(t, s, rest[:n])...)
			rest = rest[n:]
		}

		if len(got) != len(want) {
			t.Fatalf("trial %d: got %d events; want %d", trial, len(got), len(want))
		}
		for i := range got {
			if got[i].Type != want[i].Type {
				t.Fatalf("trial %d: event %d type mismatch", trial, i)
			}
			if len(got[i].Audio) != len(want[i].Audio) {
				t.Fatalf("trial %d: event %d audio length %d; want %d",
					trial, i, len(got[i].Audio), len(want[i].Audio))
			}
		}
	}
}

func TestSequencer_SilenceShorterThanBudgetDoesNotCommit(t *testing.T) {
	t.Parallel()

	s := vad.NewSequencer(&amplitudeModel{}, vad.Config{})
	// 400 ms of silence (12 windows) stays under the 500 ms budget.
	events := collect(t, s, tone(10), silence(12))
	if len(events) != 1 || events[0].Type != vad.EventStart {
		t.Fatalf("got %d events; want only start", len(events))
	}
	if !s.Triggered() {
		t.Error("sequencer dropped out of triggered state before budget exhausted")
	}

	// Speech resumes; still the same utterance.
	events = collect(t, s, tone(5), silence(16))
	if len(events) != 1 || events[0].Type != vad.EventCommit {
		t.Fatalf("got %v; want single commit", events)
	}
	// 10 + 12 + 5 + 16 windows all belong to the utterance.
	wantSamples := (10 + 12 + 5 + 16) * audio.WindowSamples
	if got := len(events[0].Audio); got != wantSamples {
		t.Errorf("committed %d samples; want %d", got, wantSamples)
	}
}

func TestSequencer_ModelErrorPropagates(t *testing.T) {
	t.Parallel()

	modelErr := errors.New("onnx exploded")
	s := vad.NewSequencer(&amplitudeModel{err: modelErr}, vad.Config{})
	_, err := s.Process(tone(1))
	if !errors.Is(err, modelErr) {
		t.Fatalf("Process error = %v; want wrapped model error", err)
	}
}

func TestSequencer_ShortUtteranceStillCommits(t *testing.T) {
	t.Parallel()

	// A 64 ms burst is far below MinSpeechMs, which is configuration only
	// and never gates the commit.
	s := vad.NewSequencer(&amplitudeModel{}, vad.Config{MinSpeechMs: 250})
	events := collect(t, s, tone(2), silence(16))
	if len(events) != 2 || events[1].Type != vad.EventCommit {
		t.Fatalf("short utterance events = %v; want start + commit", events)
	}
}

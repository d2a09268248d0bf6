// Package vad implements utterance segmentation over a voice-activity
// model. The [Sequencer] consumes a raw PCM byte stream, cuts it into
// fixed-size analysis windows, asks a [Model] for a per-window speech
// probability, and runs a two-state machine that emits a start event when
// speech begins and a commit event carrying the buffered utterance once
// enough trailing silence has accumulated.
//
// A Sequencer is stateful per session and single-threaded: windows must be
// delivered in arrival order from one goroutine.
package vad

import (
	"fmt"

	"github.com/lask3802/live-translator/pkg/audio"
)

// Model scores a single analysis window for speech content.
//
// Predict receives exactly [audio.WindowSamples] float32 samples normalised
// to [-1, 1) and the sample rate, and returns a speech probability in
// [0, 1]. Implementations may keep internal recurrent state and are
// therefore per-session; they need not be safe for concurrent use.
type Model interface {
	Predict(window []float32, sampleRate int) (float32, error)
}

// EventType discriminates Sequencer events.
type EventType int

const (
	// EventStart marks the transition from silence into speech.
	EventStart EventType = iota

	// EventCommit marks the end of an utterance. The event carries the
	// full buffered audio including the trailing silence windows.
	EventCommit
)

// Event is one output of [Sequencer.Process].
type Event struct {
	Type EventType

	// Audio holds the committed utterance samples. Set only on EventCommit.
	Audio []int16
}

// Config holds the segmentation parameters for a [Sequencer].
type Config struct {
	// Threshold is the speech probability at or above which a window
	// counts as speech. Default 0.5.
	Threshold float32

	// MinSilenceMs is the trailing-silence duration that closes an
	// utterance. Default 500.
	MinSilenceMs int

	// MinSpeechMs is accepted for parity with common Silero presets but
	// is not consulted by the commit rule: utterances shorter than this
	// are committed regardless. Default 250.
	MinSpeechMs int
}

// withDefaults fills zero fields with the default parameters.
func (c Config) withDefaults() Config {
	if c.Threshold == 0 {
		c.Threshold = 0.5
	}
	if c.MinSilenceMs == 0 {
		c.MinSilenceMs = 500
	}
	if c.MinSpeechMs == 0 {
		c.MinSpeechMs = 250
	}
	return c
}

// Sequencer segments a PCM byte stream into utterances.
type Sequencer struct {
	model Model
	cfg   Config

	framer audio.Framer

	triggered     bool
	tempEnd       float64 // accumulated trailing silence in seconds
	currentSpeech [][]int16
}

// NewSequencer creates a Sequencer over model with the given config.
// Zero config fields take their defaults.
func NewSequencer(model Model, cfg Config) *Sequencer {
	return &Sequencer{model: model, cfg: cfg.withDefaults()}
}

// Triggered reports whether the sequencer is currently inside an utterance.
func (s *Sequencer) Triggered() bool { return s.triggered }

// Process feeds a chunk of raw little-endian int16 PCM bytes through the
// framer and state machine and returns the events produced, in order. A
// chunk of any size is accepted; tail bytes shorter than one window are
// held for the next call.
func (s *Sequencer) Process(chunk []byte) ([]Event, error) {
	var events []Event

	for _, window := range s.framer.Push(chunk) {
		samples := audio.BytesToInt16(window)
		prob, err := s.model.Predict(audio.Int16ToFloat32(samples), audio.SampleRate)
		if err != nil {
			return events, fmt.Errorf("vad: predict: %w", err)
		}

		minSilence := float64(s.cfg.MinSilenceMs) / 1000.0

		switch {
		case prob >= s.cfg.Threshold:
			if !s.triggered {
				s.triggered = true
				events = append(events, Event{Type: EventStart})
			}
			s.currentSpeech = append(s.currentSpeech, samples)
			s.tempEnd = 0

		case s.triggered:
			// Trailing silence is kept so the transcriber sees the
			// natural tail of the utterance.
			s.currentSpeech = append(s.currentSpeech, samples)
			s.tempEnd += audio.WindowDuration

			if s.tempEnd >= minSilence {
				events = append(events, Event{Type: EventCommit, Audio: s.concatSpeech()})
				s.triggered = false
				s.currentSpeech = nil
				s.tempEnd = 0
			}
		}
	}

	return events, nil
}

// concatSpeech flattens the accumulated window list into one buffer.
func (s *Sequencer) concatSpeech() []int16 {
	total := 0
	for _, w := range s.currentSpeech {
		total += len(w)
	}
	out := make([]int16, 0, total)
	for _, w := range s.currentSpeech {
		out = append(out, w...)
	}
	return out
}

// Package whisper provides an asr.Transcriber backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
//
// The model file is loaded lazily on first use and shared across all
// sessions; each Transcribe call creates a fresh whisper context, which is
// the unit of thread safety in whisper.cpp.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/lask3802/live-translator/pkg/audio"
	"github.com/lask3802/live-translator/pkg/provider/asr"
)

// Compile-time assertion that Transcriber satisfies asr.Transcriber.
var _ asr.Transcriber = (*Transcriber)(nil)

// Transcriber implements asr.Transcriber using a local whisper.cpp model.
type Transcriber struct {
	modelPath string

	once   sync.Once
	model  whisperlib.Model
	err    error
	loaded atomic.Bool
}

// New creates a Transcriber for the model at modelPath. The model is not
// loaded until the first Transcribe call. The caller must Close the
// transcriber when it is no longer needed.
func New(modelPath string) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	return &Transcriber{modelPath: modelPath}, nil
}

// load performs the one-time model load.
func (t *Transcriber) load() error {
	t.once.Do(func() {
		model, err := whisperlib.New(t.modelPath)
		if err != nil {
			t.err = fmt.Errorf("whisper: load model %q: %w", t.modelPath, err)
			return
		}
		t.model = model
		t.loaded.Store(true)
	})
	return t.err
}

// Transcribe implements asr.Transcriber. Each utterance is decoded
// independently with greedy search: beam width 1 and no conditioning on
// text from earlier calls, which matters for short streaming chunks.
func (t *Transcriber) Transcribe(ctx context.Context, samples []int16, language string) ([]asr.Segment, error) {
	if err := t.load(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context cancelled: %w", err)
	}

	// whisper.cpp consumes normalised float32 samples.
	pcm := audio.Int16ToFloat32(samples)

	// Contexts are cheap relative to inference and are NOT thread-safe, so
	// each call gets its own while the model is shared.
	wctx, err := t.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}

	wctx.SetBeamSize(1)
	wctx.SetMaxContext(0)

	if language != "" && language != asr.LanguageAuto {
		if err := wctx.SetLanguage(language); err != nil {
			return nil, fmt.Errorf("whisper: set language %q: %w", language, err)
		}
	}

	if err := wctx.Process(pcm, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var segments []asr.Segment
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		segments = append(segments, asr.Segment{
			Text:  strings.TrimSpace(seg.Text),
			Start: seg.Start.Seconds(),
			End:   seg.End.Seconds(),
		})
	}

	return segments, nil
}

// Ready reports whether the model file has been loaded successfully. It
// never triggers a load itself, so it is safe to call from health probes.
func (t *Transcriber) Ready() bool {
	return t.loaded.Load()
}

// Close releases the model if it was loaded.
func (t *Transcriber) Close() error {
	if t.model != nil {
		return t.model.Close()
	}
	return nil
}

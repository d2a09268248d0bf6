// Package silero runs Silero VAD v5 inference via ONNX Runtime.
//
// The engine satisfies [vad.Model]. Silero VAD is a recurrent model: each
// instance carries hidden state across Predict calls, so one engine must be
// created per audio stream. The ONNX Runtime environment itself is shared
// process-wide and initialised exactly once.
package silero

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/lask3802/live-translator/pkg/audio"
	"github.com/lask3802/live-translator/pkg/vad"
)

const (
	// stateSize is the hidden state dimension per layer. Silero VAD v5
	// uses a combined state tensor of shape [2, 1, 128].
	stateSize = 128
)

// Compile-time assertion that Engine satisfies vad.Model.
var _ vad.Model = (*Engine)(nil)

// ortInitOnce ensures the ONNX Runtime environment is initialised exactly
// once. ortInitErr is kept at package scope so later constructor calls
// surface the original failure instead of proceeding uninitialised.
var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// Option is a functional option for configuring an [Engine].
type Option func(*settings)

type settings struct {
	ortLibraryPath string
}

// WithORTLibraryPath points ONNX Runtime at a specific shared library
// (libonnxruntime.so / .dylib). When empty, the onnxruntime_go default
// resolution applies.
func WithORTLibraryPath(path string) Option {
	return func(s *settings) { s.ortLibraryPath = path }
}

// Engine evaluates Silero VAD v5 for one audio stream. It reuses its
// input/output tensors between calls and is not safe for concurrent use.
type Engine struct {
	session *ort.AdvancedSession

	inputTensor *ort.Tensor[float32] // [1, 512]
	stateTensor *ort.Tensor[float32] // [2, 1, 128]
	srTensor    *ort.Tensor[int64]   // [1]

	outputTensor *ort.Tensor[float32] // [1, 1]
	stateNTensor *ort.Tensor[float32] // [2, 1, 128]
}

// New loads the Silero VAD model from modelPath and allocates the inference
// session. The caller must Close the engine to release native resources.
func New(modelPath string, opts ...Option) (*Engine, error) {
	var s settings
	for _, o := range opts {
		o(&s)
	}

	modelData, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("silero: read model %q: %w", modelPath, err)
	}

	ortInitOnce.Do(func() {
		if s.ortLibraryPath != "" {
			ort.SetSharedLibraryPath(s.ortLibraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("silero: init onnxruntime: %w", ortInitErr)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, audio.WindowSamples))
	if err != nil {
		return nil, fmt.Errorf("silero: create input tensor: %w", err)
	}
	stateTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, stateSize))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("silero: create state tensor: %w", err)
	}
	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{int64(audio.SampleRate)})
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		return nil, fmt.Errorf("silero: create sr tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		return nil, fmt.Errorf("silero: create output tensor: %w", err)
	}
	stateNTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, stateSize))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("silero: create stateN tensor: %w", err)
	}

	// Zero the state tensors — onnxruntime_go does not guarantee zeroed
	// memory for empty tensors.
	clear(stateTensor.GetData())
	clear(stateNTensor.GetData())

	session, err := ort.NewAdvancedSessionWithONNXData(
		modelData,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{inputTensor, stateTensor, srTensor},
		[]ort.Value{outputTensor, stateNTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		stateNTensor.Destroy()
		return nil, fmt.Errorf("silero: create session: %w", err)
	}

	return &Engine{
		session:      session,
		inputTensor:  inputTensor,
		stateTensor:  stateTensor,
		srTensor:     srTensor,
		outputTensor: outputTensor,
		stateNTensor: stateNTensor,
	}, nil
}

// Predict runs one inference over a 512-sample window and returns the
// speech probability. The recurrent hidden state is carried over to the
// next call.
func (e *Engine) Predict(window []float32, sampleRate int) (float32, error) {
	if sampleRate != audio.SampleRate {
		return 0, fmt.Errorf("silero: sample rate %d not supported, want %d", sampleRate, audio.SampleRate)
	}
	if len(window) != audio.WindowSamples {
		return 0, fmt.Errorf("silero: window has %d samples, want %d", len(window), audio.WindowSamples)
	}

	copy(e.inputTensor.GetData(), window)

	if err := e.session.Run(); err != nil {
		return 0, fmt.Errorf("silero: run: %w", err)
	}

	// Feed the updated hidden state back for the next window.
	copy(e.stateTensor.GetData(), e.stateNTensor.GetData())

	return e.outputTensor.GetData()[0], nil
}

// Reset clears the recurrent hidden state, starting a fresh stream.
func (e *Engine) Reset() {
	clear(e.stateTensor.GetData())
	clear(e.stateNTensor.GetData())
}

// Close releases the session and all tensors. The engine must not be used
// afterwards.
func (e *Engine) Close() error {
	var errs []error
	if e.session != nil {
		if err := e.session.Destroy(); err != nil {
			errs = append(errs, err)
		}
		e.session = nil
	}
	for _, t := range []interface{ Destroy() error }{
		e.inputTensor, e.stateTensor, e.srTensor, e.outputTensor, e.stateNTensor,
	} {
		if t != nil {
			if err := t.Destroy(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("silero: close: %v", errs)
	}
	return nil
}

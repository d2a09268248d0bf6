// Package app wires all live translator subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects the
// subsystems, Run serves HTTP until the context ends, and Shutdown tears
// everything down in order. For testing, inject doubles via functional
// options; when an option is not provided, New builds the real
// implementation from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/lask3802/live-translator/internal/config"
	"github.com/lask3802/live-translator/internal/health"
	"github.com/lask3802/live-translator/internal/observe"
	"github.com/lask3802/live-translator/internal/stream"
	"github.com/lask3802/live-translator/internal/translate"
	"github.com/lask3802/live-translator/pkg/provider/asr"
	"github.com/lask3802/live-translator/pkg/provider/asr/whisper"
	"github.com/lask3802/live-translator/pkg/vad"
	"github.com/lask3802/live-translator/pkg/vad/silero"
)

// serviceName appears in the status document.
const serviceName = "Live Translator Server"

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	transcriber asr.Transcriber
	translator  stream.Translator
	newVADModel func() (vad.Model, error)
	metrics     *observe.Metrics

	server *http.Server

	// closers run in order during Shutdown.
	closers  []func(context.Context) error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTranscriber injects a transcriber instead of loading whisper.cpp.
func WithTranscriber(t asr.Transcriber) Option {
	return func(a *App) { a.transcriber = t }
}

// WithTranslator injects a translator instead of building one from config.
func WithTranslator(t stream.Translator) Option {
	return func(a *App) { a.translator = t }
}

// WithVADModelFactory injects the per-session VAD model constructor.
func WithVADModelFactory(f func() (vad.Model, error)) Option {
	return func(a *App) { a.newVADModel = f }
}

// New creates an App by wiring the subsystems together. Model files are
// not touched here — both the VAD and ASR models load lazily on first use
// so startup stays fast and a missing credential or model surfaces on the
// affected path only.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	// ── Observability ────────────────────────────────────────────────────
	promRegistry := prometheus.NewRegistry()
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "live-translator",
		Registry:    promRegistry,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	a.closers = append(a.closers, otelShutdown)

	a.metrics, err = observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("app: create metrics: %w", err)
	}

	// ── Providers ────────────────────────────────────────────────────────
	if a.transcriber == nil {
		tr, err := whisper.New(cfg.ASR.ModelPath)
		if err != nil {
			return nil, fmt.Errorf("app: create transcriber: %w", err)
		}
		a.transcriber = tr
		a.closers = append(a.closers, func(context.Context) error { return tr.Close() })
	}

	if a.translator == nil {
		a.translator = translate.New(translate.Config{
			APIKey:         cfg.Translate.APIKey,
			Model:          cfg.Translate.Model,
			RealtimeModel:  cfg.Translate.RealtimeModel,
			TargetLanguage: cfg.Translate.TargetLanguage,
			UseRealtime:    cfg.Translate.UseRealtime,
		})
	}

	if a.newVADModel == nil {
		vadCfg := cfg.VAD
		a.newVADModel = func() (vad.Model, error) {
			return silero.New(vadCfg.ModelPath, silero.WithORTLibraryPath(vadCfg.ORTLibraryPath))
		}
	}

	// ── HTTP routes ──────────────────────────────────────────────────────
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", a.statusHandler)
	mux.Handle("/ws/audio", stream.NewHandler(stream.HandlerConfig{
		NewVADModel: a.newVADModel,
		VAD: vad.Config{
			Threshold:    cfg.VAD.Threshold,
			MinSilenceMs: cfg.VAD.MinSilenceMs,
			MinSpeechMs:  cfg.VAD.MinSpeechMs,
		},
		ASR:            a.transcriber,
		Translator:     a.translator,
		TargetLanguage: cfg.Translate.TargetLanguage,
		Metrics:        a.metrics,
	}))
	mux.Handle("GET /metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))

	health.New(a.healthCheckers()...).Register(mux)

	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// statusHandler serves the root status document.
func (a *App) statusHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": serviceName,
	})
}

// healthCheckers builds the readiness probes for the configured backends.
func (a *App) healthCheckers() []health.Checker {
	return []health.Checker{
		{
			Name: "asr",
			Check: func(context.Context) error {
				if a.transcriber == nil {
					return errors.New("transcriber not configured")
				}
				return nil
			},
		},
		{
			Name: "translate",
			Check: func(context.Context) error {
				if a.cfg.Translate.APIKey == "" {
					return errors.New("translation disabled: no API key")
				}
				return nil
			},
		},
	}
}

// Handler exposes the fully wired HTTP handler. Used by tests to drive the
// server through httptest without binding a port.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Run serves HTTP until ctx is cancelled, then shuts the listener down.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("listening", "addr", a.cfg.Server.ListenAddr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown releases every subsystem in order. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		var errs []error
		for _, c := range a.closers {
			if e := c(ctx); e != nil {
				errs = append(errs, e)
			}
		}
		err = errors.Join(errs...)
	})
	return err
}

// Package stream owns the per-connection pipeline of the live translator:
// inbound PCM is framed and segmented by the VAD, committed utterances are
// transcribed off the read loop by a per-session worker, and every
// resulting segment fans out into an independent correction+translation
// task. All outbound events funnel through a single writer goroutine so no
// two writes interleave on the wire.
//
// Ordering guarantees, per session:
//
//   - windows reach the VAD in arrival order (the read loop is the only
//     producer);
//   - transcript events of one commit are sent in ASR order, before any
//     follow-up event of that commit;
//   - segment IDs on the transcript stream are strictly increasing and
//     contiguous (one worker assigns them);
//   - follow-up events are unordered relative to each other and to later
//     commits — clients correlate via segment_id.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/lask3802/live-translator/internal/history"
	"github.com/lask3802/live-translator/internal/observe"
	"github.com/lask3802/live-translator/pkg/audio"
	"github.com/lask3802/live-translator/pkg/provider/asr"
	"github.com/lask3802/live-translator/pkg/vad"
)

// Sink delivers one serialized event frame to the client. Implementations
// need not be safe for concurrent use; the session serializes all sends
// through its writer goroutine.
type Sink interface {
	Send(ctx context.Context, payload []byte) error
}

// Translator is the correction/translation service a session consumes.
// Implementations must be safe for concurrent use.
type Translator interface {
	Correct(ctx context.Context, text string, history []string) string
	Translate(ctx context.Context, text string, history []string, targetLanguage, extraContext string) (string, bool)
}

// SessionConfig wires one session's collaborators.
type SessionConfig struct {
	Sink       Sink
	VAD        *vad.Sequencer
	ASR        asr.Transcriber
	Translator Translator

	// TargetLanguage is the initial translation target, overridable by
	// config messages.
	TargetLanguage string

	// Metrics is optional; a nil value disables instrumentation.
	Metrics *observe.Metrics
}

// asrJob is one committed utterance queued for transcription.
type asrJob struct {
	samples    []int16
	durationMs float64
}

// Session runs the pipeline for one client connection. ProcessAudio and
// ProcessConfig must be called from a single goroutine (the read loop);
// everything else is internal.
type Session struct {
	sink       Sink
	vad        *vad.Sequencer
	asr        asr.Transcriber
	translator Translator
	metrics    *observe.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	out  chan []byte
	jobs chan asrJob

	writerDone chan struct{}
	workerDone chan struct{}
	followUps  sync.WaitGroup

	closeJobsOnce sync.Once
	closeOutOnce  sync.Once

	history   history.Store
	segmentID uint64 // owned by the ASR worker goroutine

	mu             sync.Mutex
	language       string
	targetLanguage string
	extraContext   string
}

// NewSession creates a session and starts its writer and ASR worker. The
// caller must call Close (or Drain) when the connection ends.
func NewSession(parent context.Context, cfg SessionConfig) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		sink:       cfg.Sink,
		vad:        cfg.VAD,
		asr:        cfg.ASR,
		translator: cfg.Translator,
		metrics:    cfg.Metrics,

		ctx:    ctx,
		cancel: cancel,

		out:  make(chan []byte, 64),
		jobs: make(chan asrJob, 8),

		writerDone: make(chan struct{}),
		workerDone: make(chan struct{}),

		language:       asr.LanguageAuto,
		targetLanguage: cfg.TargetLanguage,
	}

	go s.writer()
	go s.worker()
	return s
}

// Context returns the session context. It is cancelled when the session
// terminates, including on outbound send failure.
func (s *Session) Context() context.Context { return s.ctx }

// ProcessAudio feeds one binary frame of raw PCM through the framer and
// VAD, emitting events and queueing utterances for transcription. A VAD
// model failure is logged and the session continues.
func (s *Session) ProcessAudio(data []byte) {
	events, err := s.vad.Process(data)
	if err != nil {
		slog.Error("vad processing failed", "err", err)
	}

	for _, ev := range events {
		switch ev.Type {
		case vad.EventStart:
			s.countVADEvent("start")
			s.enqueue(mustMarshal(vadStartEvent{Type: typeVADStart}))

		case vad.EventCommit:
			durationMs := audio.DurationMs(len(ev.Audio))
			s.countVADEvent("commit")
			s.enqueue(mustMarshal(vadCommitEvent{Type: typeVADCommit, DurationMs: durationMs}))

			select {
			case s.jobs <- asrJob{samples: ev.Audio, durationMs: durationMs}:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

// ProcessConfig applies a client configuration frame. Malformed JSON and
// unknown message types are logged and ignored; any subset of fields may
// be present and missing fields retain their prior values.
func (s *Session) ProcessConfig(data []byte) {
	var msg configMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("ignoring malformed text frame", "err", err)
		return
	}
	if msg.Type != "config" {
		slog.Warn("ignoring unknown message type", "type", msg.Type)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Language != nil {
		s.language = *msg.Language
	}
	if msg.TargetLanguage != nil {
		s.targetLanguage = *msg.TargetLanguage
	}
	if msg.ExtraContext != nil {
		s.extraContext = *msg.ExtraContext
	}
	slog.Info("session config updated",
		"language", s.language,
		"target_language", s.targetLanguage,
	)
}

// Drain stops accepting new work and waits for the pipeline to empty: the
// queued commits transcribe, the spawned follow-ups finish, and every
// pending event is flushed to the sink. ProcessAudio and ProcessConfig
// must not be called afterwards.
func (s *Session) Drain() {
	s.closeJobsOnce.Do(func() { close(s.jobs) })
	<-s.workerDone
	s.followUps.Wait()
	s.closeOutOnce.Do(func() { close(s.out) })
	<-s.writerDone
}

// Close cancels all in-flight work and releases the session's goroutines.
// In-flight tasks drop their output.
func (s *Session) Close() {
	s.cancel()
	s.closeJobsOnce.Do(func() { close(s.jobs) })
	<-s.workerDone
	s.followUps.Wait()
	s.closeOutOnce.Do(func() { close(s.out) })
	<-s.writerDone
}

// ── Writer ────────────────────────────────────────────────────────────────────

// writer is the only goroutine that touches the sink. A send failure
// terminates the session.
func (s *Session) writer() {
	defer close(s.writerDone)

	for {
		select {
		case <-s.ctx.Done():
			return
		case payload, ok := <-s.out:
			if !ok {
				return
			}
			if err := s.sink.Send(s.ctx, payload); err != nil {
				slog.Warn("outbound send failed, terminating session", "err", err)
				s.cancel()
				return
			}
		}
	}
}

// enqueue hands one serialized event to the writer, preserving FIFO order.
// Events are dropped once the session is cancelled.
func (s *Session) enqueue(payload []byte) {
	select {
	case s.out <- payload:
	case <-s.ctx.Done():
	}
}

// ── ASR worker ────────────────────────────────────────────────────────────────

// worker transcribes committed utterances one at a time, in commit order.
// Running transcription on a single goroutine keeps segment IDs contiguous
// and transcript events ordered while the read loop stays responsive.
func (s *Session) worker() {
	defer close(s.workerDone)

	for {
		select {
		case <-s.ctx.Done():
			return
		case job, ok := <-s.jobs:
			if !ok {
				return
			}
			s.handleCommit(job)
		}
	}
}

// handleCommit runs one utterance through the ASR and fans each returned
// segment out into its follow-up task.
func (s *Session) handleCommit(job asrJob) {
	ctx, span := observe.StartSpan(s.ctx, "commit.transcribe")
	defer span.End()

	start := time.Now()
	segments, err := s.asr.Transcribe(ctx, job.samples, s.currentLanguage())
	if s.metrics != nil {
		s.metrics.ASRDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		// The commit yields no transcripts; the session continues.
		slog.Error("transcription failed", "err", err, "duration_ms", job.durationMs)
		return
	}

	type numbered struct {
		seg asr.Segment
		id  uint64
	}

	// Transcript events first, in ASR order, so every follow-up event of
	// this commit trails the full transcript sequence.
	assigned := make([]numbered, 0, len(segments))
	for _, seg := range segments {
		s.segmentID++
		assigned = append(assigned, numbered{seg: seg, id: s.segmentID})
		s.enqueue(mustMarshal(segmentEvent{
			Type:       typeTranscript,
			SegmentID:  s.segmentID,
			Text:       seg.Text,
			Start:      seg.Start,
			End:        seg.End,
			DurationMs: job.durationMs,
		}))
	}
	if s.metrics != nil && len(assigned) > 0 {
		s.metrics.Segments.Add(ctx, int64(len(assigned)))
	}

	for _, n := range assigned {
		// The history snapshot is captured before spawn so a later
		// segment's prompt always sees a prefix at least as long as an
		// earlier segment's.
		snapshot := s.history.Snapshot()
		target, extra := s.currentTarget()

		s.followUps.Add(1)
		go s.followUp(n.seg, n.id, job.durationMs, snapshot, target, extra)
	}
}

// followUp runs the correction+translation chain for one segment.
func (s *Session) followUp(seg asr.Segment, id uint64, durationMs float64, snapshot []string, target, extra string) {
	defer s.followUps.Done()

	llmStart := time.Now()
	corrected := s.translator.Correct(s.ctx, seg.Text, snapshot)
	if s.metrics != nil {
		s.metrics.LLMDuration.Record(s.ctx, time.Since(llmStart).Seconds(),
			metric.WithAttributes(attribute.String("op", "correct")))
	}

	if corrected != "" && corrected != seg.Text {
		s.enqueue(mustMarshal(segmentEvent{
			Type:       typeTranscriptCorrected,
			SegmentID:  id,
			Text:       corrected,
			SourceText: seg.Text,
			Start:      seg.Start,
			End:        seg.End,
			DurationMs: durationMs,
		}))
	}

	final := corrected
	if final == "" {
		final = seg.Text
	}
	s.history.Append(final)

	llmStart = time.Now()
	translated, ok := s.translator.Translate(s.ctx, final, snapshot, target, extra)
	if s.metrics != nil {
		s.metrics.LLMDuration.Record(s.ctx, time.Since(llmStart).Seconds(),
			metric.WithAttributes(attribute.String("op", "translate")))
	}
	if !ok {
		return
	}

	s.enqueue(mustMarshal(segmentEvent{
		Type:       typeTranslation,
		SegmentID:  id,
		Text:       translated,
		SourceText: final,
		Start:      seg.Start,
		End:        seg.End,
		DurationMs: durationMs,
	}))
}

// ── Session state ─────────────────────────────────────────────────────────────

func (s *Session) currentLanguage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

func (s *Session) currentTarget() (target, extra string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targetLanguage, s.extraContext
}

func (s *Session) countVADEvent(kind string) {
	if s.metrics != nil {
		s.metrics.VADEvents.Add(s.ctx, 1, metric.WithAttributes(attribute.String("event", kind)))
	}
}

// mustMarshal serialises an event struct. The event types contain only
// marshallable fields, so failure is a programming error.
func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

package stream

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/lask3802/live-translator/internal/observe"
	"github.com/lask3802/live-translator/pkg/provider/asr"
	"github.com/lask3802/live-translator/pkg/vad"
)

// maxFrameBytes bounds one inbound WebSocket frame. Clients send audio in
// chunks far below this; it exists to cap a misbehaving peer.
const maxFrameBytes = 1 << 20

// HandlerConfig holds the shared collaborators for all sessions.
type HandlerConfig struct {
	// NewVADModel builds a fresh VAD model per session. VAD models carry
	// recurrent state, so they cannot be shared across streams.
	NewVADModel func() (vad.Model, error)

	// VAD holds the segmentation parameters applied to every session.
	VAD vad.Config

	// ASR is the shared transcriber.
	ASR asr.Transcriber

	// Translator is the shared correction/translation client.
	Translator Translator

	// TargetLanguage is the default translation target for new sessions.
	TargetLanguage string

	// Metrics is optional instrumentation.
	Metrics *observe.Metrics
}

// Handler accepts audio streaming connections and runs one [Session] per
// client until disconnect or fatal error.
type Handler struct {
	cfg HandlerConfig
}

// NewHandler creates the audio WebSocket handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{cfg: cfg}
}

// ServeHTTP upgrades the connection and runs the session loop.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Browser extensions connect from extension origins.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Error("websocket accept failed", "err", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	model, err := h.cfg.NewVADModel()
	if err != nil {
		slog.Error("vad init failed, closing session", "err", err)
		conn.Close(websocket.StatusInternalError, "vad initialization failed")
		return
	}
	if closer, ok := model.(io.Closer); ok {
		defer closer.Close()
	}

	slog.Info("client connected", "remote", r.RemoteAddr)
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.ActiveSessions.Add(r.Context(), 1)
		defer h.cfg.Metrics.ActiveSessions.Add(r.Context(), -1)
	}

	sess := NewSession(r.Context(), SessionConfig{
		Sink:           &wsSink{conn: conn},
		VAD:            vad.NewSequencer(model, h.cfg.VAD),
		ASR:            h.cfg.ASR,
		Translator:     h.cfg.Translator,
		TargetLanguage: h.cfg.TargetLanguage,
		Metrics:        h.cfg.Metrics,
	})
	defer sess.Close()

	// Read loop. The session context ends on outbound send failure, which
	// aborts the pending read as well.
	for {
		typ, data, err := conn.Read(sess.Context())
		if err != nil {
			slog.Info("client disconnected", "remote", r.RemoteAddr, "reason", err)
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}

		switch typ {
		case websocket.MessageBinary:
			sess.ProcessAudio(data)
		case websocket.MessageText:
			sess.ProcessConfig(data)
		}
	}
}

// wsSink adapts a websocket connection to the [Sink] interface. Only the
// session's writer goroutine calls Send.
type wsSink struct {
	conn *websocket.Conn
}

func (w *wsSink) Send(ctx context.Context, payload []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, payload)
}

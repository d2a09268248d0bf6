// Package realtime multiplexes independent request/response pairs over one
// shared WebSocket to the OpenAI Realtime API.
//
// The channel is opened lazily on first use and configured for text-only
// output. Each request sends a single-shot response.create event tagged
// with a random request_id and reads server events until the matching
// response.done arrives. A mutex makes the channel single-flight: at most
// one round-trip is outstanding at a time, which is sufficient because
// per-segment LLM calls for a single speaker are naturally serialized by
// the rate of human speech. Responses carrying a foreign request_id are
// consumed and ignored.
//
// On any I/O error the socket is discarded; the next request reopens it.
package realtime

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const defaultBaseURL = "wss://api.openai.com/v1/realtime"

// maxEventBytes bounds a single server event frame.
const maxEventBytes = 1 << 20

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// Client owns the shared upstream realtime channel. It is safe for
// concurrent use; concurrent requests serialize on the internal lock.
type Client struct {
	apiKey  string
	model   string
	baseURL string

	mu   sync.Mutex
	conn *websocket.Conn
}

// New creates a Client for the given credential and model. No connection is
// made until the first Request.
func New(apiKey, model string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Type             string   `json:"type"`
	OutputModalities []string `json:"output_modalities"`
}

type responseCreateEvent struct {
	Type     string         `json:"type"`
	Response responseParams `json:"response"`
}

type responseParams struct {
	Conversation     string         `json:"conversation"`
	Metadata         map[string]any `json:"metadata"`
	OutputModalities []string       `json:"output_modalities"`
	Instructions     string         `json:"instructions"`
	Input            []inputItem    `json:"input"`
}

type inputItem struct {
	Type    string      `json:"type"`
	Role    string      `json:"role"`
	Content []inputPart `json:"content"`
}

type inputPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type     string             `json:"type"`
	Message  string             `json:"message,omitempty"`
	Error    *serverErrorDetail `json:"error,omitempty"`
	Response *serverResponse    `json:"response,omitempty"`
}

type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverResponse struct {
	Metadata map[string]string `json:"metadata"`
	Output   []outputItem      `json:"output"`
}

type outputItem struct {
	Content []outputPart `json:"content"`
}

type outputPart struct {
	Type string  `json:"type"`
	Text *string `json:"text"`
}

// ── Request ───────────────────────────────────────────────────────────────────

// Request performs one instructions+payload round-trip over the shared
// channel and returns the first text part of the matching response.
func (c *Client) Request(ctx context.Context, instructions, payload string) (string, error) {
	requestID := newRequestID()

	event := responseCreateEvent{
		Type: "response.create",
		Response: responseParams{
			Conversation:     "none",
			Metadata:         map[string]any{"request_id": requestID},
			OutputModalities: []string{"text"},
			Instructions:     instructions,
			Input: []inputItem{{
				Type: "message",
				Role: "user",
				Content: []inputPart{{
					Type: "input_text",
					Text: payload,
				}},
			}},
		},
	}
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("realtime: marshal request: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.ensureConn(ctx)
	if err != nil {
		return "", err
	}

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.discardLocked()
		return "", fmt.Errorf("realtime: send: %w", err)
	}

	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			c.discardLocked()
			return "", fmt.Errorf("realtime: receive: %w", err)
		}

		var evt serverEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			continue
		}

		switch evt.Type {
		case "error":
			msg := evt.Message
			if msg == "" && evt.Error != nil {
				msg = evt.Error.Message
			}
			if msg == "" {
				msg = "unknown realtime error"
			}
			return "", fmt.Errorf("realtime: server error: %s", msg)

		case "response.done":
			if evt.Response == nil || evt.Response.Metadata["request_id"] != requestID {
				// Someone else's response; keep reading.
				continue
			}
			return extractText(evt.Response), nil
		}
	}
}

// ensureConn dials and configures the channel if it is not open. Must be
// called with c.mu held.
func (c *Client) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("realtime: no API key configured")
	}

	wsURL := fmt.Sprintf("%s?model=%s", c.baseURL, c.model)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + c.apiKey},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}
	conn.SetReadLimit(maxEventBytes)

	update := sessionUpdateEvent{
		Type: "session.update",
		Session: sessionParams{
			Type:             "realtime",
			OutputModalities: []string{"text"},
		},
	}
	data, err := json.Marshal(update)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "marshal failed")
		return nil, fmt.Errorf("realtime: marshal session update: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("realtime: session update: %w", err)
	}

	c.conn = conn
	return conn, nil
}

// discardLocked drops the broken channel so the next request redials.
// Must be called with c.mu held.
func (c *Client) discardLocked() {
	if c.conn != nil {
		c.conn.Close(websocket.StatusInternalError, "discarding connection")
		c.conn = nil
	}
}

// Close shuts the channel down if it is open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		err := c.conn.Close(websocket.StatusNormalClosure, "client closed")
		c.conn = nil
		return err
	}
	return nil
}

// extractText returns the first text content part of a response.
func extractText(resp *serverResponse) string {
	for _, item := range resp.Output {
		for _, part := range item.Content {
			if part.Text != nil {
				return *part.Text
			}
		}
	}
	return ""
}

// newRequestID returns a random 128-bit identifier (a version-4 UUID, 122
// random bits) as 32 lowercase hex digits.
func newRequestID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

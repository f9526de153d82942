package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/labelscan/internal/geometry"
	"github.com/MeKo-Tech/labelscan/internal/imagesource"
	"github.com/MeKo-Tech/labelscan/internal/recognition"
	"github.com/MeKo-Tech/labelscan/internal/session"
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow connections from any origin in development
		return true
	},
}

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsWriteWait  = 10 * time.Second
)

// Client message types.
const (
	MessageBegin          = "begin"
	MessageResolveColumns = "resolve_columns"
	MessageCancel         = "cancel"
)

// Server message types.
const (
	MessageEvent     = "event"
	MessageCompleted = "completed"
	MessageCancelled = "cancelled"
	MessageAborted   = "aborted"
	MessageError     = "error"
)

// WebSocketRequest is a message sent by the client.
type WebSocketRequest struct {
	Type string `json:"type"`

	// begin
	Image   []byte         `json:"image,omitempty"`
	Camera  bool           `json:"camera,omitempty"`
	Display *geometry.Size `json:"display,omitempty"`
	Page    int            `json:"page,omitempty"`
	// Paced overrides the server's pacing for this session.
	Paced *bool `json:"paced,omitempty"`

	// resolve_columns
	Column int `json:"column,omitempty"`
}

// WebSocketResponse is a message sent by the server.
type WebSocketResponse struct {
	Type      string                  `json:"type"`
	SessionID string                  `json:"session_id,omitempty"`
	Event     *session.Event          `json:"event,omitempty"`
	Result    *recognition.ScanResult `json:"result,omitempty"`
	Crops     []CropInfo              `json:"crops,omitempty"`
	Error     string                  `json:"error,omitempty"`
	ErrorType string                  `json:"error_type,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// wsWriter serialises writes from the read loop and session goroutines.
type wsWriter struct {
	mu   sync.Mutex
	conn WebSocketConnWriter
}

func (w *wsWriter) send(response WebSocketResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

func (w *wsWriter) sendError(errorType, message string) {
	w.send(WebSocketResponse{Type: MessageError, Error: message, ErrorType: errorType})
}

// wsClient drives at most one scan session at a time for a connection.
type wsClient struct {
	server *Server
	out    *wsWriter
	ctx    context.Context

	mu          sync.Mutex
	sess        *session.Session
	columnTimer *time.Timer
	finished    chan struct{}
}

// scanWebSocketHandler handles WebSocket connections for interactive scans.
func (s *Server) scanWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	s.logger.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &wsClient{server: s, out: &wsWriter{conn: conn}, ctx: ctx}
	defer client.close()

	s.handleWebSocketConnection(conn, client)
}

// handleWebSocketConnection processes messages from a WebSocket connection.
func (s *Server) handleWebSocketConnection(conn *websocket.Conn, client *wsClient) {
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error("WebSocket error", "error", err)
			}
			return
		}

		websocketMessagesTotal.WithLabelValues("received").Inc()

		if messageType == websocket.TextMessage {
			client.handleMessage(data)
		}
	}
}

// handleMessage processes one client message.
func (c *wsClient) handleMessage(data []byte) {
	var req WebSocketRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.out.sendError("invalid_request", fmt.Sprintf("Failed to parse request: %v", err))
		return
	}

	switch req.Type {
	case MessageBegin:
		c.begin(req)
	case MessageResolveColumns:
		c.resolve(req.Column)
	case MessageCancel:
		c.cancel()
	default:
		c.out.sendError("invalid_request", "Unsupported request type: "+req.Type)
	}
}

func (c *wsClient) begin(req WebSocketRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil && c.sess.Outcome() == session.OutcomePending {
		c.out.sendError("session_active", "a scan session is already running on this connection")
		return
	}
	if c.server.gateway == nil {
		c.out.sendError("unavailable", "Recognition gateway not initialized")
		return
	}
	if len(req.Image) == 0 {
		c.out.sendError("invalid_request", "No image data provided")
		return
	}

	img, _, err := imagesource.Decode(bytes.NewReader(req.Image), imagesource.Options{
		Page:     req.Page,
		MaxBytes: c.server.maxUploadMB * 1024 * 1024,
	})
	if err != nil {
		c.out.sendError("invalid_image", fmt.Sprintf("Failed to decode image: %v", err))
		return
	}

	display := c.server.display
	if req.Display != nil {
		if req.Display.IsEmpty() {
			c.out.sendError("invalid_request", "display size must be positive")
			return
		}
		display = *req.Display
	}
	pacing := c.server.pacing
	if req.Paced != nil && !*req.Paced {
		pacing = session.NoPacing()
	}

	var sess *session.Session
	events := session.EventFunc(func(e session.Event) {
		c.out.send(WebSocketResponse{Type: MessageEvent, SessionID: e.SessionID.String(), Event: &e})
		if e.Kind == session.EventColumnsRequired {
			c.startColumnTimer(sess)
		}
	})
	sess = session.New(c.server.sessionOptions(display, pacing, events))
	if err := sess.Begin(c.ctx, session.Source{Image: img, IsCamera: req.Camera}); err != nil {
		c.out.sendError("invalid_request", err.Error())
		return
	}

	finished := make(chan struct{})
	c.sess = sess
	c.finished = finished
	go c.await(sess, finished)
}

// await reports the end of sess to the client.
func (c *wsClient) await(sess *session.Session, finished chan struct{}) {
	defer close(finished)
	<-sess.Done()
	c.stopColumnTimer()

	outcome, err := sess.Wait(context.Background())
	response := WebSocketResponse{SessionID: sess.ID().String()}
	switch outcome {
	case session.OutcomeCompleted:
		response.Type = MessageCompleted
		if result, ok := sess.Result(); ok {
			response.Result = &result
		}
		response.Crops = cropInfos(sess.Crops(), false)
	case session.OutcomeAborted:
		response.Type = MessageAborted
		if err != nil {
			response.Error = err.Error()
		}
	default:
		response.Type = MessageCancelled
	}
	c.out.send(response)
}

func (c *wsClient) resolve(column int) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	if sess == nil {
		c.out.sendError("no_session", "no scan session on this connection")
		return
	}
	if err := sess.Resolve(session.ColumnDecision{Column: column}); err != nil {
		errorType := "invalid_column"
		if errors.Is(err, session.ErrInvalidTransition) {
			errorType = "invalid_transition"
		}
		c.out.sendError(errorType, err.Error())
		return
	}
	c.stopColumnTimer()
}

func (c *wsClient) cancel() {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	if sess == nil || !sess.Cancel() {
		c.out.sendError("no_session", "no running scan session on this connection")
	}
}

// startColumnTimer cancels sess if no column decision arrives in time.
func (c *wsClient) startColumnTimer(sess *session.Session) {
	timeout := c.server.columnTimeout
	if timeout <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.columnTimer != nil {
		c.columnTimer.Stop()
	}
	c.columnTimer = time.AfterFunc(timeout, func() {
		if sess.Cancel() {
			c.server.logger.Info("column decision timed out", "session_id", sess.ID().String())
		}
	})
}

func (c *wsClient) stopColumnTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.columnTimer != nil {
		c.columnTimer.Stop()
		c.columnTimer = nil
	}
}

// close cancels a running session and waits for its final message.
func (c *wsClient) close() {
	c.mu.Lock()
	sess, finished := c.sess, c.finished
	c.mu.Unlock()

	if sess == nil {
		return
	}
	sess.Cancel()
	<-finished
}

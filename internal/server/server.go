package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/franckalain/foodwise/internal/analysis"
	"github.com/franckalain/foodwise/internal/chat"
	"github.com/franckalain/foodwise/internal/errors"
	"github.com/franckalain/foodwise/internal/models"
)

const (
	defaultHistoryLimit = 20
	shutdownTimeout     = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // In production, this should be more restrictive
	},
}

// Analyzer runs the scan-to-insight pipeline.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*models.ScanRecord, error)
}

// Assistant answers chat messages.
type Assistant interface {
	SendMessage(ctx context.Context, req chat.SendRequest) (*models.Conversation, error)
	EnsureWelcome(ctx context.Context, userID string) (*models.Conversation, error)
	Conversations(ctx context.Context, userID string) ([]*models.Conversation, error)
	DeleteConversation(ctx context.Context, userID, id string) error
}

// ScanStore is the scan history the server reads and prunes.
type ScanStore interface {
	ListScans(ctx context.Context, userID string, limit int) ([]*models.ScanRecord, error)
	DeleteScan(ctx context.Context, userID, id string) error
}

type Server struct {
	scans     ScanStore
	analyzer  Analyzer
	assistant Assistant
	staticDir string
	clients   sync.Map
}

func New(scans ScanStore, analyzer Analyzer, assistant Assistant, staticDir string) *Server {
	return &Server{
		scans:     scans,
		analyzer:  analyzer,
		assistant: assistant,
		staticDir: staticDir,
	}
}

// Handler returns the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/ws", s.handleWebSocket)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/users/{userID}").Subrouter()
	api.HandleFunc("/scans", s.handleListScans).Methods(http.MethodGet)
	api.HandleFunc("/scans/{id}", s.handleDeleteScan).Methods(http.MethodDelete)
	api.HandleFunc("/conversations", s.handleListConversations).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}", s.handleDeleteConversation).Methods(http.MethodDelete)

	if s.staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.staticDir)))
	}

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(loggingMiddleware(r))
}

// Start serves on port until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, port string) error {
	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "port", port)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	n := 0
	s.clients.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// client is one websocket connection. Writes are serialized; ctx is canceled
// when the socket closes so in-flight work stops.
type client struct {
	id   string
	conn *websocket.Conn
	ctx  context.Context

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type scanData struct {
	UserID  string               `json:"user_id"`
	Image   string               `json:"image"` // base64, data URL prefix allowed
	Barcode string               `json:"barcode"`
	Profile models.HealthProfile `json:"profile"`
}

type chatData struct {
	UserID         string                `json:"user_id"`
	ConversationID string                `json:"conversation_id"`
	Message        string                `json:"message"`
	Profile        *models.HealthProfile `json:"profile"`
}

type userData struct {
	UserID string `json:"user_id"`
	ID     string `json:"id"`
	Limit  int    `json:"limit"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := &client{id: uuid.New().String(), conn: conn, ctx: ctx}
	s.clients.Store(c.id, c)
	defer s.clients.Delete(c.id)
	defer c.wg.Wait()
	defer cancel()

	slog.Debug("Client connected", "client_id", c.id)
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("Error reading message", "client_id", c.id, "error", err)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError(errors.NewInvalidRequest("invalid message format"))
			continue
		}
		s.handleWebSocketMessage(c, msg)
	}
}

func (s *Server) handleWebSocketMessage(c *client, msg inbound) {
	switch msg.Type {
	case "scan":
		var data scanData
		if !c.decode(msg.Data, &data) {
			return
		}
		c.spawn(func() { s.handleScan(c, data) })
	case "chat":
		var data chatData
		if !c.decode(msg.Data, &data) {
			return
		}
		c.spawn(func() { s.handleChat(c, data) })
	case "get_history":
		var data userData
		if !c.decode(msg.Data, &data) {
			return
		}
		s.handleGetHistory(c, data)
	case "delete_scan":
		var data userData
		if !c.decode(msg.Data, &data) {
			return
		}
		s.handleDeleteScanMessage(c, data)
	case "get_conversations":
		var data userData
		if !c.decode(msg.Data, &data) {
			return
		}
		s.handleGetConversations(c, data)
	default:
		c.sendError(errors.NewInvalidRequest("unknown message type " + msg.Type))
	}
}

func (s *Server) handleScan(c *client, data scanData) {
	var imageData []byte
	if data.Image != "" {
		raw := data.Image
		if i := strings.Index(raw, ";base64,"); i >= 0 {
			raw = raw[i+len(";base64,"):]
		}
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			c.sendError(errors.NewInvalidRequest("invalid image encoding"))
			return
		}
		imageData = decoded
	}

	rec, err := s.analyzer.Analyze(c.ctx, analysis.Request{
		UserID:  data.UserID,
		Profile: data.Profile,
		Image:   imageData,
		Barcode: data.Barcode,
	})
	if err != nil {
		slog.Warn("Scan failed", "client_id", c.id, "user_id", data.UserID, "code", errors.CodeOf(err), "error", err)
		c.sendError(err)
		return
	}

	slog.Info("Scan analyzed", "user_id", rec.UserID, "scan_id", rec.ID, "nutri_score", rec.NutriScore, "mode", rec.Mode)
	c.sendMessage("scan_result", rec)
}

func (s *Server) handleChat(c *client, data chatData) {
	conv, err := s.assistant.SendMessage(c.ctx, chat.SendRequest{
		UserID:         data.UserID,
		ConversationID: data.ConversationID,
		Message:        data.Message,
		Profile:        data.Profile,
	})
	if err != nil {
		c.sendError(err)
		return
	}
	c.sendMessage("chat_reply", conv)
}

func (s *Server) handleGetHistory(c *client, data userData) {
	if data.UserID == "" {
		c.sendError(errors.NewInvalidRequest("user id is required"))
		return
	}
	limit := data.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	scans, err := s.scans.ListScans(c.ctx, data.UserID, limit)
	if err != nil {
		c.sendError(errors.NewPersistence(err))
		return
	}
	c.sendMessage("history", map[string]any{"items": scans})
}

func (s *Server) handleDeleteScanMessage(c *client, data userData) {
	if data.UserID == "" || data.ID == "" {
		c.sendError(errors.NewInvalidRequest("user id and scan id are required"))
		return
	}
	if err := s.scans.DeleteScan(c.ctx, data.UserID, data.ID); err != nil {
		c.sendError(err)
		return
	}
	c.sendMessage("scan_deleted", map[string]string{"id": data.ID})
}

func (s *Server) handleGetConversations(c *client, data userData) {
	if _, err := s.assistant.EnsureWelcome(c.ctx, data.UserID); err != nil {
		c.sendError(err)
		return
	}
	convs, err := s.assistant.Conversations(c.ctx, data.UserID)
	if err != nil {
		c.sendError(err)
		return
	}
	c.sendMessage("conversations", map[string]any{"items": convs})
}

func (c *client) spawn(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *client) decode(raw json.RawMessage, v any) bool {
	if len(raw) == 0 || string(raw) == "null" {
		c.sendError(errors.NewInvalidRequest("missing message data"))
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		c.sendError(errors.NewInvalidRequest("invalid message data"))
		return false
	}
	return true
}

func (c *client) sendMessage(messageType string, data any) {
	c.write(map[string]any{
		"type": messageType,
		"data": data,
	})
}

func (c *client) sendError(err error) {
	code := errors.CodeOf(err)
	message := err.Error()
	if pErr, ok := errors.As(err); ok {
		message = pErr.Message
	}
	c.write(map[string]any{
		"type":    "error",
		"code":    code,
		"message": message,
	})
}

func (c *client) write(msg any) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		slog.Debug("Error sending message", "client_id", c.id, "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

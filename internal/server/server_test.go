package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franckalain/foodwise/internal/analysis"
	"github.com/franckalain/foodwise/internal/chat"
	"github.com/franckalain/foodwise/internal/database"
	"github.com/franckalain/foodwise/internal/errors"
	"github.com/franckalain/foodwise/internal/models"
)

type stubAnalyzer struct {
	mu       sync.Mutex
	requests []analysis.Request
	result   *models.ScanRecord
	err      error

	block    bool
	started  chan struct{}
	canceled chan struct{}
}

func (a *stubAnalyzer) Analyze(ctx context.Context, req analysis.Request) (*models.ScanRecord, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.mu.Unlock()

	if a.block {
		close(a.started)
		<-ctx.Done()
		close(a.canceled)
		return nil, errors.NewCanceled(ctx.Err())
	}
	return a.result, a.err
}

func (a *stubAnalyzer) lastRequest() analysis.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests[len(a.requests)-1]
}

type stubAssistant struct {
	conv *models.Conversation
	err  error

	mu      sync.Mutex
	sent    []chat.SendRequest
	welcome []string
}

func (a *stubAssistant) SendMessage(_ context.Context, req chat.SendRequest) (*models.Conversation, error) {
	a.mu.Lock()
	a.sent = append(a.sent, req)
	a.mu.Unlock()
	return a.conv, a.err
}

func (a *stubAssistant) sentRequests() []chat.SendRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]chat.SendRequest(nil), a.sent...)
}

func (a *stubAssistant) welcomed() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.welcome...)
}

func (a *stubAssistant) EnsureWelcome(_ context.Context, userID string) (*models.Conversation, error) {
	a.mu.Lock()
	a.welcome = append(a.welcome, userID)
	a.mu.Unlock()
	return a.conv, nil
}

func (a *stubAssistant) Conversations(_ context.Context, userID string) ([]*models.Conversation, error) {
	if userID == "" {
		return nil, errors.NewInvalidRequest("user id is required")
	}
	return []*models.Conversation{a.conv}, nil
}

func (a *stubAssistant) DeleteConversation(_ context.Context, _, id string) error {
	if id != a.conv.ID {
		return errors.NewNotFound("conversation", id)
	}
	return nil
}

type fixture struct {
	db        *database.SQLiteDB
	analyzer  *stubAnalyzer
	assistant *stubAssistant
	server    *Server
	http      *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{
		db:       db,
		analyzer: &stubAnalyzer{},
		assistant: &stubAssistant{conv: &models.Conversation{
			ID:     "conv-1",
			UserID: "user-1",
			Title:  chat.WelcomeTitle,
		}},
	}
	f.server = New(db, f.analyzer, f.assistant, "")
	f.http = httptest.NewServer(f.server.Handler())
	t.Cleanup(f.http.Close)
	return f
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type reply struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
}

func roundTrip(t *testing.T, conn *websocket.Conn, msgType string, data any) reply {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": msgType, "data": data}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var r reply
	require.NoError(t, conn.ReadJSON(&r))
	return r
}

func seedScan(t *testing.T, db *database.SQLiteDB, userID, name string) *models.ScanRecord {
	t.Helper()
	rec := &models.ScanRecord{
		UserID:         userID,
		ProductName:    name,
		NutriScore:     "B",
		AnalysisPoints: []string{"Good fiber"},
		Mode:           models.ModeVision,
	}
	require.NoError(t, db.CreateScan(context.Background(), rec))
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.http.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocket_Scan(t *testing.T) {
	f := newFixture(t)
	f.analyzer.result = &models.ScanRecord{ID: "scan-1", UserID: "user-1", NutriScore: "E", ProductName: "Coca-Cola"}
	conn := f.dial(t)

	img := []byte{0xff, 0xd8, 0xff}
	r := roundTrip(t, conn, "scan", map[string]any{
		"user_id": "user-1",
		"image":   "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img),
		"profile": map[string]any{"age": 29, "height_cm": 180, "weight_kg": 75},
	})

	require.Equal(t, "scan_result", r.Type)
	var rec models.ScanRecord
	require.NoError(t, json.Unmarshal(r.Data, &rec))
	assert.Equal(t, "scan-1", rec.ID)
	assert.Equal(t, "E", rec.NutriScore)

	req := f.analyzer.lastRequest()
	assert.Equal(t, "user-1", req.UserID)
	assert.Equal(t, img, req.Image)
	assert.Equal(t, 29, req.Profile.Age)
}

func TestWebSocket_ScanErrors(t *testing.T) {
	f := newFixture(t)
	f.analyzer.err = errors.NewParseInvalidScore("F")
	conn := f.dial(t)

	r := roundTrip(t, conn, "scan", map[string]any{"user_id": "user-1", "barcode": "5000112637922"})
	assert.Equal(t, "error", r.Type)
	assert.Equal(t, string(errors.ErrParseInvalidScore), r.Code)

	r = roundTrip(t, conn, "scan", map[string]any{"user_id": "user-1", "image": "%%%"})
	assert.Equal(t, "error", r.Type)
	assert.Equal(t, string(errors.ErrInvalidRequest), r.Code)

	r = roundTrip(t, conn, "teleport", map[string]any{})
	assert.Equal(t, string(errors.ErrInvalidRequest), r.Code)

	r = roundTrip(t, conn, "scan", nil)
	assert.Equal(t, "missing message data", r.Message)
}

func TestWebSocket_CloseCancelsScan(t *testing.T) {
	f := newFixture(t)
	f.analyzer.block = true
	f.analyzer.started = make(chan struct{})
	f.analyzer.canceled = make(chan struct{})
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "scan",
		"data": map[string]any{"user_id": "user-1", "barcode": "5000112637922"},
	}))
	<-f.analyzer.started
	require.NoError(t, conn.Close())

	select {
	case <-f.analyzer.canceled:
	case <-time.After(5 * time.Second):
		t.Fatal("analysis was not canceled after the socket closed")
	}
	assert.Eventually(t, func() bool { return f.server.Clients() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestWebSocket_Chat(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	r := roundTrip(t, conn, "chat", map[string]any{
		"user_id":         "user-1",
		"conversation_id": "conv-1",
		"message":         "Is oat milk healthy?",
	})
	require.Equal(t, "chat_reply", r.Type)

	var conv models.Conversation
	require.NoError(t, json.Unmarshal(r.Data, &conv))
	assert.Equal(t, "conv-1", conv.ID)

	sent := f.assistant.sentRequests()
	require.Len(t, sent, 1)
	assert.Equal(t, "Is oat milk healthy?", sent[0].Message)
	assert.Nil(t, sent[0].Profile)
}

func TestWebSocket_HistoryAndDelete(t *testing.T) {
	f := newFixture(t)
	rec := seedScan(t, f.db, "user-1", "Oat milk")
	seedScan(t, f.db, "user-2", "Other")
	conn := f.dial(t)

	r := roundTrip(t, conn, "get_history", map[string]any{"user_id": "user-1"})
	require.Equal(t, "history", r.Type)
	var history struct {
		Items []models.ScanRecord `json:"items"`
	}
	require.NoError(t, json.Unmarshal(r.Data, &history))
	require.Len(t, history.Items, 1)
	assert.Equal(t, "Oat milk", history.Items[0].ProductName)

	r = roundTrip(t, conn, "delete_scan", map[string]any{"user_id": "user-2", "id": rec.ID})
	assert.Equal(t, string(errors.ErrNotFound), r.Code)

	r = roundTrip(t, conn, "delete_scan", map[string]any{"user_id": "user-1", "id": rec.ID})
	assert.Equal(t, "scan_deleted", r.Type)

	r = roundTrip(t, conn, "get_history", map[string]any{})
	assert.Equal(t, string(errors.ErrInvalidRequest), r.Code)
}

func TestWebSocket_Conversations(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	r := roundTrip(t, conn, "get_conversations", map[string]any{"user_id": "user-1"})
	require.Equal(t, "conversations", r.Type)
	assert.Equal(t, []string{"user-1"}, f.assistant.welcomed())

	var list struct {
		Items []models.Conversation `json:"items"`
	}
	require.NoError(t, json.Unmarshal(r.Data, &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, chat.WelcomeTitle, list.Items[0].Title)
}

func TestREST_Scans(t *testing.T) {
	f := newFixture(t)
	rec := seedScan(t, f.db, "user-1", "Oat milk")
	seedScan(t, f.db, "user-1", "Rye bread")

	resp, err := http.Get(f.http.URL + "/api/users/user-1/scans?limit=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var scans []models.ScanRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&scans))
	assert.Len(t, scans, 1)

	bad, err := http.Get(f.http.URL + "/api/users/user-1/scans?limit=abc")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	del := func(user, id string) int {
		req, err := http.NewRequest(http.MethodDelete, f.http.URL+"/api/users/"+user+"/scans/"+id, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	assert.Equal(t, http.StatusNotFound, del("user-2", rec.ID))
	assert.Equal(t, http.StatusNoContent, del("user-1", rec.ID))
	assert.Equal(t, http.StatusNotFound, del("user-1", rec.ID))
}

func TestREST_Conversations(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.http.URL + "/api/users/user-1/conversations")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var convs []models.Conversation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&convs))
	require.Len(t, convs, 1)
	assert.Equal(t, "conv-1", convs[0].ID)

	req, err := http.NewRequest(http.MethodDelete, f.http.URL+"/api/users/user-1/conversations/missing", nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, delResp.StatusCode)
}

func TestREST_CORS(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodGet, f.http.URL+"/api/users/user-1/scans", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(errors.ErrNotFound))
	assert.Equal(t, http.StatusBadRequest, statusFor(errors.ErrInvalidRequest))
	assert.Equal(t, http.StatusConflict, statusFor(errors.ErrInFlight))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.ErrTransport))
}

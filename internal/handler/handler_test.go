package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"dream-weaver-go/internal/config"
	"dream-weaver-go/internal/model"
	"dream-weaver-go/internal/service"
	"dream-weaver-go/internal/speech"
	"dream-weaver-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memStore struct {
	mu      sync.Mutex
	entries []model.DreamEntry
}

func (s *memStore) Load(ctx context.Context) []model.DreamEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.DreamEntry{}, s.entries...)
}

func (s *memStore) Save(ctx context.Context, entries []model.DreamEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append([]model.DreamEntry(nil), entries...)
}

type stubAnalysis struct{ err error }

func (s stubAnalysis) Analyze(ctx context.Context, transcript string) (service.AnalysisResult, error) {
	if s.err != nil {
		return service.AnalysisResult{}, s.err
	}
	return service.AnalysisResult{ImageURL: "data:image/png;base64,AAAA", Interpretation: "## Potential Meaning"}, nil
}

type stubChat struct{}

func (stubChat) Respond(ctx context.Context, transcript, interpretation string, history []model.ChatTurn) (string, error) {
	return "echo: " + history[len(history)-1].Text, nil
}

type stubLinker struct{}

func (stubLinker) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	if !strings.HasPrefix(strings.TrimPrefix(objectName, "/"), "dreams/") {
		return "", errors.New("invalid object")
	}
	return "http://minio.local/bucket" + objectName + "?sig=1", nil
}

type testServer struct {
	router   *gin.Engine
	sessions *service.SessionManager
	journal  *service.Journal
}

func newTestServer(t *testing.T, analysisErr error, seed ...model.DreamEntry) *testServer {
	t.Helper()
	journal := service.NewJournal(context.Background(), &memStore{entries: seed}, nil)
	factory := func(capture *speech.Capture) *service.WorkflowController {
		return service.NewWorkflowController(capture, stubAnalysis{err: analysisErr}, stubChat{}, journal,
			service.OptionsFromConfig(config.WorkflowConfig{}, config.ChatConfig{}))
	}
	sessions := service.NewSessionManager(token.NewJWTManager("test-secret", 1), factory, time.Hour)
	t.Cleanup(sessions.CloseAll)

	router := NewRouter(RouterDeps{
		Sessions: sessions,
		Journal:  journal,
		Search:   service.NewSearchService(nil, "dreams", journal),
		Images:   stubLinker{},
	})
	return &testServer{router: router, sessions: sessions, journal: journal}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(t *testing.T, method, path, tok string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func (s *testServer) createSession(t *testing.T) (string, *service.Session) {
	t.Helper()
	w, env := s.do(t, http.MethodPost, "/api/v1/sessions", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var data struct {
		SessionID string `json:"sessionId"`
		Token     string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	sess, err := s.sessions.Get(data.SessionID)
	require.NoError(t, err)
	return data.Token, sess
}

type snapshotView struct {
	State          string            `json:"state"`
	Error          string            `json:"error"`
	LiveTranscript string            `json:"liveTranscript"`
	ActiveDream    *model.DreamEntry `json:"activeDream"`
	ChatHistory    []model.ChatTurn  `json:"chatHistory"`
}

func decodeSnapshot(t *testing.T, env envelope) snapshotView {
	t.Helper()
	var snap snapshotView
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	return snap
}

func TestSessionRoutes_RequireToken(t *testing.T) {
	s := newTestServer(t, nil)

	w, _ := s.do(t, http.MethodGet, "/api/v1/session", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/v1/dreams", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionFlow_RecordChatSave(t *testing.T) {
	s := newTestServer(t, nil)
	tok, sess := s.createSession(t)
	detach := sess.Engine.Attach()
	defer detach()

	w, env := s.do(t, http.MethodPost, "/api/v1/session/recording/start", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "recording", decodeSnapshot(t, env).State)

	require.True(t, sess.Engine.Push(speech.Event{Results: []speech.Result{{Transcript: "I was flying over a purple ocean", IsFinal: true}}}))

	w, env = s.do(t, http.MethodPost, "/api/v1/session/recording/stop", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeSnapshot(t, env)
	assert.Equal(t, "complete", snap.State)
	require.NotNil(t, snap.ActiveDream)
	assert.Equal(t, "I was flying over a purple ocean", snap.ActiveDream.Transcript)

	w, env = s.do(t, http.MethodPost, "/api/v1/session/tags", tok, gin.H{"tag": " Flying "})
	require.Equal(t, http.StatusOK, w.Code)
	w, env = s.do(t, http.MethodPut, "/api/v1/session/tags", tok, gin.H{"tags": []string{"flying", "Ocean", "night"}})
	require.Equal(t, http.StatusOK, w.Code)
	w, env = s.do(t, http.MethodDelete, "/api/v1/session/tags/night", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.Tags{"flying", "ocean"}, decodeSnapshot(t, env).ActiveDream.Tags)

	w, env = s.do(t, http.MethodPost, "/api/v1/session/chat", tok, gin.H{"message": "why purple?"})
	require.Equal(t, http.StatusOK, w.Code)
	history := decodeSnapshot(t, env).ChatHistory
	require.Len(t, history, 2)
	assert.Equal(t, "echo: why purple?", history[1].Text)

	w, env = s.do(t, http.MethodPost, "/api/v1/session/save", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "idle", decodeSnapshot(t, env).State)
	assert.Equal(t, 1, s.journal.Len())

	w, env = s.do(t, http.MethodGet, "/api/v1/dreams?tag=OCE", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cards []model.DreamSummary
	require.NoError(t, json.Unmarshal(env.Data, &cards))
	require.Len(t, cards, 1)
	assert.Equal(t, []string{"flying", "ocean"}, cards[0].Tags)
}

func TestSessionFlow_ErrorsSurfaceThroughState(t *testing.T) {
	s := newTestServer(t, nil)
	tok, _ := s.createSession(t)

	// 没有连接语音 WebSocket 时识别不可用
	w, env := s.do(t, http.MethodPost, "/api/v1/session/recording/start", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeSnapshot(t, env)
	assert.Equal(t, "error", snap.State)
	assert.Equal(t, service.MsgUnsupported, snap.Error)

	w, env = s.do(t, http.MethodPost, "/api/v1/session/reset", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "idle", decodeSnapshot(t, env).State)
}

func TestSessionFlow_InvalidTransitionIsConflict(t *testing.T) {
	s := newTestServer(t, nil)
	tok, _ := s.createSession(t)

	w, env := s.do(t, http.MethodPost, "/api/v1/session/save", tok, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, http.StatusConflict, env.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/session/dreams/missing/view", tok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/session/chat", tok, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJournalRoutes(t *testing.T) {
	old := model.DreamEntry{ID: "a", Transcript: "a dark forest", Interpretation: "fear", Tags: model.Tags{"forest", "night", "wolf", "moon"}, CreatedAt: 1}
	newer := model.DreamEntry{ID: "b", Transcript: "a purple ocean", Interpretation: "emotion", Tags: model.Tags{"sea"}, CreatedAt: 2}
	s := newTestServer(t, nil, old, newer)
	tok, _ := s.createSession(t)

	w, env := s.do(t, http.MethodGet, "/api/v1/dreams", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cards []model.DreamSummary
	require.NoError(t, json.Unmarshal(env.Data, &cards))
	require.Len(t, cards, 2)
	assert.Equal(t, "b", cards[0].ID)
	assert.Equal(t, []string{"forest", "night", "wolf"}, cards[1].Tags)

	w, env = s.do(t, http.MethodGet, "/api/v1/dreams/a", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var full model.DreamEntry
	require.NoError(t, json.Unmarshal(env.Data, &full))
	assert.Equal(t, old, full)

	w, _ = s.do(t, http.MethodGet, "/api/v1/dreams/zzz", tok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env = s.do(t, http.MethodGet, "/api/v1/dreams/search?query=OCEAN", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hits []model.SearchHit
	require.NoError(t, json.Unmarshal(env.Data, &hits))
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].Dream.ID)

	w, _ = s.do(t, http.MethodPost, "/api/v1/session/dreams/a/view", tok, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestImageRedirect(t *testing.T) {
	s := newTestServer(t, nil)

	w, _ := s.do(t, http.MethodGet, "/api/v1/images/dreams/abc.png", "", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "http://minio.local/bucket/dreams/abc.png?sig=1", w.Header().Get("Location"))

	w, _ = s.do(t, http.MethodGet, "/api/v1/images/etc/passwd", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSpeechWebSocket(t *testing.T) {
	s := newTestServer(t, nil)
	tok, sess := s.createSession(t)

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/speech/" + tok
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	readSnapshot := func() snapshotView {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg struct {
			Type     string       `json:"type"`
			Snapshot snapshotView `json:"snapshot"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		require.Equal(t, "snapshot", msg.Type)
		return msg.Snapshot
	}

	assert.Equal(t, "idle", readSnapshot().State)
	require.Eventually(t, sess.Engine.Available, time.Second, 5*time.Millisecond)

	require.NoError(t, sess.Controller.StartRecording(context.Background()))
	assert.Equal(t, "recording", readSnapshot().State)

	require.NoError(t, conn.WriteJSON(gin.H{
		"type":        "result",
		"resultIndex": 0,
		"results":     []gin.H{{"transcript": "I was swimming", "isFinal": false}},
	}))
	for {
		snap := readSnapshot()
		if snap.LiveTranscript == "I was swimming" {
			break
		}
	}

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return !sess.Engine.Available() }, time.Second, 5*time.Millisecond)
}

func TestSpeechWebSocket_RejectsBadToken(t *testing.T) {
	s := newTestServer(t, nil)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/speech/bogus", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestJournal_SharedAcrossSessions(t *testing.T) {
	s := newTestServer(t, nil)
	tokA, sessA := s.createSession(t)
	tokB, _ := s.createSession(t)
	detach := sessA.Engine.Attach()
	defer detach()

	_, _ = s.do(t, http.MethodPost, "/api/v1/session/recording/start", tokA, nil)
	require.True(t, sessA.Engine.Push(speech.Event{Results: []speech.Result{{Transcript: "a lighthouse in the desert", IsFinal: true}}}))
	w, _ := s.do(t, http.MethodPost, "/api/v1/session/recording/stop", tokA, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(t, http.MethodPost, "/api/v1/session/save", tokA, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// 日志是单一槽位，其他会话同样可见
	w, env := s.do(t, http.MethodGet, "/api/v1/dreams", tokB, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cards []model.DreamSummary
	require.NoError(t, json.Unmarshal(env.Data, &cards))
	require.Len(t, cards, 1)
	assert.Equal(t, "a lighthouse in the desert", cards[0].Transcript)
}

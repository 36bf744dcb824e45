package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dream-weaver-go/internal/speech"
	"dream-weaver-go/pkg/log"
	"dream-weaver-go/pkg/token"

	"github.com/google/uuid"
)

// Session 是一个客户端会话：一个流程控制器加上供浏览器推送识别结果的语音引擎。
type Session struct {
	ID         string
	Controller *WorkflowController
	Engine     *speech.StreamEngine

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// ControllerFactory 为新会话创建流程控制器。
type ControllerFactory func(capture *speech.Capture) *WorkflowController

// SessionManager 管理所有客户端会话，并签发以会话 ID 为主体的 JWT。
type SessionManager struct {
	jwtManager *token.JWTManager
	factory    ControllerFactory
	idleTTL    time.Duration
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionManager 创建一个新的 SessionManager 实例。
func NewSessionManager(jwtManager *token.JWTManager, factory ControllerFactory, idleTTL time.Duration) *SessionManager {
	return &SessionManager{
		jwtManager: jwtManager,
		factory:    factory,
		idleTTL:    idleTTL,
		now:        time.Now,
		sessions:   make(map[string]*Session),
	}
}

// Create 创建一个新会话并返回其 token。
func (m *SessionManager) Create() (*Session, string, error) {
	id := uuid.NewString()
	tok, err := m.jwtManager.GenerateToken(id)
	if err != nil {
		return nil, "", fmt.Errorf("failed to sign session token: %w", err)
	}

	engine := speech.NewStreamEngine()
	sess := &Session{
		ID:         id,
		Controller: m.factory(speech.NewCapture(engine)),
		Engine:     engine,
		lastSeen:   m.now(),
	}

	m.mu.Lock()
	m.sessions[id] = sess
	total := len(m.sessions)
	m.mu.Unlock()

	log.Infof("[SessionManager] 创建会话成功, id: %s, total: %d", id, total)
	return sess, tok, nil
}

// Get 按 ID 查找会话并刷新其活跃时间。
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.touch(m.now())
	return sess, nil
}

// Resolve 校验 token 并返回对应的会话。
func (m *SessionManager) Resolve(tokenString string) (*Session, error) {
	claims, err := m.jwtManager.VerifyToken(tokenString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionNotFound, err)
	}
	return m.Get(claims.SessionID)
}

// Len 返回当前会话数量。
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep 清理空闲超过 idleTTL 且没有已连接语音客户端的会话，返回清理数量。
func (m *SessionManager) Sweep() int {
	if m.idleTTL <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.idleTTL)

	var expired []*Session
	m.mu.Lock()
	for id, sess := range m.sessions {
		if sess.Engine.Available() || !sess.idleSince().Before(cutoff) {
			continue
		}
		delete(m.sessions, id)
		expired = append(expired, sess)
	}
	m.mu.Unlock()

	for _, sess := range expired {
		sess.Controller.Close()
	}
	if len(expired) > 0 {
		log.Infof("[SessionManager] 清理空闲会话 %d 个", len(expired))
	}
	return len(expired)
}

// RunSweeper 按 interval 周期性调用 Sweep，直到 ctx 结束。
func (m *SessionManager) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// CloseAll 关闭所有会话，服务退出时调用。
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Controller.Close()
	}
}

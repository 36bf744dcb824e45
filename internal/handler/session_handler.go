package handler

import (
	"net/http"

	"dream-weaver-go/internal/middleware"
	"dream-weaver-go/internal/service"
	"dream-weaver-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// SessionHandler 负责会话的创建以及录音、分析、标签、保存和对话等流程操作。
type SessionHandler struct {
	sessions *service.SessionManager
}

// NewSessionHandler 创建一个新的 SessionHandler 实例。
func NewSessionHandler(sessions *service.SessionManager) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// Create 创建一个新会话并返回 token。
func (h *SessionHandler) Create(c *gin.Context) {
	sess, tok, err := h.sessions.Create()
	if err != nil {
		log.Errorf("[SessionHandler] 创建会话失败: %v", err)
		fail(c, http.StatusInternalServerError, "创建会话失败")
		return
	}
	success(c, gin.H{"sessionId": sess.ID, "token": tok, "snapshot": sess.Controller.Snapshot()})
}

// Snapshot 返回当前会话的状态快照。
func (h *SessionHandler) Snapshot(c *gin.Context) {
	h.withSession(c, func(sess *service.Session) error { return nil })
}

// StartRecording 开始录音。
func (h *SessionHandler) StartRecording(c *gin.Context) {
	h.withSession(c, func(sess *service.Session) error {
		return sess.Controller.StartRecording(c.Request.Context())
	})
}

// StopRecording 停止录音并等待分析完成。
func (h *SessionHandler) StopRecording(c *gin.Context) {
	h.withSession(c, func(sess *service.Session) error {
		return sess.Controller.StopRecording(c.Request.Context())
	})
}

// ViewDream 打开日志中的一条梦境。
func (h *SessionHandler) ViewDream(c *gin.Context) {
	h.withSession(c, func(sess *service.Session) error {
		return sess.Controller.ViewDream(c.Param("id"))
	})
}

// SetTagsRequest 定义了整体替换标签的请求体结构。
type SetTagsRequest struct {
	Tags []string `json:"tags"`
}

// SetTags 整体替换活动梦境的标签。
func (h *SessionHandler) SetTags(c *gin.Context) {
	var req SetTagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	h.withSession(c, func(sess *service.Session) error {
		return sess.Controller.SetTags(req.Tags)
	})
}

// AddTagRequest 定义了追加标签的请求体结构。
type AddTagRequest struct {
	Tag string `json:"tag"`
}

// AddTag 向活动梦境追加一个标签。
func (h *SessionHandler) AddTag(c *gin.Context) {
	var req AddTagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	h.withSession(c, func(sess *service.Session) error {
		return sess.Controller.AddTag(req.Tag)
	})
}

// RemoveTag 从活动梦境移除一个标签。
func (h *SessionHandler) RemoveTag(c *gin.Context) {
	h.withSession(c, func(sess *service.Session) error {
		return sess.Controller.RemoveTag(c.Param("tag"))
	})
}

// Save 保存活动梦境并回到日志列表。
func (h *SessionHandler) Save(c *gin.Context) {
	h.withSession(c, func(sess *service.Session) error {
		_, err := sess.Controller.Save(c.Request.Context())
		return err
	})
}

// Reset 放弃当前结果或错误，回到日志列表。
func (h *SessionHandler) Reset(c *gin.Context) {
	h.withSession(c, func(sess *service.Session) error {
		return sess.Controller.Reset()
	})
}

// ChatRequest 定义了追问请求体结构。
type ChatRequest struct {
	Message string `json:"message" binding:"required"`
}

// Chat 发送一条追问并等待回答。
func (h *SessionHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "消息不能为空")
		return
	}
	h.withSession(c, func(sess *service.Session) error {
		return sess.Controller.SendMessage(c.Request.Context(), req.Message)
	})
}

// withSession 执行一次流程操作并返回操作后的快照。
func (h *SessionHandler) withSession(c *gin.Context, op func(sess *service.Session) error) {
	sess, ok := middleware.CurrentSession(c)
	if !ok {
		fail(c, http.StatusUnauthorized, "无法获取会话信息")
		return
	}
	if err := op(sess); err != nil {
		if !surfacedInState(err) {
			log.Warnf("[SessionHandler] 操作失败, session: %s, path: %s, error: %v", sess.ID, c.FullPath(), err)
			fail(c, statusOf(err), err.Error())
			return
		}
		log.Infof("[SessionHandler] 操作进入错误状态, session: %s, error: %v", sess.ID, err)
	}
	success(c, sess.Controller.Snapshot())
}

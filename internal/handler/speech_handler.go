package handler

import (
	"context"
	"net/http"

	"dream-weaver-go/internal/model"
	"dream-weaver-go/internal/service"
	"dream-weaver-go/internal/speech"
	"dream-weaver-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// speechClientMessage 是浏览器发来的消息，type 为 "result" 时携带一次识别回调的结果。
type speechClientMessage struct {
	Type        string          `json:"type"`
	ResultIndex int             `json:"resultIndex"`
	Results     []speech.Result `json:"results"`
}

// speechServerMessage 是推送给浏览器的会话快照。
type speechServerMessage struct {
	Type     string                 `json:"type"`
	Snapshot model.WorkflowSnapshot `json:"snapshot"`
}

// SpeechHandler 负责语音识别的 WebSocket 连接：
// 浏览器连接后会话的语音引擎即可用，识别结果经此连接推送进来，会话快照经此连接推送出去。
type SpeechHandler struct {
	sessions *service.SessionManager
}

// NewSpeechHandler 创建一个新的 SpeechHandler。
func NewSpeechHandler(sessions *service.SessionManager) *SpeechHandler {
	return &SpeechHandler{sessions: sessions}
}

// Handle 处理一个传入的 WebSocket 连接。
func (h *SpeechHandler) Handle(c *gin.Context) {
	sess, err := h.sessions.Resolve(c.Param("token"))
	if err != nil {
		fail(c, http.StatusUnauthorized, "无效的 token")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	detach := sess.Engine.Attach()
	defer detach()
	log.Infof("语音 WebSocket 连接已建立，会话: %s", sess.ID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 只有这个 goroutine 向连接写入
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for snap := range sess.Controller.Watch(ctx) {
			if err := conn.WriteJSON(speechServerMessage{Type: "snapshot", Snapshot: snap}); err != nil {
				log.Warnf("推送会话快照失败: %v", err)
				break
			}
		}
		// 会话被清理时关闭连接，让读循环退出
		_ = conn.Close()
	}()

	for {
		var msg speechClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			log.Infof("语音 WebSocket 连接结束，会话: %s, reason: %v", sess.ID, err)
			break
		}
		switch msg.Type {
		case "result":
			if !sess.Engine.Push(speech.Event{ResultIndex: msg.ResultIndex, Results: msg.Results}) {
				log.Debugf("当前没有进行中的录音，丢弃识别结果，会话: %s", sess.ID)
			}
		default:
			log.Warnf("未知的语音消息类型: %s", msg.Type)
		}
	}

	cancel()
	<-writeDone
}

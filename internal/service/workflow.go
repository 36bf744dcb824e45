package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"dream-weaver-go/internal/config"
	"dream-weaver-go/internal/model"
	"dream-weaver-go/internal/speech"
	"dream-weaver-go/pkg/log"

	"github.com/google/uuid"
)

// WorkflowOptions 控制流程中的阈值与超时。
type WorkflowOptions struct {
	MinTranscriptLength int
	AnalysisTimeout     time.Duration
	ChatTimeout         time.Duration
	FallbackText        string
}

// OptionsFromConfig 从配置生成 WorkflowOptions，缺失项使用默认值。
func OptionsFromConfig(wf config.WorkflowConfig, chat config.ChatConfig) WorkflowOptions {
	opts := WorkflowOptions{
		MinTranscriptLength: wf.MinTranscriptLength,
		AnalysisTimeout:     wf.AnalysisTimeout,
		ChatTimeout:         wf.ChatTimeout,
		FallbackText:        chat.FallbackText,
	}
	if opts.MinTranscriptLength <= 0 {
		opts.MinTranscriptLength = 10
	}
	if opts.AnalysisTimeout <= 0 {
		opts.AnalysisTimeout = 90 * time.Second
	}
	if opts.ChatTimeout <= 0 {
		opts.ChatTimeout = 60 * time.Second
	}
	if opts.FallbackText == "" {
		opts.FallbackText = "I'm sorry, I lost my train of thought. Could you ask that again?"
	}
	return opts
}

// WorkflowController 驱动一个客户端会话的 录音 → 分析 → 查看/对话 → 保存 流程。
// 所有状态修改都在 mu 保护下进行，调用外部服务时释放锁。
type WorkflowController struct {
	capture  *speech.Capture
	analysis AnalysisGateway
	chat     ChatGateway
	journal  *Journal
	opts     WorkflowOptions
	now      func() time.Time

	mu          sync.Mutex
	state       model.WorkflowState
	errMsg      string
	live        string
	active      *model.DreamEntry
	history     []model.ChatTurn
	chatPending bool
	// generation 在活动梦境被替换或清空时递增，用于丢弃过期的对话回复
	generation uint64
	sub        *speech.Subscription

	watchers    map[int]chan model.WorkflowSnapshot
	nextWatcher int
	closed      bool
}

// NewWorkflowController 创建一个处于 Idle 状态的控制器。
func NewWorkflowController(capture *speech.Capture, analysis AnalysisGateway, chat ChatGateway, journal *Journal, opts WorkflowOptions) *WorkflowController {
	return &WorkflowController{
		capture:  capture,
		analysis: analysis,
		chat:     chat,
		journal:  journal,
		opts:     opts,
		now:      time.Now,
		state:    model.StateIdle,
		history:  []model.ChatTurn{},
		watchers: make(map[int]chan model.WorkflowSnapshot),
	}
}

// Snapshot 返回当前状态的只读副本。
func (c *WorkflowController) Snapshot() model.WorkflowSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *WorkflowController) snapshotLocked() model.WorkflowSnapshot {
	snap := model.WorkflowSnapshot{
		State:          c.state,
		Error:          c.errMsg,
		LiveTranscript: c.live,
		ChatHistory:    model.CloneTurns(c.history),
		ChatPending:    c.chatPending,
	}
	if c.active != nil {
		d := c.active.Clone()
		snap.ActiveDream = &d
	}
	return snap
}

// Watch 订阅状态变化，订阅时立即收到一次当前快照。ctx 结束或控制器关闭后 channel 被关闭。
// 消费方跟不上时只保证最新的快照可见。
func (c *WorkflowController) Watch(ctx context.Context) <-chan model.WorkflowSnapshot {
	ch := make(chan model.WorkflowSnapshot, 8)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch
	}
	id := c.nextWatcher
	c.nextWatcher++
	c.watchers[id] = ch
	ch <- c.snapshotLocked()
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		defer c.mu.Unlock()
		if w, ok := c.watchers[id]; ok {
			delete(c.watchers, id)
			close(w)
		}
	}()
	return ch
}

// broadcastLocked 把当前快照推送给所有订阅者，调用方必须持有 mu。
func (c *WorkflowController) broadcastLocked() {
	if len(c.watchers) == 0 {
		return
	}
	snap := c.snapshotLocked()
	for _, ch := range c.watchers {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// failLocked 进入 Error 状态并丢弃本次转写，调用方必须持有 mu。
func (c *WorkflowController) failLocked(msg string) {
	c.state = model.StateError
	c.errMsg = msg
	c.live = ""
	c.broadcastLocked()
}

func (c *WorkflowController) invalid(op string) error {
	return fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, op, c.state)
}

// StartRecording 开始录音。语音识别不可用时进入 Error 状态，不会进入 Recording。
func (c *WorkflowController) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != model.StateIdle {
		return c.invalid("StartRecording")
	}

	// 录音的生命周期与发起请求的 ctx 无关，由 StopRecording 结束
	sub, err := c.capture.Start(context.Background())
	if err != nil {
		log.Warnf("[Workflow] 无法开始录音: %v", err)
		c.failLocked(MsgUnsupported)
		return fmt.Errorf("%w: %v", ErrUnsupportedCapability, err)
	}

	c.sub = sub
	c.live = ""
	c.errMsg = ""
	c.clearDreamLocked()
	c.state = model.StateRecording
	c.broadcastLocked()
	go c.forwardTranscript(sub)
	log.Info("[Workflow] 开始录音")
	return nil
}

func (c *WorkflowController) forwardTranscript(sub *speech.Subscription) {
	for text := range sub.Updates() {
		c.mu.Lock()
		if c.sub == sub && c.state == model.StateRecording {
			c.live = text
			c.broadcastLocked()
		}
		c.mu.Unlock()
	}
}

// StopRecording 停止录音并同步完成分析。返回时状态为 Complete 或 Error。
// 转写过短时不会发起分析。
func (c *WorkflowController) StopRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.state != model.StateRecording || c.sub == nil {
		err := c.invalid("StopRecording")
		c.mu.Unlock()
		return err
	}
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	// Stop 会等待事件泵退出，不能持锁调用
	transcript := strings.TrimSpace(sub.Stop())

	c.mu.Lock()
	if utf8.RuneCountInString(transcript) < c.opts.MinTranscriptLength {
		log.Infof("[Workflow] 转写过短, 长度: %d", utf8.RuneCountInString(transcript))
		c.failLocked(MsgTooShort)
		c.mu.Unlock()
		return ErrTranscriptTooShort
	}
	c.live = transcript
	c.state = model.StateAnalyzing
	c.broadcastLocked()
	c.mu.Unlock()

	analyzeCtx, cancel := context.WithTimeout(context.Background(), c.opts.AnalysisTimeout)
	defer cancel()
	result, err := c.analysis.Analyze(analyzeCtx, transcript)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != model.StateAnalyzing {
		// 会话在分析期间被关闭
		return c.invalid("StopRecording")
	}
	if err != nil {
		c.failLocked(MsgAnalysisFailure)
		return err
	}

	id, idErr := uuid.NewV7()
	if idErr != nil {
		id = uuid.New()
	}
	entry := model.DreamEntry{
		ID:             id.String(),
		Transcript:     transcript,
		ImageURL:       result.ImageURL,
		Interpretation: result.Interpretation,
		Tags:           model.Tags{},
		CreatedAt:      c.now().UnixMilli(),
	}
	c.setActiveLocked(entry)
	c.state = model.StateComplete
	c.broadcastLocked()
	log.Infof("[Workflow] 梦境分析完成, id: %s", entry.ID)
	return nil
}

// ViewDream 打开日志中的一条梦境，对话历史清空。
func (c *WorkflowController) ViewDream(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != model.StateIdle && c.state != model.StateComplete {
		return c.invalid("ViewDream")
	}
	entry, ok := c.journal.Get(id)
	if !ok {
		return ErrDreamNotFound
	}
	c.setActiveLocked(entry)
	c.state = model.StateComplete
	c.broadcastLocked()
	return nil
}

// SetTags 替换活动梦境的草稿标签。
func (c *WorkflowController) SetTags(tags []string) error {
	return c.editTags("SetTags", func(model.Tags) model.Tags { return model.NormalizeTags(tags) })
}

// AddTag 向活动梦境追加一个标签，空标签与重复标签被忽略。
func (c *WorkflowController) AddTag(tag string) error {
	return c.editTags("AddTag", func(t model.Tags) model.Tags { return t.Add(tag) })
}

// RemoveTag 从活动梦境移除一个标签。
func (c *WorkflowController) RemoveTag(tag string) error {
	return c.editTags("RemoveTag", func(t model.Tags) model.Tags { return t.Remove(tag) })
}

func (c *WorkflowController) editTags(op string, edit func(model.Tags) model.Tags) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != model.StateComplete || c.active == nil {
		return c.invalid(op)
	}
	c.active.Tags = edit(c.active.Tags.Clone())
	c.broadcastLocked()
	return nil
}

// Save 把活动梦境写入日志并回到 Idle。
func (c *WorkflowController) Save(ctx context.Context) (model.DreamEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != model.StateComplete || c.active == nil {
		return model.DreamEntry{}, c.invalid("Save")
	}
	entry := c.active.Clone()
	c.journal.Upsert(ctx, entry)
	c.resetLocked()
	return entry, nil
}

// Reset 清空错误、转写、活动梦境和对话历史，回到 Idle。
// 在 Complete 状态下相当于不保存直接返回日志列表。
func (c *WorkflowController) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != model.StateError && c.state != model.StateComplete {
		return c.invalid("Reset")
	}
	c.resetLocked()
	return nil
}

// Retry 是 Error 状态下 Reset 的别名。
func (c *WorkflowController) Retry() error {
	return c.Reset()
}

func (c *WorkflowController) resetLocked() {
	c.state = model.StateIdle
	c.errMsg = ""
	c.live = ""
	c.clearDreamLocked()
	c.broadcastLocked()
}

func (c *WorkflowController) setActiveLocked(entry model.DreamEntry) {
	entry = entry.Clone()
	c.active = &entry
	c.history = []model.ChatTurn{}
	c.chatPending = false
	c.generation++
}

func (c *WorkflowController) clearDreamLocked() {
	c.active = nil
	c.history = []model.ChatTurn{}
	c.chatPending = false
	c.generation++
}

// SendMessage 追加一条用户消息并同步等待回答；回答失败时追加兜底回复。
// 每次成功调用都让历史恰好增加两条。
func (c *WorkflowController) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	if c.state != model.StateComplete || c.active == nil {
		err := c.invalid("SendMessage")
		c.mu.Unlock()
		return err
	}
	if text == "" {
		c.mu.Unlock()
		return ErrEmptyMessage
	}
	if c.chatPending {
		c.mu.Unlock()
		return ErrChatBusy
	}
	c.history = append(c.history, model.ChatTurn{Role: model.RoleUser, Text: text})
	c.chatPending = true
	gen := c.generation
	transcript, interpretation := c.active.Transcript, c.active.Interpretation
	history := model.CloneTurns(c.history)
	c.broadcastLocked()
	c.mu.Unlock()

	chatCtx, cancel := context.WithTimeout(context.Background(), c.opts.ChatTimeout)
	defer cancel()
	reply, err := c.chat.Respond(chatCtx, transcript, interpretation, history)
	if err != nil {
		log.Warnf("[Workflow] 追问失败，使用兜底回复: %v", err)
		reply = c.opts.FallbackText
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		log.Infof("[Workflow] 活动梦境已切换，丢弃过期回复")
		return nil
	}
	c.history = append(c.history, model.ChatTurn{Role: model.RoleAssistant, Text: reply})
	c.chatPending = false
	c.broadcastLocked()
	return nil
}

// Close 停止进行中的录音并关闭所有订阅，会话销毁时调用。
func (c *WorkflowController) Close() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.closed = true
	if c.state == model.StateRecording || c.state == model.StateAnalyzing {
		c.state = model.StateIdle
	}
	for id, ch := range c.watchers {
		delete(c.watchers, id)
		close(ch)
	}
	c.mu.Unlock()

	if sub != nil {
		sub.Stop()
	}
}

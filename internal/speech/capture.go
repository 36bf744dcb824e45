// Package speech 封装语音识别能力：把平台识别引擎产生的事件流转换成
// 不断更新的转写文本快照，并在停止时给出最终转写结果。
package speech

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrUnsupported 表示宿主环境没有可用的语音识别能力。
var ErrUnsupported = errors.New("speech recognition unsupported")

// Result 是一段识别结果，IsFinal 为 false 表示仍可能被修正的临时结果。
type Result struct {
	Transcript string `json:"transcript"`
	IsFinal    bool   `json:"isFinal"`
}

// Event 对应浏览器 SpeechRecognition 的一次 onresult 回调：
// ResultIndex 之前的结果已经在更早的事件中交付过。
type Event struct {
	ResultIndex int      `json:"resultIndex"`
	Results     []Result `json:"results"`
}

// Engine 是平台语音识别设施。
type Engine interface {
	// Available 报告当前能否开始识别，必须在进入录音状态之前检查。
	Available() bool
	// Listen 开始连续识别，事件按顺序写入返回的 channel；ctx 取消后 channel 被关闭。
	Listen(ctx context.Context) (<-chan Event, error)
}

// Capture 把 Engine 包装成可重复开始的录音会话。
type Capture struct {
	engine Engine
}

// NewCapture 创建一个新的 Capture。
func NewCapture(engine Engine) *Capture {
	return &Capture{engine: engine}
}

// Available 报告底层引擎当前是否可用。
func (c *Capture) Available() bool {
	return c.engine != nil && c.engine.Available()
}

// Start 开始一次新的录音，每次都使用全新的转写缓冲区。
func (c *Capture) Start(ctx context.Context) (*Subscription, error) {
	if !c.Available() {
		return nil, ErrUnsupported
	}
	listenCtx, cancel := context.WithCancel(ctx)
	events, err := c.engine.Listen(listenCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	sub := &Subscription{
		updates: make(chan string, 32),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go sub.pump(events)
	return sub, nil
}

// Subscription 是一次进行中的录音。
type Subscription struct {
	updates chan string
	cancel  context.CancelFunc
	done    chan struct{}

	mu       sync.Mutex
	final    strings.Builder
	snapshot string
	stopOnce sync.Once
}

// Updates 返回实时转写快照：已确认片段拼接上当前的临时片段。
// 消费方跟不上时较旧的快照会被丢弃，只保证最新的快照可见。
func (s *Subscription) Updates() <-chan string {
	return s.updates
}

// Stop 停止识别并返回已确认片段拼接成的最终转写（未做 trim）。
// 可重复调用。
func (s *Subscription) Stop() string {
	s.stopOnce.Do(s.cancel)
	<-s.done
	return s.Final()
}

// Final 返回当前已确认片段的拼接结果。
func (s *Subscription) Final() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final.String()
}

// latest 返回最近一次交付的实时快照。
func (s *Subscription) latest() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

func (s *Subscription) pump(events <-chan Event) {
	defer close(s.done)
	defer close(s.updates)

	for ev := range events {
		snapshot := s.apply(ev)
		s.publish(snapshot)
	}
}

func (s *Subscription) apply(ev Event) string {
	var finalChunk, interim strings.Builder
	start := ev.ResultIndex
	if start < 0 {
		start = 0
	}
	for i := start; i < len(ev.Results); i++ {
		r := ev.Results[i]
		if r.IsFinal {
			finalChunk.WriteString(r.Transcript)
		} else {
			interim.WriteString(r.Transcript)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.final.WriteString(finalChunk.String())
	s.snapshot = s.final.String() + interim.String()
	return s.snapshot
}

func (s *Subscription) publish(snapshot string) {
	select {
	case s.updates <- snapshot:
		return
	default:
	}
	// 缓冲区已满：丢掉最旧的一条再写入
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- snapshot:
	default:
	}
}

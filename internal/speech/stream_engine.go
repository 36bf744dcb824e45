package speech

import (
	"context"
	"errors"
	"sync"
)

// ErrAlreadyListening 表示同一个引擎上已经有一次识别在进行。
var ErrAlreadyListening = errors.New("speech engine already listening")

// StreamEngine 是由外部客户端推送识别事件的 Engine 实现。
// 浏览器端通过 WebSocket 连接后 Attach，把 Web Speech API 的结果逐条 Push 进来；
// 只有存在已连接的客户端时引擎才算可用。
type StreamEngine struct {
	mu       sync.Mutex
	attached int
	current  chan Event
	ctx      context.Context
}

// NewStreamEngine 创建一个新的 StreamEngine。
func NewStreamEngine() *StreamEngine {
	return &StreamEngine{}
}

// Attach 登记一个能够提供识别事件的客户端，返回的函数用于解除登记。
func (e *StreamEngine) Attach() (detach func()) {
	e.mu.Lock()
	e.attached++
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			e.attached--
			e.mu.Unlock()
		})
	}
}

// Available 实现 Engine。
func (e *StreamEngine) Available() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attached > 0
}

// listening 报告当前是否有进行中的识别。
func (e *StreamEngine) listening() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}

// Listen 实现 Engine，同一时刻只允许一次识别。
func (e *StreamEngine) Listen(ctx context.Context) (<-chan Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.attached == 0 {
		return nil, ErrUnsupported
	}
	if e.current != nil {
		return nil, ErrAlreadyListening
	}

	ch := make(chan Event, 16)
	e.current = ch
	e.ctx = ctx

	go func() {
		<-ctx.Done()
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.current == ch {
			e.current = nil
			e.ctx = nil
		}
		close(ch)
	}()
	return ch, nil
}

// Push 把一条识别事件交给进行中的识别；没有进行中的识别时返回 false。
// 持锁发送保证 channel 不会在发送过程中被关闭，消费方在关闭前会一直读取。
func (e *StreamEngine) Push(ev Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return false
	}
	select {
	case e.current <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}

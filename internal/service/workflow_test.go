package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"dream-weaver-go/internal/config"
	"dream-weaver-go/internal/model"
	"dream-weaver-go/internal/speech"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnalysis struct {
	mu     sync.Mutex
	result AnalysisResult
	err    error
	calls  []string
}

func (f *fakeAnalysis) Analyze(ctx context.Context, transcript string) (AnalysisResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, transcript)
	return f.result, f.err
}

func (f *fakeAnalysis) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeChat struct {
	reply   string
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeChat) Respond(ctx context.Context, transcript, interpretation string, history []model.ChatTurn) (string, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.reply, f.err
}

type workflowFixture struct {
	engine   *speech.StreamEngine
	analysis *fakeAnalysis
	chat     *fakeChat
	store    *memoryStore
	journal  *Journal
	ctrl     *WorkflowController
}

func newWorkflowFixture(t *testing.T, attached bool) *workflowFixture {
	t.Helper()
	f := &workflowFixture{
		engine:   speech.NewStreamEngine(),
		analysis: &fakeAnalysis{result: AnalysisResult{ImageURL: "data:image/png;base64,AAAA", Interpretation: "## Core Emotional Theme"}},
		chat:     &fakeChat{reply: "It means change."},
		store:    &memoryStore{},
	}
	if attached {
		detach := f.engine.Attach()
		t.Cleanup(detach)
	}
	f.journal = NewJournal(context.Background(), f.store, nil)
	f.ctrl = NewWorkflowController(speech.NewCapture(f.engine), f.analysis, f.chat, f.journal, OptionsFromConfig(config.WorkflowConfig{}, config.ChatConfig{}))
	f.ctrl.now = func() time.Time { return time.UnixMilli(1700000000000) }
	t.Cleanup(f.ctrl.Close)
	return f
}

// record 开始录音，推送一条最终结果后停止。
func (f *workflowFixture) record(t *testing.T, text string) error {
	t.Helper()
	require.NoError(t, f.ctrl.StartRecording(context.Background()))
	require.True(t, f.engine.Push(speech.Event{Results: []speech.Result{{Transcript: text, IsFinal: true}}}))
	return f.ctrl.StopRecording(context.Background())
}

func TestWorkflow_RecordAnalyzeComplete(t *testing.T) {
	f := newWorkflowFixture(t, true)
	assert.Equal(t, model.StateIdle, f.ctrl.Snapshot().State)

	require.NoError(t, f.record(t, "  I was flying over a purple ocean  "))

	snap := f.ctrl.Snapshot()
	assert.Equal(t, model.StateComplete, snap.State)
	require.NotNil(t, snap.ActiveDream)
	assert.Equal(t, "I was flying over a purple ocean", snap.ActiveDream.Transcript)
	assert.Equal(t, "## Core Emotional Theme", snap.ActiveDream.Interpretation)
	assert.Equal(t, "data:image/png;base64,AAAA", snap.ActiveDream.ImageURL)
	assert.Empty(t, snap.ActiveDream.Tags)
	assert.Equal(t, int64(1700000000000), snap.ActiveDream.CreatedAt)
	assert.NotEmpty(t, snap.ActiveDream.ID)
	assert.Empty(t, snap.ChatHistory)
	assert.Equal(t, []string{"I was flying over a purple ocean"}, f.analysis.calls)

	// 分析完成但尚未保存时日志不变
	assert.Equal(t, 0, f.journal.Len())
}

func TestWorkflow_UnsupportedCapability(t *testing.T) {
	f := newWorkflowFixture(t, false)

	err := f.ctrl.StartRecording(context.Background())
	assert.ErrorIs(t, err, ErrUnsupportedCapability)

	snap := f.ctrl.Snapshot()
	assert.Equal(t, model.StateError, snap.State)
	assert.Equal(t, MsgUnsupported, snap.Error)

	require.NoError(t, f.ctrl.Retry())
	snap = f.ctrl.Snapshot()
	assert.Equal(t, model.StateIdle, snap.State)
	assert.Empty(t, snap.Error)
}

func TestWorkflow_TranscriptTooShort(t *testing.T) {
	f := newWorkflowFixture(t, true)

	err := f.record(t, "  short   ")
	assert.ErrorIs(t, err, ErrTranscriptTooShort)

	snap := f.ctrl.Snapshot()
	assert.Equal(t, model.StateError, snap.State)
	assert.Equal(t, MsgTooShort, snap.Error)
	assert.Empty(t, snap.LiveTranscript)
	assert.Zero(t, f.analysis.callCount())
}

func TestWorkflow_TranscriptLengthCountsRunes(t *testing.T) {
	f := newWorkflowFixture(t, true)
	// 十个汉字，按字节计算会超过 10，按字符计算恰好 10
	require.NoError(t, f.record(t, "我梦见自己在海上飞翔"))
	assert.Equal(t, model.StateComplete, f.ctrl.Snapshot().State)
}

func TestWorkflow_AnalysisFailure(t *testing.T) {
	f := newWorkflowFixture(t, true)
	f.analysis.err = ErrAnalysisFailure

	err := f.record(t, "a perfectly long dream about trains")
	assert.ErrorIs(t, err, ErrAnalysisFailure)

	snap := f.ctrl.Snapshot()
	assert.Equal(t, model.StateError, snap.State)
	assert.Equal(t, MsgAnalysisFailure, snap.Error)
	assert.Empty(t, snap.LiveTranscript)
	assert.Nil(t, snap.ActiveDream)
	assert.Equal(t, 0, f.journal.Len())
}

func TestWorkflow_InvalidTransitions(t *testing.T) {
	f := newWorkflowFixture(t, true)
	ctx := context.Background()

	assert.ErrorIs(t, f.ctrl.StopRecording(ctx), ErrInvalidTransition)
	assert.ErrorIs(t, f.ctrl.AddTag("x"), ErrInvalidTransition)
	assert.ErrorIs(t, f.ctrl.SendMessage(ctx, "hi"), ErrInvalidTransition)
	assert.ErrorIs(t, f.ctrl.Reset(), ErrInvalidTransition)
	_, err := f.ctrl.Save(ctx)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, f.ctrl.StartRecording(ctx))
	assert.ErrorIs(t, f.ctrl.StartRecording(ctx), ErrInvalidTransition)
	assert.ErrorIs(t, f.ctrl.ViewDream("x"), ErrInvalidTransition)
	assert.Equal(t, model.StateRecording, f.ctrl.Snapshot().State)
}

func TestWorkflow_TagsAndSave(t *testing.T) {
	f := newWorkflowFixture(t, true)
	ctx := context.Background()
	require.NoError(t, f.record(t, "I was flying over a purple ocean"))

	require.NoError(t, f.ctrl.AddTag("  Flying "))
	require.NoError(t, f.ctrl.AddTag("flying"))
	require.NoError(t, f.ctrl.AddTag(""))
	require.NoError(t, f.ctrl.AddTag("Ocean"))
	assert.Equal(t, model.Tags{"flying", "ocean"}, f.ctrl.Snapshot().ActiveDream.Tags)

	require.NoError(t, f.ctrl.RemoveTag("flying"))
	require.NoError(t, f.ctrl.SetTags([]string{"Water", "water", "night"}))
	assert.Equal(t, model.Tags{"water", "night"}, f.ctrl.Snapshot().ActiveDream.Tags)

	saved, err := f.ctrl.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Tags{"water", "night"}, saved.Tags)

	snap := f.ctrl.Snapshot()
	assert.Equal(t, model.StateIdle, snap.State)
	assert.Nil(t, snap.ActiveDream)
	assert.Empty(t, snap.ChatHistory)

	got, ok := f.journal.Get(saved.ID)
	require.True(t, ok)
	assert.Equal(t, saved, got)
	assert.Equal(t, 1, f.store.saves)
}

func TestWorkflow_ViewDreamAndResaveReplaces(t *testing.T) {
	f := newWorkflowFixture(t, true)
	ctx := context.Background()
	existing := entry("old", 1, "sea")
	f.journal.Upsert(ctx, existing)
	f.journal.Upsert(ctx, entry("newer", 2))

	require.NoError(t, f.ctrl.ViewDream("old"))
	assert.ErrorIs(t, f.ctrl.ViewDream("missing"), ErrDreamNotFound)
	require.NoError(t, f.ctrl.AddTag("storm"))
	_, err := f.ctrl.Save(ctx)
	require.NoError(t, err)

	entries := f.journal.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "newer", entries[0].ID)
	assert.Equal(t, "old", entries[1].ID)
	assert.Equal(t, model.Tags{"sea", "storm"}, entries[1].Tags)
}

func TestWorkflow_ResetFromCompleteDiscardsDraft(t *testing.T) {
	f := newWorkflowFixture(t, true)
	require.NoError(t, f.record(t, "I was flying over a purple ocean"))
	require.NoError(t, f.ctrl.AddTag("unsaved"))

	require.NoError(t, f.ctrl.Reset())
	snap := f.ctrl.Snapshot()
	assert.Equal(t, model.StateIdle, snap.State)
	assert.Nil(t, snap.ActiveDream)
	assert.Empty(t, snap.LiveTranscript)
	assert.Equal(t, 0, f.journal.Len())
}

func TestWorkflow_ChatAppendsTwoTurns(t *testing.T) {
	f := newWorkflowFixture(t, true)
	ctx := context.Background()
	require.NoError(t, f.record(t, "I was flying over a purple ocean"))

	assert.ErrorIs(t, f.ctrl.SendMessage(ctx, "   "), ErrEmptyMessage)

	require.NoError(t, f.ctrl.SendMessage(ctx, "What does the ocean mean?"))
	history := f.ctrl.Snapshot().ChatHistory
	require.Len(t, history, 2)
	assert.Equal(t, model.ChatTurn{Role: model.RoleUser, Text: "What does the ocean mean?"}, history[0])
	assert.Equal(t, model.ChatTurn{Role: model.RoleAssistant, Text: "It means change."}, history[1])

	f.chat.err = ErrChatFailure
	require.NoError(t, f.ctrl.SendMessage(ctx, "And the purple?"))
	history = f.ctrl.Snapshot().ChatHistory
	require.Len(t, history, 4)
	assert.Equal(t, model.RoleAssistant, history[3].Role)
	assert.Equal(t, "I'm sorry, I lost my train of thought. Could you ask that again?", history[3].Text)
	assert.False(t, f.ctrl.Snapshot().ChatPending)
}

func TestWorkflow_ChatBusyAndStaleReplyDiscarded(t *testing.T) {
	f := newWorkflowFixture(t, true)
	ctx := context.Background()
	f.journal.Upsert(ctx, entry("a", 1))
	f.journal.Upsert(ctx, entry("b", 2))
	require.NoError(t, f.ctrl.ViewDream("a"))

	f.chat.started = make(chan struct{}, 1)
	f.chat.release = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- f.ctrl.SendMessage(ctx, "first question") }()
	<-f.chat.started

	snap := f.ctrl.Snapshot()
	assert.True(t, snap.ChatPending)
	require.Len(t, snap.ChatHistory, 1)
	assert.ErrorIs(t, f.ctrl.SendMessage(ctx, "second"), ErrChatBusy)

	// 回复到达前切换到另一条梦境，旧回复必须被丢弃
	require.NoError(t, f.ctrl.ViewDream("b"))
	close(f.chat.release)
	require.NoError(t, <-done)

	snap = f.ctrl.Snapshot()
	assert.Equal(t, "b", snap.ActiveDream.ID)
	assert.Empty(t, snap.ChatHistory)
	assert.False(t, snap.ChatPending)
}

func TestWorkflow_WatchReceivesLiveTranscript(t *testing.T) {
	f := newWorkflowFixture(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := f.ctrl.Watch(ctx)
	first := <-updates
	assert.Equal(t, model.StateIdle, first.State)

	require.NoError(t, f.ctrl.StartRecording(context.Background()))
	require.True(t, f.engine.Push(speech.Event{Results: []speech.Result{{Transcript: "I was fly", IsFinal: false}}}))

	deadline := time.After(time.Second)
	for {
		select {
		case snap := <-updates:
			if snap.LiveTranscript == "I was fly" {
				assert.Equal(t, model.StateRecording, snap.State)
				cancel()
				// 取消后 channel 最终被关闭
				require.Eventually(t, func() bool {
					select {
					case _, ok := <-updates:
						return !ok
					default:
						return false
					}
				}, time.Second, 5*time.Millisecond)
				return
			}
		case <-deadline:
			t.Fatal("live transcript was not broadcast")
		}
	}
}

func TestWorkflow_CloseStopsRecording(t *testing.T) {
	f := newWorkflowFixture(t, true)
	require.NoError(t, f.ctrl.StartRecording(context.Background()))

	f.ctrl.Close()
	assert.False(t, f.engine.Push(speech.Event{Results: []speech.Result{{Transcript: "late", IsFinal: true}}}))
	assert.Equal(t, model.StateIdle, f.ctrl.Snapshot().State)

	_, ok := <-f.ctrl.Watch(context.Background())
	assert.False(t, ok)
}

func TestOptionsFromConfig_Defaults(t *testing.T) {
	opts := OptionsFromConfig(config.WorkflowConfig{}, config.ChatConfig{})
	assert.Equal(t, 10, opts.MinTranscriptLength)
	assert.Equal(t, 90*time.Second, opts.AnalysisTimeout)
	assert.NotEmpty(t, opts.FallbackText)
}

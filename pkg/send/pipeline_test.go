package send

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/odvcencio/taskchat/pkg/backend"
	"github.com/odvcencio/taskchat/pkg/conversation"
	taskerrors "github.com/odvcencio/taskchat/pkg/errors"
	"github.com/odvcencio/taskchat/pkg/scheduler"
)

var epoch = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

type fakeHost struct {
	mu              sync.Mutex
	threadID        string
	messages        []conversation.Message
	typing          []time.Duration
	typingCancelled int
	refreshes       int
	suggests        int
}

func (h *fakeHost) ThreadID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.threadID
}

func (h *fakeHost) SetThreadID(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.threadID = id
}

func (h *fakeHost) Message(id string) (conversation.Message, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i := conversation.IndexOf(h.messages, id); i >= 0 {
		return h.messages[i], true
	}
	return conversation.Message{}, false
}

func (h *fakeHost) AppendOptimistic(msg conversation.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

func (h *fakeHost) UpdateMessage(id string, fn func(*conversation.Message)) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := conversation.IndexOf(h.messages, id)
	if i < 0 {
		return false
	}
	fn(&h.messages[i])
	return true
}

func (h *fakeHost) ScheduleTyping(delay time.Duration, _ time.Time) {
	h.typing = append(h.typing, delay)
}

func (h *fakeHost) CancelTyping()    { h.typingCancelled++ }
func (h *fakeHost) RequestRefresh()  { h.refreshes++ }
func (h *fakeHost) ScheduleSuggest() { h.suggests++ }

type fixture struct {
	backend *MockBackend
	host    *fakeHost
	clock   *scheduler.Manual
	pipe    *Pipeline
}

func newFixture(t *testing.T, threadID string, managed bool) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &fixture{
		backend: NewMockBackend(ctrl),
		host:    &fakeHost{threadID: threadID},
		clock:   scheduler.NewManual(epoch),
	}
	cfg := DefaultConfig()
	cfg.SourceID = "task-42"
	cfg.Title = "Task 42"
	cfg.Managed = managed
	n := 0
	f.pipe = NewPipeline(f.backend, f.host, f.clock, cfg, WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("local-%d", n)
	}))
	return f
}

func networkErr() error {
	return taskerrors.New(taskerrors.ErrCodeNetwork, "connection reset").WithRetryable(true)
}

func notFound() error {
	return taskerrors.New(taskerrors.ErrCodeThreadNotFound, "thread not found")
}

func TestSendHelloWithExistingThread(t *testing.T) {
	f := newFixture(t, "t1", false)
	ctx := context.Background()

	f.backend.EXPECT().GetThread(gomock.Any(), "t1").Return(conversation.Snapshot{ThreadID: "t1"}, nil)
	f.backend.EXPECT().SendMessage(gomock.Any(), "t1", backend.SendMessageRequest{Role: conversation.RoleUser, Content: "Hello"}).
		Return(conversation.RawMessage{}, nil)

	id, err := f.pipe.Send(ctx, "Hello")
	require.NoError(t, err)
	assert.Equal(t, "local-1", id)

	require.Len(t, f.host.messages, 1)
	msg := f.host.messages[0]
	assert.Equal(t, "Hello", msg.Content)
	assert.True(t, msg.Optimistic)
	assert.False(t, msg.Error)
	assert.Equal(t, conversation.RoleUser, msg.Role)
	assert.Equal(t, []time.Duration{550 * time.Millisecond}, f.host.typing)
	assert.Equal(t, 1, f.host.refreshes)
	assert.Equal(t, 1, f.host.suggests)
	assert.Zero(t, f.host.typingCancelled)
}

func TestSendCreatesThreadWhenMissing(t *testing.T) {
	f := newFixture(t, "", false)

	gomock.InOrder(
		f.backend.EXPECT().CreateThread(gomock.Any(), backend.CreateThreadRequest{SourceID: "task-42", Title: "Task 42"}).Return("t-new", nil),
		f.backend.EXPECT().SendMessage(gomock.Any(), "t-new", gomock.Any()).Return(conversation.RawMessage{}, nil),
	)

	_, err := f.pipe.Send(context.Background(), "first message")
	require.NoError(t, err)
	assert.Equal(t, "t-new", f.host.ThreadID())
}

func TestSendVerifiesThreadOnce(t *testing.T) {
	f := newFixture(t, "t1", false)

	f.backend.EXPECT().GetThread(gomock.Any(), "t1").Return(conversation.Snapshot{ThreadID: "t1"}, nil).Times(1)
	f.backend.EXPECT().SendMessage(gomock.Any(), "t1", gomock.Any()).Return(conversation.RawMessage{}, nil).Times(2)

	_, err := f.pipe.Send(context.Background(), "one")
	require.NoError(t, err)
	_, err = f.pipe.Send(context.Background(), "two")
	require.NoError(t, err)
	assert.Len(t, f.host.messages, 2)
}

func TestSendRecreatesThreadThatFailsVerification(t *testing.T) {
	f := newFixture(t, "gone", false)

	gomock.InOrder(
		f.backend.EXPECT().GetThread(gomock.Any(), "gone").Return(conversation.Snapshot{}, notFound()),
		f.backend.EXPECT().CreateThread(gomock.Any(), gomock.Any()).Return("t2", nil),
		f.backend.EXPECT().SendMessage(gomock.Any(), "t2", gomock.Any()).Return(conversation.RawMessage{}, nil),
	)

	_, err := f.pipe.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "t2", f.host.ThreadID())
}

func TestSendProceedsWhenVerificationHasNetworkError(t *testing.T) {
	f := newFixture(t, "t1", false)

	f.backend.EXPECT().GetThread(gomock.Any(), "t1").Return(conversation.Snapshot{}, networkErr())
	f.backend.EXPECT().SendMessage(gomock.Any(), "t1", gomock.Any()).Return(conversation.RawMessage{}, nil)

	_, err := f.pipe.Send(context.Background(), "hi")
	require.NoError(t, err)
}

func TestSendRetriesAreBounded(t *testing.T) {
	f := newFixture(t, "t1", false)

	f.backend.EXPECT().GetThread(gomock.Any(), "t1").Return(conversation.Snapshot{ThreadID: "t1"}, nil)
	f.backend.EXPECT().SendMessage(gomock.Any(), "t1", gomock.Any()).Return(conversation.RawMessage{}, networkErr()).Times(3)

	id, err := f.pipe.Send(context.Background(), "will fail")
	require.Error(t, err)

	assert.Equal(t, 300*time.Millisecond, f.clock.Now().Sub(epoch))
	require.Len(t, f.host.messages, 1)
	msg := f.host.messages[0]
	assert.Equal(t, id, msg.ID)
	assert.True(t, msg.Error)
	assert.True(t, msg.Retryable)
	assert.Equal(t, "connection reset", msg.ErrorMessage)
	assert.Equal(t, 1, f.host.typingCancelled)
	assert.Zero(t, f.host.refreshes)
	assert.Zero(t, f.host.suggests)
}

func TestSendSucceedsAfterTransientFailure(t *testing.T) {
	f := newFixture(t, "t1", false)

	f.backend.EXPECT().GetThread(gomock.Any(), "t1").Return(conversation.Snapshot{ThreadID: "t1"}, nil)
	gomock.InOrder(
		f.backend.EXPECT().SendMessage(gomock.Any(), "t1", gomock.Any()).Return(conversation.RawMessage{}, networkErr()),
		f.backend.EXPECT().SendMessage(gomock.Any(), "t1", gomock.Any()).Return(conversation.RawMessage{}, nil),
	)

	_, err := f.pipe.Send(context.Background(), "eventually")
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, f.clock.Now().Sub(epoch))
	assert.False(t, f.host.messages[0].Error)
}

func TestSendRecreatesThreadOnNotFound(t *testing.T) {
	f := newFixture(t, "t1", false)

	f.backend.EXPECT().GetThread(gomock.Any(), "t1").Return(conversation.Snapshot{ThreadID: "t1"}, nil)
	gomock.InOrder(
		f.backend.EXPECT().SendMessage(gomock.Any(), "t1", gomock.Any()).Return(conversation.RawMessage{}, notFound()),
		f.backend.EXPECT().CreateThread(gomock.Any(), gomock.Any()).Return("t2", nil),
		f.backend.EXPECT().SendMessage(gomock.Any(), "t2", gomock.Any()).Return(conversation.RawMessage{}, nil),
	)

	_, err := f.pipe.Send(context.Background(), "hello again")
	require.NoError(t, err)
	assert.Equal(t, "t2", f.host.ThreadID())
	assert.Len(t, f.host.messages, 1)
}

func TestSendManagedThreadAbortsOnNotFound(t *testing.T) {
	f := newFixture(t, "task-thread", true)

	f.backend.EXPECT().GetThread(gomock.Any(), "task-thread").Return(conversation.Snapshot{ThreadID: "task-thread"}, nil)
	f.backend.EXPECT().SendMessage(gomock.Any(), "task-thread", gomock.Any()).Return(conversation.RawMessage{}, notFound()).Times(1)

	_, err := f.pipe.Send(context.Background(), "hi")
	require.Error(t, err)
	assert.True(t, taskerrors.IsCode(err, taskerrors.ErrCodeThreadNotFound))
	assert.Equal(t, epoch, f.clock.Now(), "no backoff after a managed abort")
	assert.Equal(t, "task-thread", f.host.ThreadID())
	assert.True(t, f.host.messages[0].Error)
}

func TestSendManagedThreadFailsVerification(t *testing.T) {
	f := newFixture(t, "task-thread", true)

	f.backend.EXPECT().GetThread(gomock.Any(), "task-thread").Return(conversation.Snapshot{}, notFound())

	_, err := f.pipe.Send(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, "This conversation is no longer available", f.host.messages[0].ErrorMessage)
}

func TestSendStopsOnRejection(t *testing.T) {
	f := newFixture(t, "t1", false)

	f.backend.EXPECT().GetThread(gomock.Any(), "t1").Return(conversation.Snapshot{ThreadID: "t1"}, nil)
	f.backend.EXPECT().SendMessage(gomock.Any(), "t1", gomock.Any()).
		Return(conversation.RawMessage{}, taskerrors.New(taskerrors.ErrCodeBackendRejected, "too long")).Times(1)

	_, err := f.pipe.Send(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, epoch, f.clock.Now())
}

func TestSendRejectsEmptyText(t *testing.T) {
	f := newFixture(t, "t1", false)

	_, err := f.pipe.Send(context.Background(), "   ")
	assert.True(t, taskerrors.IsCode(err, taskerrors.ErrCodeInvalidInput))
	assert.Empty(t, f.host.messages)
}

func TestRetryResendsInPlace(t *testing.T) {
	f := newFixture(t, "t1", false)

	f.backend.EXPECT().GetThread(gomock.Any(), "t1").Return(conversation.Snapshot{ThreadID: "t1"}, nil)
	gomock.InOrder(
		f.backend.EXPECT().SendMessage(gomock.Any(), "t1", gomock.Any()).Return(conversation.RawMessage{}, networkErr()).Times(3),
		f.backend.EXPECT().SendMessage(gomock.Any(), "t1", gomock.Any()).Return(conversation.RawMessage{}, nil),
	)

	id, err := f.pipe.Send(context.Background(), "flaky")
	require.Error(t, err)

	require.NoError(t, f.pipe.Retry(context.Background(), id))
	require.Len(t, f.host.messages, 1)
	msg := f.host.messages[0]
	assert.Equal(t, id, msg.ID)
	assert.False(t, msg.Error)
	assert.False(t, msg.Retryable)
	assert.Empty(t, msg.ErrorMessage)
	assert.Equal(t, 1, f.host.refreshes)
}

func TestRetryRejectsUnknownOrHealthyMessages(t *testing.T) {
	f := newFixture(t, "t1", false)
	f.host.messages = []conversation.Message{{ID: "ok", Role: conversation.RoleUser, Optimistic: true}}

	assert.Error(t, f.pipe.Retry(context.Background(), "missing"))
	assert.Error(t, f.pipe.Retry(context.Background(), "ok"))
}

func TestEnsureThreadCoalescesConcurrentCreates(t *testing.T) {
	f := newFixture(t, "", false)
	release := make(chan struct{})

	f.backend.EXPECT().CreateThread(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, backend.CreateThreadRequest) (string, error) {
			<-release
			return "t-shared", nil
		}).Times(1)

	var wg sync.WaitGroup
	results := make([]string, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := f.pipe.EnsureThread(context.Background())
			assert.NoError(t, err)
			results[i] = id
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, id := range results {
		assert.Equal(t, "t-shared", id)
	}
}

func TestTypingDelay(t *testing.T) {
	base, per, max := 500*time.Millisecond, 50*time.Millisecond, 2*time.Second
	assert.Equal(t, 500*time.Millisecond, TypingDelay("", base, per, max))
	assert.Equal(t, 550*time.Millisecond, TypingDelay("Hello", base, per, max))
	assert.Equal(t, 750*time.Millisecond, TypingDelay("one two  three\nfour five", base, per, max))
	long := ""
	for i := 0; i < 100; i++ {
		long += "word "
	}
	assert.Equal(t, 2*time.Second, TypingDelay(long, base, per, max))
}

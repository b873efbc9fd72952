package streaming

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/yoochat/internal/notify"
	"github.com/yoockh/yoochat/internal/streamid"
	"github.com/yoockh/yoochat/internal/utils"
)

type call struct {
	kind     string
	userID   string
	streamID string
	text     string
	errKind  notify.ErrorKind
}

type recordingNotifier struct {
	mu         sync.Mutex
	calls      []call
	panicOnErr int  // panic on the first N PushError calls
	panicAll   bool // panic on every stream push
}

func (n *recordingNotifier) add(c call) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.panicAll && c.kind != "error" {
		panic("client went away")
	}
	n.calls = append(n.calls, c)
}

func (n *recordingNotifier) PushLoading(userID string) { n.add(call{kind: "loading", userID: userID}) }
func (n *recordingNotifier) PushStreamStart(userID, streamID string) {
	n.add(call{kind: "start", userID: userID, streamID: streamID})
}
func (n *recordingNotifier) PushChunk(userID, streamID, text string) {
	n.add(call{kind: "chunk", userID: userID, streamID: streamID, text: text})
}
func (n *recordingNotifier) PushStreamEnd(userID, streamID, messageID string) {
	n.add(call{kind: "end", userID: userID, streamID: streamID, text: messageID})
}
func (n *recordingNotifier) PushError(userID string, kind notify.ErrorKind) {
	n.mu.Lock()
	if n.panicOnErr > 0 {
		n.panicOnErr--
		n.mu.Unlock()
		panic("client went away")
	}
	n.mu.Unlock()
	n.add(call{kind: "error", userID: userID, errKind: kind})
}
func (n *recordingNotifier) PushStatus(status string) { n.add(call{kind: "status", text: status}) }

func (n *recordingNotifier) byKind(kind string) []call {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []call
	for _, c := range n.calls {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type fakePersister struct {
	mu    sync.Mutex
	texts []string
	err   error

	// when set, PersistFinalMessage signals entered and waits for release
	entered chan struct{}
	release chan struct{}
}

func (p *fakePersister) PersistFinalMessage(_ context.Context, _, _, text string) (string, error) {
	if p.release != nil {
		p.entered <- struct{}{}
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.texts = append(p.texts, text)
	return "msg-1", nil
}

type memJournal struct {
	mu      sync.Mutex
	entries []JournalEntry
}

func (j *memJournal) Record(e JournalEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
}

type fixture struct {
	reg       *Registry
	notifier  *recordingNotifier
	persister *fakePersister
	journal   *memJournal
	clock     *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{
		notifier:  &recordingNotifier{},
		persister: &fakePersister{},
		journal:   &memJournal{},
		clock:     &now,
	}
	f.reg = NewRegistry(streamid.NewGenerator(), f.notifier, f.persister, l,
		WithJournal(f.journal),
		WithClock(func() time.Time { return *f.clock }),
	)
	return f
}

func (f *fixture) advance(d time.Duration) { *f.clock = f.clock.Add(d) }

func TestChunksAccumulateInOrderWithSingleStart(t *testing.T) {
	f := newFixture(t)
	id, err := f.reg.Start("u1")
	require.NoError(t, err)
	require.True(t, streamid.IsValid(id))

	require.NoError(t, f.reg.AppendChunk(id, ""))
	require.NoError(t, f.reg.AppendChunk(id, "He"))
	require.NoError(t, f.reg.AppendChunk(id, "llo"))

	assert.Len(t, f.notifier.byKind("start"), 1)
	chunks := f.notifier.byKind("chunk")
	require.Len(t, chunks, 2)
	assert.Equal(t, "He", chunks[0].text)
	assert.Equal(t, "llo", chunks[1].text)

	require.NoError(t, f.reg.Complete(context.Background(), id))
	assert.Equal(t, []string{"Hello"}, f.persister.texts)

	ends := f.notifier.byKind("end")
	require.Len(t, ends, 1)
	assert.Equal(t, "msg-1", ends[0].text)
	assert.Equal(t, 0, f.reg.Len())

	err = f.reg.AppendChunk(id, "late")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAppendToUnknownStreamIsRecoverableAndSilent(t *testing.T) {
	f := newFixture(t)

	err := f.reg.AppendChunk("nonexistent", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))
	assert.Equal(t, 0, f.notifier.count())
}

func TestCompleteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	id, _ := f.reg.Start("u1")
	require.NoError(t, f.reg.AppendChunk(id, "hi"))

	require.NoError(t, f.reg.Complete(context.Background(), id))
	require.NoError(t, f.reg.Complete(context.Background(), id))
	assert.Len(t, f.persister.texts, 1)

	other, _ := f.reg.Start("u2")
	require.NoError(t, f.reg.AppendChunk(other, "bye"))
	assert.True(t, f.reg.Cancel(other))
	require.NoError(t, f.reg.Complete(context.Background(), other))
	assert.Len(t, f.persister.texts, 1)
}

func TestCompleteWithEmptyResponseDoesNotPersist(t *testing.T) {
	f := newFixture(t)
	id, _ := f.reg.Start("u1")

	require.NoError(t, f.reg.Complete(context.Background(), id))

	assert.Empty(t, f.persister.texts)
	errs := f.notifier.byKind("error")
	require.Len(t, errs, 1)
	assert.Equal(t, notify.ErrEmptyResponse, errs[0].errKind)
	assert.Equal(t, 0, f.reg.Len())
}

func TestCompletePersistFailurePropagates(t *testing.T) {
	f := newFixture(t)
	f.persister.err = errors.New("db down")
	id, _ := f.reg.Start("u1")
	require.NoError(t, f.reg.AppendChunk(id, "answer"))

	err := f.reg.Complete(context.Background(), id)
	require.Error(t, err)

	var fe *FinalizeError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "answer", fe.Text)
	assert.Equal(t, "u1", fe.UserID)

	errs := f.notifier.byKind("error")
	require.Len(t, errs, 1)
	assert.Equal(t, notify.ErrStreamEndFailed, errs[0].errKind)
	assert.Empty(t, f.notifier.byKind("end"))
	assert.Equal(t, 0, f.reg.Len())
}

func TestErrorNotifiesAndCancels(t *testing.T) {
	f := newFixture(t)
	id, _ := f.reg.Start("u1")

	f.reg.Error(id, "model overloaded")
	f.reg.Error(id, "duplicate")

	errs := f.notifier.byKind("error")
	require.Len(t, errs, 1)
	assert.Equal(t, notify.ErrAgentError, errs[0].errKind)
	_, ok := f.reg.LookupUserID(id)
	assert.False(t, ok)
}

func TestCancelHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	id, _ := f.reg.Start("u1")

	assert.True(t, f.reg.Cancel(id))
	assert.False(t, f.reg.Cancel(id))
	assert.Equal(t, 0, f.notifier.count())
}

func TestLookupAndStreamsForUser(t *testing.T) {
	f := newFixture(t)
	a, _ := f.reg.Start("u1")
	b, _ := f.reg.Start("u1")
	c, _ := f.reg.Start("u2")

	uid, ok := f.reg.LookupUserID(c)
	require.True(t, ok)
	assert.Equal(t, "u2", uid)

	assert.Equal(t, []string{a, b}, f.reg.StreamsForUser("u1"))
	assert.Empty(t, f.reg.StreamsForUser("nobody"))

	snap := f.reg.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, a, snap[0].StreamID)
	assert.Equal(t, "OPEN", snap[0].State)
}

func TestStartRejectsEmptyUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.Start("")
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
}

func TestReapIdleRemovesStaleSessionsOnly(t *testing.T) {
	f := newFixture(t)
	stale, _ := f.reg.Start("u1")
	f.advance(20 * time.Second)
	fresh, _ := f.reg.Start("u2")
	f.advance(12 * time.Second)

	assert.Equal(t, 1, f.reg.ReapIdle(31*time.Second))

	_, ok := f.reg.LookupUserID(stale)
	assert.False(t, ok)
	_, ok = f.reg.LookupUserID(fresh)
	assert.True(t, ok)

	errs := f.notifier.byKind("error")
	require.Len(t, errs, 1)
	assert.Equal(t, "u1", errs[0].userID)
	assert.Equal(t, notify.ErrStreamTimeout, errs[0].errKind)
}

func TestReapIdleCountsChunkActivity(t *testing.T) {
	f := newFixture(t)
	id, _ := f.reg.Start("u1")
	f.advance(25 * time.Second)
	require.NoError(t, f.reg.AppendChunk(id, "still going"))
	f.advance(25 * time.Second)

	assert.Equal(t, 0, f.reg.ReapIdle(31*time.Second))
}

func TestReapToleratesNotificationFailures(t *testing.T) {
	f := newFixture(t)
	f.notifier.panicOnErr = 1
	for _, u := range []string{"u1", "u2", "u3"} {
		_, err := f.reg.Start(u)
		require.NoError(t, err)
	}
	f.advance(11 * time.Minute)

	assert.Equal(t, 3, f.reg.ReapOverdue(10*time.Minute))
	assert.Equal(t, 0, f.reg.Len())
	assert.Len(t, f.notifier.byKind("error"), 2)
}

func TestJournalRecordsOutcomes(t *testing.T) {
	f := newFixture(t)

	done, _ := f.reg.Start("u1")
	require.NoError(t, f.reg.AppendChunk(done, "ok"))
	require.NoError(t, f.reg.Complete(context.Background(), done))

	cancelled, _ := f.reg.Start("u1")
	f.reg.Cancel(cancelled)

	failed, _ := f.reg.Start("u1")
	f.reg.Error(failed, "boom")

	f.journal.mu.Lock()
	defer f.journal.mu.Unlock()
	require.Len(t, f.journal.entries, 3)
	assert.Equal(t, OutcomeCompleted, f.journal.entries[0].Outcome)
	assert.Equal(t, 2, f.journal.entries[0].ResponseChars)
	assert.Equal(t, OutcomeCancelled, f.journal.entries[1].Outcome)
	assert.Equal(t, OutcomeAgentError, f.journal.entries[2].Outcome)
}

func TestCancelDuringFinalizeRecordsOneOutcome(t *testing.T) {
	f := newFixture(t)
	f.persister.entered = make(chan struct{})
	f.persister.release = make(chan struct{})

	id, _ := f.reg.Start("u1")
	require.NoError(t, f.reg.AppendChunk(id, "Hello"))

	done := make(chan error, 1)
	go func() { done <- f.reg.Complete(context.Background(), id) }()

	<-f.persister.entered
	assert.True(t, f.reg.Cancel(id))
	close(f.persister.release)
	require.NoError(t, <-done)

	assert.Empty(t, f.notifier.byKind("end"))
	assert.Equal(t, 0, f.reg.Len())
	assert.Equal(t, []string{"Hello"}, f.persister.texts)

	f.journal.mu.Lock()
	defer f.journal.mu.Unlock()
	require.Len(t, f.journal.entries, 1)
	assert.Equal(t, OutcomeCancelled, f.journal.entries[0].Outcome)
	assert.Equal(t, id, f.journal.entries[0].StreamID)
}

func TestStreamPushPanicsAreContained(t *testing.T) {
	f := newFixture(t)
	f.notifier.panicAll = true

	id, _ := f.reg.Start("u1")
	assert.NotPanics(t, func() {
		require.NoError(t, f.reg.AppendChunk(id, "He"))
		require.NoError(t, f.reg.AppendChunk(id, "llo"))
		require.NoError(t, f.reg.Complete(context.Background(), id))
	})
	assert.Equal(t, []string{"Hello"}, f.persister.texts)
	assert.Equal(t, 0, f.reg.Len())
}

func TestConcurrentStartsYieldUniqueIDs(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	ids := make(chan string, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := f.reg.Start("u1")
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]struct{}{}
	for id := range ids {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 200)
	assert.Equal(t, 200, f.reg.Len())
}

package intake

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"onyx-server/models"
	"onyx-server/scheduler"
	"onyx-server/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentRecorder struct {
	mu       sync.Mutex
	messages []models.Response
	notify   chan models.Response
}

func newSentRecorder() *sentRecorder {
	return &sentRecorder{notify: make(chan models.Response, 16)}
}

func (r *sentRecorder) send(ownerID string, resp models.Response) error {
	r.mu.Lock()
	r.messages = append(r.messages, resp)
	r.mu.Unlock()
	r.notify <- resp
	return nil
}

func (r *sentRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func newTestEngine(t *testing.T) (*Engine, *store.Store, *scheduler.Scheduler, *sentRecorder) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	sched := scheduler.New()
	t.Cleanup(sched.Stop)

	rec := newSentRecorder()
	e := New(s, sched, rec.send)
	return e, s, sched, rec
}

func setClock(e *Engine, at time.Time) {
	e.now = func() time.Time { return at }
}

func TestFullIntakeDialog(t *testing.T) {
	e, s, sched, _ := newTestEngine(t)
	now := time.Now()
	setClock(e, now)

	resp := e.HandleInput("alice", models.SelectEvent("new"))
	assert.Contains(t, resp.Text, "text")

	resp = e.HandleInput("alice", models.TextEvent("Buy milk"))
	assert.Contains(t, resp.Text, "When")

	resp = e.HandleInput("alice", models.TextEvent("in 10 minutes"))
	require.NotEmpty(t, resp.QuickReplies, "tag menu expected")

	resp = e.HandleInput("alice", models.SelectEvent("tag_⏰"))
	assert.Contains(t, resp.Text, "✅")

	active, err := s.ActiveReminders("alice", now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Buy milk", active[0].Text)
	assert.Equal(t, "⏰", active[0].Tag)
	assert.WithinDuration(t, now.Add(10*time.Minute), active[0].TargetTime, time.Second)
	assert.True(t, sched.Pending(active[0].ID), "delivery job must be armed")

	// Dialog is done; free text now just gets the menu.
	resp = e.HandleInput("alice", models.TextEvent("hello"))
	assert.NotEmpty(t, resp.QuickReplies)
}

func TestEmptyTextReprompts(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	e.HandleInput("alice", models.SelectEvent("new"))
	resp := e.HandleInput("alice", models.TextEvent("   "))
	assert.Contains(t, resp.Text, "empty")

	// Still awaiting text: a real message advances.
	resp = e.HandleInput("alice", models.TextEvent("Buy milk"))
	assert.Contains(t, resp.Text, "When")
}

func TestBadTimeReprompts(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	e.HandleInput("alice", models.SelectEvent("new"))
	e.HandleInput("alice", models.TextEvent("Buy milk"))

	resp := e.HandleInput("alice", models.TextEvent("sometime soon"))
	assert.Contains(t, resp.Text, "❌")

	// Same state, good input advances.
	resp = e.HandleInput("alice", models.TextEvent("14:30"))
	require.NotEmpty(t, resp.QuickReplies)
}

func TestListCommandAbortsDialog(t *testing.T) {
	e, s, _, _ := newTestEngine(t)
	now := time.Now()
	setClock(e, now)

	e.HandleInput("alice", models.SelectEvent("new"))
	e.HandleInput("alice", models.TextEvent("Buy milk"))

	// "list" where a time string was expected aborts the intake.
	resp := e.HandleInput("alice", models.TextEvent("list"))
	assert.Contains(t, resp.Text, "📭")

	active, err := s.ActiveReminders("alice", now)
	require.NoError(t, err)
	assert.Empty(t, active, "no partial reminder may be created")

	// The partial session is gone.
	resp = e.HandleInput("alice", models.TextEvent("14:30"))
	assert.NotEmpty(t, resp.QuickReplies)
	assert.Contains(t, resp.Text, "What would you like to do?")
}

func TestCancelDiscardsSession(t *testing.T) {
	e, s, _, _ := newTestEngine(t)

	e.HandleInput("alice", models.SelectEvent("new"))
	e.HandleInput("alice", models.TextEvent("Buy milk"))

	resp := e.HandleInput("alice", models.TextEvent("cancel"))
	assert.Contains(t, resp.Text, "Cancelled")

	active, err := s.ActiveReminders("alice", time.Now())
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestNewOverNewDiscardsPartialSilently(t *testing.T) {
	e, s, _, _ := newTestEngine(t)
	now := time.Now()
	setClock(e, now)

	e.HandleInput("alice", models.SelectEvent("new"))
	e.HandleInput("alice", models.TextEvent("old text"))

	// Restarting intake drops the old partial without complaint.
	resp := e.HandleInput("alice", models.SelectEvent("new"))
	assert.Contains(t, resp.Text, "text")

	e.HandleInput("alice", models.TextEvent("new text"))
	e.HandleInput("alice", models.TextEvent("in 5 minutes"))
	e.HandleInput("alice", models.SelectEvent("tag_none"))

	active, err := s.ActiveReminders("alice", now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "new text", active[0].Text)
	assert.Empty(t, active[0].Tag)
}

func TestPerUserIsolation(t *testing.T) {
	e, s, _, _ := newTestEngine(t)
	now := time.Now()
	setClock(e, now)

	e.HandleInput("alice", models.SelectEvent("new"))
	e.HandleInput("bob", models.SelectEvent("new"))
	e.HandleInput("alice", models.TextEvent("alice reminder"))
	e.HandleInput("bob", models.TextEvent("bob reminder"))
	e.HandleInput("alice", models.TextEvent("in 1 hour"))
	e.HandleInput("bob", models.TextEvent("in 2 hours"))
	e.HandleInput("alice", models.SelectEvent("tag_🔥"))
	e.HandleInput("bob", models.SelectEvent("tag_🧠"))

	aliceActive, err := s.ActiveReminders("alice", now)
	require.NoError(t, err)
	require.Len(t, aliceActive, 1)
	assert.Equal(t, "alice reminder", aliceActive[0].Text)

	bobActive, err := s.ActiveReminders("bob", now)
	require.NoError(t, err)
	require.Len(t, bobActive, 1)
	assert.Equal(t, "bob reminder", bobActive[0].Text)
}

func TestListAndDeleteFlow(t *testing.T) {
	e, s, sched, _ := newTestEngine(t)
	now := time.Now()
	setClock(e, now)

	reminder, err := e.Create("alice", "Buy milk", now.Add(time.Hour), "")
	require.NoError(t, err)
	require.True(t, sched.Pending(reminder.ID))

	resp := e.HandleInput("alice", models.SelectEvent("list"))
	require.Len(t, resp.QuickReplies, 1)
	assert.Equal(t, "view_"+reminder.ID, resp.QuickReplies[0].Token)

	resp = e.HandleInput("alice", models.SelectEvent("view_"+reminder.ID))
	require.Len(t, resp.QuickReplies, 2)

	resp = e.HandleInput("alice", models.SelectEvent("delete_"+reminder.ID))
	assert.Contains(t, resp.Text, "deleted")

	// The job is cancelled before the turn returns.
	assert.False(t, sched.Pending(reminder.ID))
	_, err = s.GetReminder(reminder.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// Deleting again is benign.
	resp = e.HandleInput("alice", models.SelectEvent("delete_"+reminder.ID))
	assert.Contains(t, resp.Text, "deleted")
}

func TestDeleteIgnoresForeignOwner(t *testing.T) {
	e, s, sched, _ := newTestEngine(t)
	now := time.Now()
	setClock(e, now)

	reminder, err := e.Create("alice", "private", now.Add(time.Hour), "")
	require.NoError(t, err)

	require.NoError(t, e.Delete("bob", reminder.ID))

	_, err = s.GetReminder(reminder.ID)
	require.NoError(t, err, "another owner's delete must not remove the reminder")
	assert.True(t, sched.Pending(reminder.ID))
}

func TestDeliveryFiresOnceAndCleansUp(t *testing.T) {
	e, s, _, rec := newTestEngine(t)
	now := time.Now()
	setClock(e, now)

	reminder, err := e.Create("alice", "Take a break", now.Add(-time.Second), "🚀")
	require.NoError(t, err)

	select {
	case resp := <-rec.notify:
		assert.Equal(t, "🚀 Reminder: Take a break", resp.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never arrived")
	}

	// Exactly one delivery, and the fired row is removed.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
	require.Eventually(t, func() bool {
		_, err := s.GetReminder(reminder.ID)
		return err == models.ErrNotFound
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRearmAll(t *testing.T) {
	e, s, sched, _ := newTestEngine(t)
	now := time.Now()
	setClock(e, now)

	future, err := s.CreateReminder("alice", "future", now.Add(time.Hour), "")
	require.NoError(t, err)
	past, err := s.CreateReminder("alice", "past", now.Add(-time.Hour), "")
	require.NoError(t, err)

	require.NoError(t, e.RearmAll())
	assert.True(t, sched.Pending(future.ID))
	assert.False(t, sched.Pending(past.ID), "past reminders are not re-armed")
}

func TestIdleSessionExpires(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	start := time.Now()
	setClock(e, start)

	e.HandleInput("alice", models.SelectEvent("new"))
	e.HandleInput("alice", models.TextEvent("Buy milk"))

	setClock(e, start.Add(sessionIdleTimeout+time.Minute))
	e.expireSessions()

	// The stale partial is gone; input lands on the menu, not AwaitingTime.
	resp := e.HandleInput("alice", models.TextEvent("14:30"))
	assert.Contains(t, resp.Text, "What would you like to do?")
}

func TestTypedCommandWordsWork(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	resp := e.HandleInput("alice", models.TextEvent("new"))
	assert.Contains(t, resp.Text, "text")

	resp = e.HandleInput("alice", models.TextEvent("/cancel"))
	assert.Contains(t, resp.Text, "Cancelled")

	resp = e.HandleInput("alice", models.TextEvent("LIST"))
	assert.Contains(t, resp.Text, "📭")
}

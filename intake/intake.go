// Package intake runs the turn-based dialog that collects a reminder's
// text, time, and optional tag, one field per turn.
package intake

import (
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"onyx-server/models"
	"onyx-server/scheduler"
	"onyx-server/store"
	"onyx-server/timeparse"
)

// Sender pushes an outbound message to a user. It is owned by the
// transport layer; the engine calls it only for fired deliveries --
// dialog responses travel back on the request path.
type Sender func(ownerID string, resp models.Response) error

const (
	sessionIdleTimeout = 15 * time.Minute
	sweepInterval      = time.Minute
)

type state int

const (
	stateAwaitingText state = iota
	stateAwaitingTime
	stateAwaitingTag
)

// session is one user's in-flight dialog. Absent from the map means idle.
type session struct {
	state      state
	text       string
	targetTime time.Time
	touchedAt  time.Time
}

// Engine is the per-user dialog state machine. Sessions are keyed by
// owner id and transitions are applied atomically under one mutex, so a
// user cannot advance the same session from two concurrent inputs and
// one user's dialog never touches another's.
type Engine struct {
	store *store.Store
	sched *scheduler.Scheduler
	send  Sender

	mu       sync.Mutex
	sessions map[string]*session

	now func() time.Time
}

func New(s *store.Store, sched *scheduler.Scheduler, send Sender) *Engine {
	return &Engine{
		store:    s,
		sched:    sched,
		send:     send,
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

var tagChoices = []string{"⏰", "📌", "🔥", "🎯", "💡", "🚀", "✅", "📞", "🧠"}

// StartMenu is the idle-state quick-reply set.
func StartMenu() []models.QuickReply {
	return []models.QuickReply{
		{Label: "📝 New reminder", Token: "new"},
		{Label: "📋 My reminders", Token: "list"},
	}
}

func tagMenu() []models.QuickReply {
	qr := make([]models.QuickReply, 0, len(tagChoices)+1)
	for _, tag := range tagChoices {
		qr = append(qr, models.QuickReply{Label: tag, Token: "tag_" + tag})
	}
	return append(qr, models.QuickReply{Label: "No tag", Token: "tag_none"})
}

func menuResponse() models.Response {
	return models.Response{Text: "What would you like to do?", QuickReplies: StartMenu()}
}

type command int

const (
	cmdNone command = iota
	cmdNew
	cmdList
	cmdCancel
)

// commandOf recognizes flow commands in any state, whether typed as text
// or tapped as a quick reply.
func commandOf(ev models.Event) command {
	var word string
	switch ev.Kind {
	case models.EventSelect:
		word = ev.Token
	case models.EventMessage:
		word = strings.ToLower(strings.TrimSpace(ev.Text))
	}
	switch word {
	case "new", "/new":
		return cmdNew
	case "list", "/list":
		return cmdList
	case "cancel", "/cancel":
		return cmdCancel
	}
	return cmdNone
}

// HandleInput advances the owner's dialog by one turn and returns the
// single outbound response for it. Internal failures come back as a
// generic "try again" response with the dialog state left untouched.
func (e *Engine) HandleInput(ownerID string, ev models.Event) models.Response {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.sessions[ownerID]
	if sess != nil && e.now().Sub(sess.touchedAt) > sessionIdleTimeout {
		delete(e.sessions, ownerID)
		sess = nil
	}

	// Commands win over whatever the current state was expecting. A "new"
	// or "list" typed mid-dialog is an implicit cancel that redirects into
	// the other flow.
	switch commandOf(ev) {
	case cmdNew:
		e.sessions[ownerID] = &session{state: stateAwaitingText, touchedAt: e.now()}
		return models.Response{Text: "✍️ Enter the reminder text:"}
	case cmdList:
		delete(e.sessions, ownerID)
		return e.renderList(ownerID)
	case cmdCancel:
		delete(e.sessions, ownerID)
		return models.Response{Text: "Cancelled.", QuickReplies: StartMenu()}
	}

	if ev.Kind == models.EventSelect {
		return e.handleSelect(ownerID, sess, ev.Token)
	}

	if sess == nil {
		return menuResponse()
	}
	sess.touchedAt = e.now()

	switch sess.state {
	case stateAwaitingText:
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return models.Response{Text: "✍️ Reminder text cannot be empty. Enter the text:"}
		}
		sess.text = text
		sess.state = stateAwaitingTime
		return models.Response{Text: "⏱ When? (e.g. 20:30, in 10 min, через 2 часа)"}

	case stateAwaitingTime:
		t, err := timeparse.Parse(ev.Text, e.now())
		if err != nil {
			return models.Response{Text: "❌ I don't understand that time. Try again:"}
		}
		sess.targetTime = t
		sess.state = stateAwaitingTag
		return models.Response{Text: "Pick a tag:", QuickReplies: tagMenu()}

	case stateAwaitingTag:
		return models.Response{Text: "Pick a tag from the buttons:", QuickReplies: tagMenu()}
	}
	return menuResponse()
}

func (e *Engine) handleSelect(ownerID string, sess *session, token string) models.Response {
	switch {
	case strings.HasPrefix(token, "tag_"):
		if sess == nil || sess.state != stateAwaitingTag {
			return menuResponse()
		}
		tag := strings.TrimPrefix(token, "tag_")
		if tag == "none" {
			tag = ""
		}
		reminder, err := e.create(ownerID, sess.text, sess.targetTime, tag)
		if err != nil {
			// Session stays in place so the same selection can be retried.
			log.Printf("[INTAKE] Create failed for user %s: %v", ownerID, err)
			return models.Response{Text: "⚠️ Something went wrong, please try again.", QuickReplies: tagMenu()}
		}
		delete(e.sessions, ownerID)
		return models.Response{Text: "✅ Reminder set for " + reminder.TargetTime.Format("2006-01-02 15:04") + "."}

	case strings.HasPrefix(token, "view_"):
		return models.Response{
			Text: "Choose an action:",
			QuickReplies: []models.QuickReply{
				{Label: "❌ Delete", Token: "delete_" + strings.TrimPrefix(token, "view_")},
				{Label: "↩️ Back", Token: "back"},
			},
		}

	case strings.HasPrefix(token, "delete_"):
		if err := e.Delete(ownerID, strings.TrimPrefix(token, "delete_")); err != nil {
			log.Printf("[INTAKE] Delete failed for user %s: %v", ownerID, err)
			return models.Response{Text: "⚠️ Something went wrong, please try again.", QuickReplies: StartMenu()}
		}
		return models.Response{Text: "❌ Reminder deleted.", QuickReplies: StartMenu()}

	case token == "back":
		return models.Response{Text: "📋 Menu", QuickReplies: StartMenu()}
	}
	return menuResponse()
}

func (e *Engine) renderList(ownerID string) models.Response {
	reminders, err := e.store.ActiveReminders(ownerID, e.now())
	if err != nil {
		log.Printf("[INTAKE] List failed for user %s: %v", ownerID, err)
		return models.Response{Text: "⚠️ Something went wrong, please try again.", QuickReplies: StartMenu()}
	}
	if len(reminders) == 0 {
		return models.Response{Text: "📭 No reminders.", QuickReplies: StartMenu()}
	}
	qr := make([]models.QuickReply, 0, len(reminders))
	for _, r := range reminders {
		qr = append(qr, models.QuickReply{
			Label: r.Text + " at " + r.TargetTime.Format("15:04"),
			Token: "view_" + r.ID,
		})
	}
	return models.Response{Text: "📋 Your reminders:", QuickReplies: qr}
}

// Create stores a reminder and arms its delivery job. Shared by the
// dialog commit and the HTTP API.
func (e *Engine) Create(ownerID, text string, targetTime time.Time, tag string) (*models.Reminder, error) {
	return e.create(ownerID, text, targetTime, tag)
}

func (e *Engine) create(ownerID, text string, targetTime time.Time, tag string) (*models.Reminder, error) {
	reminder, err := e.store.CreateReminder(ownerID, text, targetTime, tag)
	if err != nil {
		return nil, err
	}
	e.armDelivery(reminder)
	return reminder, nil
}

// Delete removes a reminder and cancels its pending job before
// returning, closing the window where a just-deleted reminder could
// still fire. Unknown ids and other owners' ids are benign no-ops.
func (e *Engine) Delete(ownerID, id string) error {
	reminder, err := e.store.GetReminder(id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}
	if reminder.OwnerID != ownerID {
		return nil
	}
	if err := e.store.DeleteReminder(id); err != nil {
		return err
	}
	e.sched.Cancel(id)
	return nil
}

// armDelivery binds the delivery closure to the owner and final text at
// arm time; the stored row is dropped once the job has fired.
func (e *Engine) armDelivery(r *models.Reminder) {
	ownerID, text, tag := r.OwnerID, r.Text, r.Tag
	e.sched.Arm(r.ID, r.TargetTime, func(reminderID string) error {
		prefix := "🔔"
		if tag != "" {
			prefix = tag
		}
		err := e.send(ownerID, models.Response{Text: prefix + " Reminder: " + text})
		if derr := e.store.DeleteReminder(reminderID); derr != nil {
			log.Printf("[INTAKE] Failed to clean up fired reminder %s: %v", reminderID, derr)
		}
		return err
	})
}

// RearmAll re-arms a delivery job for every reminder still in the
// future. Armed jobs do not survive a restart; this runs once at boot.
func (e *Engine) RearmAll() error {
	reminders, err := e.store.AllActiveReminders(e.now())
	if err != nil {
		return err
	}
	for i := range reminders {
		e.armDelivery(&reminders[i])
	}
	if len(reminders) > 0 {
		log.Printf("[INTAKE] Re-armed %d pending reminders", len(reminders))
	}
	return nil
}

// StartSessionSweeper expires idle sessions in the background so an
// abandoned dialog does not dangle forever.
func (e *Engine) StartSessionSweeper() {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for range ticker.C {
			e.expireSessions()
		}
	}()
}

func (e *Engine) expireSessions() {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-sessionIdleTimeout)
	for owner, sess := range e.sessions {
		if sess.touchedAt.Before(cutoff) {
			delete(e.sessions, owner)
		}
	}
}

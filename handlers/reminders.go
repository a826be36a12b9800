package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"onyx-server/intake"
	"onyx-server/middleware"
	"onyx-server/models"
	"onyx-server/store"
	"onyx-server/timeparse"
)

// ReminderHandler is the HTTP face of the reminder engine. Creation goes
// through the intake engine so the delivery job is armed in the same
// step as the row insert.
type ReminderHandler struct {
	store  *store.Store
	engine *intake.Engine
}

func NewReminderHandler(s *store.Store, e *intake.Engine) *ReminderHandler {
	return &ReminderHandler{store: s, engine: e}
}

func (h *ReminderHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)

	var req models.CreateReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Text == "" {
		http.Error(w, "Text is required", http.StatusBadRequest)
		return
	}

	targetTime, err := timeparse.Parse(req.Time, time.Now())
	if err != nil {
		http.Error(w, "Invalid time expression", http.StatusBadRequest)
		return
	}

	reminder, err := h.engine.Create(userID, req.Text, targetTime, req.Tag)
	if err != nil {
		http.Error(w, "Failed to create reminder", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(reminder)
}

func (h *ReminderHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)

	reminders, err := h.store.ActiveReminders(userID, time.Now())
	if err != nil {
		http.Error(w, "Failed to fetch reminders", http.StatusInternalServerError)
		return
	}

	if reminders == nil {
		reminders = []models.Reminder{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reminders)
}

func (h *ReminderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	reminderID := r.PathValue("id")

	if reminderID == "" {
		http.Error(w, "Reminder ID required", http.StatusBadRequest)
		return
	}

	// Idempotent: unknown ids (including double-taps) still report deleted.
	if err := h.engine.Delete(userID, reminderID); err != nil {
		http.Error(w, "Failed to delete reminder", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
}

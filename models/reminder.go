package models

import "time"

// MaxReminderText caps stored reminder text so a single reminder cannot
// overwhelm the delivery transport.
const MaxReminderText = 4096

type Reminder struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	Text       string    `json:"text"`
	TargetTime time.Time `json:"target_time"`
	Tag        string    `json:"tag,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type CreateReminderRequest struct {
	Text string `json:"text"`
	Time string `json:"time"` // time expression, e.g. "20:30", "in 10 min", "через 2 часа"
	Tag  string `json:"tag,omitempty"`
}

const (
	WSTypeBotMessage = "bot_message"
	WSTypeReminder   = "reminder"
)

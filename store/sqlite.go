package store

import (
	"database/sql"
	"time"

	"onyx-server/models"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &Store{db: db}
	if err := store.init(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		display_name TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		status TEXT DEFAULT 'offline',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS reminders (
		id TEXT PRIMARY KEY,
		owner_id TEXT REFERENCES users(id),
		text TEXT NOT NULL,
		target_time DATETIME NOT NULL,
		tag TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_reminders_owner ON reminders(owner_id);
	CREATE INDEX IF NOT EXISTS idx_reminders_time ON reminders(target_time);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Reminder operations

// CreateReminder stores a new reminder and returns it with a fresh id.
// Empty text is rejected; text longer than models.MaxReminderText is
// truncated. Target time validation is the caller's job: the intake
// dialog only commits times that already passed the parser's rollover
// rules.
func (s *Store) CreateReminder(ownerID, text string, targetTime time.Time, tag string) (*models.Reminder, error) {
	if text == "" {
		return nil, models.ErrEmptyText
	}
	if runes := []rune(text); len(runes) > models.MaxReminderText {
		text = string(runes[:models.MaxReminderText])
	}

	reminder := &models.Reminder{
		ID:         uuid.New().String(),
		OwnerID:    ownerID,
		Text:       text,
		TargetTime: targetTime,
		Tag:        tag,
		CreatedAt:  time.Now(),
	}

	_, err := s.db.Exec(`
		INSERT INTO reminders (id, owner_id, text, target_time, tag, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, reminder.ID, reminder.OwnerID, reminder.Text, reminder.TargetTime, reminder.Tag, reminder.CreatedAt)

	if err != nil {
		return nil, err
	}
	return reminder, nil
}

// ActiveReminders returns the owner's reminders with target_time strictly
// after asOf, ascending. Past reminders never appear even if their rows
// still exist.
func (s *Store) ActiveReminders(ownerID string, asOf time.Time) ([]models.Reminder, error) {
	rows, err := s.db.Query(`
		SELECT id, owner_id, text, target_time, tag, created_at
		FROM reminders
		WHERE owner_id = ? AND target_time > ?
		ORDER BY target_time ASC
	`, ownerID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanReminders(rows)
}

// AllActiveReminders returns every future reminder across all owners.
// Used at boot to re-arm delivery jobs, which do not survive a restart.
func (s *Store) AllActiveReminders(asOf time.Time) ([]models.Reminder, error) {
	rows, err := s.db.Query(`
		SELECT id, owner_id, text, target_time, tag, created_at
		FROM reminders
		WHERE target_time > ?
		ORDER BY target_time ASC
	`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanReminders(rows)
}

func scanReminders(rows *sql.Rows) ([]models.Reminder, error) {
	var reminders []models.Reminder
	for rows.Next() {
		var r models.Reminder
		var tag sql.NullString
		err := rows.Scan(&r.ID, &r.OwnerID, &r.Text, &r.TargetTime, &tag, &r.CreatedAt)
		if err != nil {
			return nil, err
		}
		r.Tag = tag.String
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

func (s *Store) GetReminder(id string) (*models.Reminder, error) {
	var r models.Reminder
	var tag sql.NullString
	err := s.db.QueryRow(`
		SELECT id, owner_id, text, target_time, tag, created_at
		FROM reminders WHERE id = ?
	`, id).Scan(&r.ID, &r.OwnerID, &r.Text, &r.TargetTime, &tag, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Tag = tag.String
	return &r, nil
}

// DeleteReminder is idempotent: deleting an id that does not exist is a
// no-op, which keeps double-tap races in the UI layer benign.
func (s *Store) DeleteReminder(id string) error {
	_, err := s.db.Exec("DELETE FROM reminders WHERE id = ?", id)
	return err
}

// User operations

func (s *Store) CreateUser(username, displayName, password string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		ID:           uuid.New().String(),
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Status:       "online",
		CreatedAt:    time.Now(),
	}

	_, err = s.db.Exec(`
		INSERT INTO users (id, username, display_name, password_hash, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, user.ID, user.Username, user.DisplayName, user.PasswordHash, user.Status, user.CreatedAt)

	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Store) GetUserByUsername(username string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(`
		SELECT id, username, display_name, password_hash, status, created_at
		FROM users WHERE username = ?
	`, username).Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Status, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUserByID(id string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(`
		SELECT id, username, display_name, password_hash, status, created_at
		FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Status, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) ValidatePassword(user *models.User, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password))
	return err == nil
}

func (s *Store) UpdateUserStatus(userID, status string) error {
	_, err := s.db.Exec("UPDATE users SET status = ? WHERE id = ?", status, userID)
	return err
}

package store

import (
	"database/sql"
	"time"

	"medsync/models"

	_ "github.com/mattn/go-sqlite3"
)

// Cache is the client-local sqlite database. It holds the last fetched
// message snapshot per conversation and any reminders that have not been
// answered yet, so a restart does not lose them. The in-memory channel
// state remains the source of truth; every caller treats the cache as
// best-effort.
type Cache struct {
	db *sql.DB
}

func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	c := &Cache{db: db}
	if err := c.init(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		sender_name TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		read_at DATETIME,
		attachment_url TEXT,
		attachment_name TEXT,
		attachment_type TEXT,
		attachment_size INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);

	CREATE TABLE IF NOT EXISTS reminders (
		id TEXT NOT NULL,
		medication_id TEXT NOT NULL,
		name TEXT NOT NULL,
		dosage TEXT NOT NULL,
		scheduled_at DATETIME NOT NULL,
		instructions TEXT,
		is_test BOOLEAN DEFAULT FALSE,
		received_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (medication_id, id)
	);
	`
	_, err := c.db.Exec(schema)
	return err
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// ReplaceMessages swaps the stored snapshot for a conversation wholesale,
// mirroring the reconciliation semantics of the chat channel.
func (c *Cache) ReplaceMessages(conversationID string, msgs []models.ChatMessage) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO messages
		(id, conversation_id, sender_id, sender_name, content, created_at, read_at,
		 attachment_url, attachment_name, attachment_type, attachment_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range msgs {
		var url, name, ctype *string
		var size *int64
		if m.Attachment != nil {
			url, name, ctype, size = &m.Attachment.URL, &m.Attachment.Filename, &m.Attachment.ContentType, &m.Attachment.Size
		}
		if _, err := stmt.Exec(m.ID, m.ConversationID, m.SenderID, m.SenderName,
			m.Content, m.CreatedAt, m.ReadAt, url, name, ctype, size); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Messages returns the cached snapshot for a conversation, ascending by
// creation time.
func (c *Cache) Messages(conversationID string) ([]models.ChatMessage, error) {
	rows, err := c.db.Query(`SELECT id, conversation_id, sender_id, sender_name, content,
		created_at, read_at, attachment_url, attachment_name, attachment_type, attachment_size
		FROM messages WHERE conversation_id = ? ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		var readAt sql.NullTime
		var url, name, ctype sql.NullString
		var size sql.NullInt64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName,
			&m.Content, &m.CreatedAt, &readAt, &url, &name, &ctype, &size); err != nil {
			return nil, err
		}
		if readAt.Valid {
			t := readAt.Time
			m.ReadAt = &t
		}
		if url.Valid {
			m.Attachment = &models.Attachment{
				URL:         url.String,
				Filename:    name.String,
				ContentType: ctype.String,
				Size:        size.Int64,
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// SaveReminder persists a delivered reminder until it is answered.
func (c *Cache) SaveReminder(r models.ReminderNotification) error {
	_, err := c.db.Exec(`INSERT OR REPLACE INTO reminders
		(id, medication_id, name, dosage, scheduled_at, instructions, is_test, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.MedicationID, r.Name, r.Dosage, r.ScheduledAt, r.Instructions, r.IsTest, time.Now())
	return err
}

// DeleteReminder removes an answered reminder. Deleting an absent row is
// not an error.
func (c *Cache) DeleteReminder(medicationID, reminderID string) error {
	_, err := c.db.Exec(`DELETE FROM reminders WHERE medication_id = ? AND id = ?`, medicationID, reminderID)
	return err
}

// Reminders returns all pending reminders in the order they were received.
func (c *Cache) Reminders() ([]models.ReminderNotification, error) {
	rows, err := c.db.Query(`SELECT id, medication_id, name, dosage, scheduled_at, instructions, is_test
		FROM reminders ORDER BY received_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ReminderNotification
	for rows.Next() {
		var r models.ReminderNotification
		var instructions sql.NullString
		if err := rows.Scan(&r.ID, &r.MedicationID, &r.Name, &r.Dosage, &r.ScheduledAt, &instructions, &r.IsTest); err != nil {
			return nil, err
		}
		r.Instructions = instructions.String
		out = append(out, r)
	}
	return out, rows.Err()
}

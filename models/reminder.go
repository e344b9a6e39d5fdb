package models

import "time"

type ReminderNotification struct {
	ID           string    `json:"id"`
	MedicationID string    `json:"medication_id"`
	Name         string    `json:"name"`
	Dosage       string    `json:"dosage"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	Instructions string    `json:"instructions,omitempty"`
	IsTest       bool      `json:"is_test,omitempty"`
}

// ReminderAction is what the user did with a reminder.
type ReminderAction string

const (
	ActionTaken  ReminderAction = "taken"
	ActionSnooze ReminderAction = "snooze"
	ActionMissed ReminderAction = "missed"
)

// DefaultSnoozeMinutes is used when a snooze response carries no explicit
// duration.
const DefaultSnoozeMinutes = 15

type ReminderResponse struct {
	MedicationID  string         `json:"medication_id"`
	ReminderID    string         `json:"reminder_id"`
	Action        ReminderAction `json:"action"`
	SnoozeMinutes int            `json:"snooze_minutes,omitempty"`
}

type ReminderUpdate struct {
	MedicationID string `json:"medication_id"`
	ReminderID   string `json:"reminder_id"`
	Status       string `json:"status"`
}

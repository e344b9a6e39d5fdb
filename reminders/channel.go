package reminders

import (
	"encoding/json"
	"sync"

	"medsync/logging"
	"medsync/models"
	"medsync/realtime"
	"medsync/store"

	"github.com/rs/zerolog"
)

// Registry is the slice of the listener registry this channel needs.
type Registry interface {
	Register(event string, h realtime.Handler) bool
	Unregister(event string)
}

// Emitter sends outbound events through the shared transport.
type Emitter interface {
	Emit(event string, payload any) error
}

// Channel handles medication reminder intake and response dispatch.
// Delivered reminders collect in arrival order and stay until the user
// responds; there is no size bound and no automatic expiry.
type Channel struct {
	reg   Registry
	emit  Emitter
	cache *store.Cache
	log   zerolog.Logger

	mu     sync.Mutex
	active []models.ReminderNotification

	onReminder func(models.ReminderNotification)
}

// New builds the channel. cache may be nil; when present, reminders that
// were delivered before a restart are reloaded into the active set.
func New(reg Registry, emit Emitter, cache *store.Cache) *Channel {
	c := &Channel{
		reg:   reg,
		emit:  emit,
		cache: cache,
		log:   logging.Component("reminders"),
	}
	if cache != nil {
		if pending, err := cache.Reminders(); err != nil {
			c.log.Warn().Err(err).Msg("could not reload pending reminders")
		} else {
			c.active = pending
		}
	}
	return c
}

// OnReminder sets the presentation callback invoked after each intake.
func (c *Channel) OnReminder(fn func(models.ReminderNotification)) {
	c.mu.Lock()
	c.onReminder = fn
	c.mu.Unlock()
}

// Attach registers the channel's listeners. Returns false when the
// registry refuses the binding (no credential).
func (c *Channel) Attach() bool {
	if !c.reg.Register(models.EventMedicationReminder, c.handleReminder) {
		return false
	}
	c.reg.Register(models.EventReminderUpdate, c.handleUpdate)
	c.reg.Register(models.EventReminderError, c.handleError)
	return true
}

// Detach removes the channel's listeners. The shared connection is left
// alone.
func (c *Channel) Detach() {
	c.reg.Unregister(models.EventMedicationReminder)
	c.reg.Unregister(models.EventReminderUpdate)
	c.reg.Unregister(models.EventReminderError)
}

// Active returns a copy of the active reminder set in arrival order.
func (c *Channel) Active() []models.ReminderNotification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ReminderNotification, len(c.active))
	copy(out, c.active)
	return out
}

// Respond emits the user's response and optimistically removes the
// matching reminder. Removal happens regardless of emit outcome: the
// channel trusts the local action and never rolls back. Responding to a
// reminder that is not (or no longer) present is a safe no-op.
func (c *Channel) Respond(medicationID, reminderID string, action models.ReminderAction, snoozeMinutes int) {
	resp := models.ReminderResponse{
		MedicationID: medicationID,
		ReminderID:   reminderID,
		Action:       action,
	}
	if action == models.ActionSnooze {
		if snoozeMinutes <= 0 {
			snoozeMinutes = models.DefaultSnoozeMinutes
		}
		resp.SnoozeMinutes = snoozeMinutes
	}

	// Best-effort dispatch. An untracked failed send is an accepted risk.
	if err := c.emit.Emit(models.EventReminderResponse, resp); err != nil {
		c.log.Warn().Str("reminder_id", reminderID).Err(err).Msg("response dispatch failed")
	}

	c.mu.Lock()
	for i, r := range c.active {
		if r.MedicationID == medicationID && r.ID == reminderID {
			c.active = append(c.active[:i], c.active[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	if c.cache != nil {
		if err := c.cache.DeleteReminder(medicationID, reminderID); err != nil {
			c.log.Warn().Err(err).Msg("could not delete cached reminder")
		}
	}
}

func (c *Channel) handleReminder(payload json.RawMessage) {
	var r models.ReminderNotification
	if err := json.Unmarshal(payload, &r); err != nil || r.ID == "" {
		c.log.Warn().Err(err).Msg("dropping malformed reminder")
		return
	}

	c.mu.Lock()
	c.active = append(c.active, r)
	fn := c.onReminder
	c.mu.Unlock()

	c.log.Info().Str("reminder_id", r.ID).Str("medication", r.Name).Msg("reminder received")

	if c.cache != nil {
		if err := c.cache.SaveReminder(r); err != nil {
			c.log.Warn().Err(err).Msg("could not cache reminder")
		}
	}
	if fn != nil {
		fn(r)
	}
}

// handleUpdate is an observability hook only; it never mutates the active
// set.
func (c *Channel) handleUpdate(payload json.RawMessage) {
	var u models.ReminderUpdate
	if err := json.Unmarshal(payload, &u); err != nil {
		return
	}
	c.log.Info().Str("reminder_id", u.ReminderID).Str("status", u.Status).Msg("reminder update")
}

func (c *Channel) handleError(payload json.RawMessage) {
	c.log.Warn().Str("payload", string(payload)).Msg("reminder error event")
}

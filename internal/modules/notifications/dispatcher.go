package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/scholar/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultListLimit = 50

// Dispatcher subscribes to approval and rating events and writes a notification
// for each affected user. Storage failures are logged by the bus and never reach the emitter.
type Dispatcher struct {
	repo *Repository
	log  zerolog.Logger
	now  func() time.Time
}

// NewDispatcher creates a new notification dispatcher
func NewDispatcher(repo *Repository, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		repo: repo,
		log:  log.With().Str("component", "notification_dispatcher").Logger(),
		now:  time.Now,
	}
}

// Subscribe registers the dispatcher on bus
func (d *Dispatcher) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.ApprovalTransitioned, d.onApprovalTransitioned)
	bus.Subscribe(events.ApprovalEscalated, d.onApprovalEscalated)
	bus.Subscribe(events.ApprovalDelegated, d.onApprovalDelegated)
	bus.Subscribe(events.RatingPublished, d.onRatingPublished)
}

func (d *Dispatcher) onApprovalTransitioned(e events.Event) error {
	data, ok := e.Data.(*events.ApprovalTransitionedData)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", e.Data, e.Type)
	}

	subject := fmt.Sprintf("Your %s was %s", humanize(data.SubjectType), pastTense(data.Action))
	body := fmt.Sprintf("Request %s moved from %s to %s.", data.RequestID, humanize(data.OldStatus), humanize(data.NewStatus))
	if data.NewLevel != "" {
		body += fmt.Sprintf(" It now awaits the %s level.", data.NewLevel)
	}
	if data.Comment != "" {
		body += " Comment: " + data.Comment
	}
	return d.notify(e.Type, data.SubmitterID, subject, body)
}

func (d *Dispatcher) onApprovalEscalated(e events.Event) error {
	data, ok := e.Data.(*events.ApprovalEscalatedData)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", e.Data, e.Type)
	}

	body := fmt.Sprintf("Request %s has been waiting at the %s level past its deadline.", data.RequestID, data.Level)
	return d.notify(e.Type, data.SubmitterID, "Approval request is overdue", body)
}

func (d *Dispatcher) onApprovalDelegated(e events.Event) error {
	data, ok := e.Data.(*events.ApprovalDelegatedData)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", e.Data, e.Type)
	}

	body := fmt.Sprintf("%s delegated their %s level decision on request %s to you.", data.DelegatorID, data.Level, data.RequestID)
	return d.notify(e.Type, data.DelegateID, "Approval authority delegated to you", body)
}

func (d *Dispatcher) onRatingPublished(e events.Event) error {
	data, ok := e.Data.(*events.RatingPublishedData)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", e.Data, e.Type)
	}

	body := fmt.Sprintf("Your rating for academic year %s was published with a score of %.2f.", data.AcademicYearID, data.OverallScore)
	return d.notify(e.Type, data.TeacherID, "Your rating has been published", body)
}

func (d *Dispatcher) notify(eventType events.EventType, recipientID, subject, body string) error {
	if recipientID == "" {
		d.log.Debug().Str("event_type", string(eventType)).Msg("Event has no recipient, skipping notification")
		return nil
	}

	n := Notification{
		ID:          uuid.New().String(),
		RecipientID: recipientID,
		EventType:   string(eventType),
		Subject:     subject,
		Body:        body,
		CreatedAt:   d.now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.repo.Insert(ctx, n); err != nil {
		return fmt.Errorf("notify %s: %w", recipientID, err)
	}
	d.log.Debug().Str("recipient_id", recipientID).Str("event_type", string(eventType)).Msg("Notification stored")
	return nil
}

// List returns a user's notifications, newest first
func (d *Dispatcher) List(ctx context.Context, recipientID string, unreadOnly bool) ([]Notification, error) {
	return d.repo.ListForRecipient(ctx, recipientID, unreadOnly, defaultListLimit)
}

// MarkRead marks one of a user's notifications read
func (d *Dispatcher) MarkRead(ctx context.Context, recipientID, id string) (bool, error) {
	return d.repo.MarkRead(ctx, recipientID, id, d.now().UTC())
}

func humanize(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}

func pastTense(action string) string {
	switch action {
	case "approve":
		return "approved"
	case "reject":
		return "rejected"
	case "return":
		return "returned for changes"
	}
	return action
}

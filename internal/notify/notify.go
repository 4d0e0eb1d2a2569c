// Package notify publishes lending events for downstream consumers such as the
// email sender.
package notify

import (
	"context"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventLoanBorrowed         EventType = "loan.borrowed"
	EventLoanReturned         EventType = "loan.returned"
	EventLoanDueSoon          EventType = "loan.due_soon"
	EventLoanOverdue          EventType = "loan.overdue"
	EventReservationAvailable EventType = "reservation.available"
)

// Event is the envelope written to the broker.
type Event struct {
	Type       EventType   `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// LoanPayload describes a borrow record for notification templates.
type LoanPayload struct {
	RecordID    string     `json:"record_id"`
	BookID      string     `json:"book_id"`
	BookTitle   string     `json:"book_title"`
	MemberID    string     `json:"member_id"`
	MemberName  string     `json:"member_name,omitempty"`
	MemberEmail string     `json:"member_email,omitempty"`
	DueDate     time.Time  `json:"due_date"`
	ReturnDate  *time.Time `json:"return_date,omitempty"`
	OverdueDays int        `json:"overdue_days"`
	Fine        string     `json:"fine"`
}

type ReservationPayload struct {
	ReservationID string `json:"reservation_id"`
	BookID        string `json:"book_id"`
	BookTitle     string `json:"book_title"`
	MemberID      string `json:"member_id"`
	MemberName    string `json:"member_name,omitempty"`
	MemberEmail   string `json:"member_email,omitempty"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Encode renders an event as the JSON body sent to the broker.
func Encode(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}

// LogPublisher writes events to the log instead of a broker. It is used when
// no broker is configured or reachable.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, evt Event) error {
	body, err := Encode(evt)
	if err != nil {
		return err
	}
	log.Info().Str("event", string(evt.Type)).RawJSON("body", body).Msg("event (not published, no broker)")
	return nil
}

func (LogPublisher) Close() error { return nil }

// MemoryPublisher keeps events in memory.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *MemoryPublisher) Publish(_ context.Context, evt Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *MemoryPublisher) Close() error { return nil }

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// OfType filters published events by type.
func (p *MemoryPublisher) OfType(t EventType) []Event {
	var out []Event
	for _, evt := range p.Events() {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

package leave

import (
	"context"
	"time"

	"github.com/warp/leave-ledger/generic"
)

// EventType names what happened to a balance.
type EventType string

const (
	EventLeaveCreated    EventType = "leave.created"
	EventLeaveUpdated    EventType = "leave.updated"
	EventLeaveDeleted    EventType = "leave.deleted"
	EventBalanceRepaired EventType = "balance.repaired"
)

// Event is published after a ledger operation commits. It feeds the
// notification side-channel (e-mail, dashboards) and is never part of the
// atomic unit.
type Event struct {
	ID         string       `json:"id"`
	Type       EventType    `json:"type"`
	At         time.Time    `json:"at"`
	Actor      string       `json:"actor,omitempty"`
	EmployeeID EmployeeID   `json:"employee_id"`
	RecordID   RecordID     `json:"record_id,omitempty"`
	Category   Category     `json:"category,omitempty"`
	Start      generic.Date `json:"start,omitempty"`
	End        generic.Date `json:"end,omitempty"`
	DaysUsed   int          `json:"days_used"`
	Remaining  int          `json:"remaining"`
}

// Publisher delivers events to the side-channel.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

package notify

import (
	"encoding/json"
	"fmt"
	"time"
)

// OutboxState is the delivery state of an outbox message.
type OutboxState string

const (
	OutboxStatePending    OutboxState = "pending"
	OutboxStateDelivering OutboxState = "delivering"
	OutboxStateDelivered  OutboxState = "delivered"
	OutboxStateDead       OutboxState = "dead"
)

// OutboxMessage is the GORM model for a queued notification.
type OutboxMessage struct {
	ID           string      `gorm:"primaryKey;column:id;type:varchar(36)"`
	Event        string      `gorm:"column:event;size:64;not null"`
	RequestID    int64       `gorm:"column:request_id;index:idx_outbox_request"`
	Payload      string      `gorm:"column:payload;type:text;not null"`
	State        OutboxState `gorm:"column:state;size:16;index:idx_outbox_state_avail,priority:1;not null;default:pending"`
	AvailableAt  time.Time   `gorm:"column:available_at;index:idx_outbox_state_avail,priority:2;not null"`
	CreatedAt    time.Time   `gorm:"column:created_at;not null"`
	LockedAt     *time.Time  `gorm:"column:locked_at"`
	DeliveredAt  *time.Time  `gorm:"column:delivered_at"`
	AttemptCount int         `gorm:"column:attempt_count;default:0"`
	LastError    string      `gorm:"column:last_error;type:text"`
}

// TableName returns the GORM table name.
func (OutboxMessage) TableName() string { return "notification_outbox" }

// IsTerminal reports whether the message will not be attempted again.
func (m *OutboxMessage) IsTerminal() bool {
	return m.State == OutboxStateDelivered || m.State == OutboxStateDead
}

// Message decodes the stored payload.
func (m *OutboxMessage) Message() (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
		return Message{}, fmt.Errorf("decode outbox payload %s: %w", m.ID, err)
	}
	return msg, nil
}

package schema

import "time"

// FailedEvent represents the failed_events table - queue messages that
// exhausted their delivery budget, retained for manual inspection and replay.
type FailedEvent struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// Subject is the queue subject the message arrived on
	Subject string `gorm:"column:subject;not null;type:text;index"`
	// Payload is the raw message body
	Payload []byte `gorm:"column:payload;not null;type:bytea"`
	// Reason is the last processing error
	Reason string `gorm:"column:reason;not null;type:text"`
	// Deliveries is how many delivery attempts were made
	Deliveries int `gorm:"column:deliveries;not null;default:0"`
	// CreatedAt is the timestamp when the message was parked
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
}

// TableName specifies the table name for the FailedEvent model
func (FailedEvent) TableName() string {
	return "failed_events"
}

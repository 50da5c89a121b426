package store

import (
	"context"
)

// Driver is the database driver interface implemented by store/db/sqlite and
// store/db/postgres.
type Driver interface {
	Migrate(ctx context.Context) error
	Close() error

	// Caller
	UpsertCaller(ctx context.Context, upsert *Caller) error
	// GetCaller returns nil when the caller has no stored profile.
	GetCaller(ctx context.Context, id string) (*Caller, error)

	// HealthRecord
	CreateHealthRecords(ctx context.Context, records []*HealthRecord) error
	ListHealthRecords(ctx context.Context, find *FindHealthRecord) ([]*HealthRecord, error)
	DeleteHealthRecords(ctx context.Context, delete *DeleteHealthRecord) error

	// Report
	CreateReport(ctx context.Context, create *Report) (*Report, error)
	ListReports(ctx context.Context, find *FindReport) ([]*Report, error)

	// Conversation
	CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error)
	ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error)
	TouchConversation(ctx context.Context, id int32, updatedTs int64) error

	// Message
	CreateMessage(ctx context.Context, create *Message) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)
}

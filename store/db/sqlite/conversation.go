package sqlite

import (
	"context"
	"encoding/json"
	"slices"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/medisense/store"
)

func (d *DB) CreateConversation(ctx context.Context, create *store.Conversation) (*store.Conversation, error) {
	stmt := `INSERT INTO conversation (uid, caller_id, title, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt,
		create.UID, create.CallerID, create.Title, create.CreatedTs, create.UpdatedTs,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create conversation")
	}
	return create, nil
}

func (d *DB) ListConversations(ctx context.Context, find *store.FindConversation) ([]*store.Conversation, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = ?"), append(args, *find.UID)
	}
	if find.CallerID != nil {
		where, args = append(where, "caller_id = ?"), append(args, *find.CallerID)
	}

	query := `SELECT id, uid, caller_id, title, created_ts, updated_ts
		FROM conversation
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY updated_ts DESC, id DESC`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversations")
	}
	defer rows.Close()

	list := make([]*store.Conversation, 0)
	for rows.Next() {
		c := &store.Conversation{}
		if err := rows.Scan(&c.ID, &c.UID, &c.CallerID, &c.Title, &c.CreatedTs, &c.UpdatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan conversation")
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) TouchConversation(ctx context.Context, id int32, updatedTs int64) error {
	if _, err := d.db.ExecContext(ctx, `UPDATE conversation SET updated_ts = ? WHERE id = ?`, updatedTs, id); err != nil {
		return errors.Wrap(err, "failed to touch conversation")
	}
	return nil
}

func (d *DB) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	metadata, err := json.Marshal(nonNilMap(create.Metadata))
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal message metadata")
	}
	stmt := `INSERT INTO message (conversation_id, role, content, metadata, created_ts)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt,
		create.ConversationID, create.Role, create.Content, string(metadata), create.CreatedTs,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create message")
	}
	return create, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	query := `SELECT id, conversation_id, role, content, metadata, created_ts
		FROM message
		WHERE conversation_id = ?
		ORDER BY id DESC`
	args := []any{find.ConversationID}
	if find.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	list := make([]*store.Message, 0)
	for rows.Next() {
		m := &store.Message{}
		var metadata string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &metadata, &m.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		if err := json.Unmarshal([]byte(metadata), &m.Metadata); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal message metadata")
		}
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(list)
	return list, nil
}

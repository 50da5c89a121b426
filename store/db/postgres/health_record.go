package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/hrygo/medisense/store"
)

func (d *DB) CreateHealthRecords(ctx context.Context, records []*store.HealthRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt := `INSERT INTO health_record (caller_id, category, name, status, payload, conversation_id, recorded_ts)
		VALUES (` + placeholders(7) + `)
		RETURNING id`
	for _, r := range records {
		payload, err := json.Marshal(nonNilMap(r.Payload))
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		if err := tx.QueryRowContext(ctx, stmt,
			r.CallerID, r.Category, r.Name, r.Status, string(payload), r.ConversationID, r.RecordedTs,
		).Scan(&r.ID); err != nil {
			return fmt.Errorf("failed to create %s record: %w", r.Category, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit health records: %w", err)
	}
	return nil
}

func (d *DB) ListHealthRecords(ctx context.Context, find *store.FindHealthRecord) ([]*store.HealthRecord, error) {
	where, args := []string{"caller_id = " + placeholder(1)}, []any{find.CallerID}
	if len(find.Categories) > 0 {
		where, args = append(where, "category = ANY("+placeholder(len(args)+1)+")"), append(args, pq.Array(find.Categories))
	}
	if find.Status != nil {
		where, args = append(where, "status = "+placeholder(len(args)+1)), append(args, *find.Status)
	}

	query := `SELECT id, caller_id, category, name, status, payload, conversation_id, recorded_ts
		FROM health_record
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY recorded_ts DESC, id DESC`
	if find.Limit > 0 {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list health records: %w", err)
	}
	defer rows.Close()

	var list []*store.HealthRecord
	for rows.Next() {
		var r store.HealthRecord
		var payload []byte
		if err := rows.Scan(&r.ID, &r.CallerID, &r.Category, &r.Name, &r.Status, &payload, &r.ConversationID, &r.RecordedTs); err != nil {
			return nil, fmt.Errorf("failed to scan health record: %w", err)
		}
		if err := json.Unmarshal(payload, &r.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		list = append(list, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate health records: %w", err)
	}
	return list, nil
}

func (d *DB) DeleteHealthRecords(ctx context.Context, delete *store.DeleteHealthRecord) error {
	if _, err := d.db.ExecContext(ctx,
		`DELETE FROM health_record WHERE caller_id = $1 AND category = $2`, delete.CallerID, delete.Category,
	); err != nil {
		return fmt.Errorf("failed to delete health records: %w", err)
	}
	return nil
}

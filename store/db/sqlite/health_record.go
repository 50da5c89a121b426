package sqlite

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/medisense/store"
)

func (d *DB) CreateHealthRecords(ctx context.Context, records []*store.HealthRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	stmt := `INSERT INTO health_record (caller_id, category, name, status, payload, conversation_id, recorded_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`
	for _, r := range records {
		payload, err := json.Marshal(nonNilMap(r.Payload))
		if err != nil {
			return errors.Wrap(err, "failed to marshal payload")
		}
		if err := tx.QueryRowContext(ctx, stmt,
			r.CallerID, r.Category, r.Name, r.Status, string(payload), r.ConversationID, r.RecordedTs,
		).Scan(&r.ID); err != nil {
			return errors.Wrapf(err, "failed to create %s record", r.Category)
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit health records")
}

func (d *DB) ListHealthRecords(ctx context.Context, find *store.FindHealthRecord) ([]*store.HealthRecord, error) {
	where, args := []string{"caller_id = ?"}, []any{find.CallerID}
	if len(find.Categories) > 0 {
		marks := make([]string, 0, len(find.Categories))
		for _, c := range find.Categories {
			marks, args = append(marks, "?"), append(args, c)
		}
		where = append(where, "category IN ("+strings.Join(marks, ", ")+")")
	}
	if find.Status != nil {
		where, args = append(where, "status = ?"), append(args, *find.Status)
	}

	query := `SELECT id, caller_id, category, name, status, payload, conversation_id, recorded_ts
		FROM health_record
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY recorded_ts DESC, id DESC`
	if find.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list health records")
	}
	defer rows.Close()

	var list []*store.HealthRecord
	for rows.Next() {
		var r store.HealthRecord
		var payload string
		if err := rows.Scan(&r.ID, &r.CallerID, &r.Category, &r.Name, &r.Status, &payload, &r.ConversationID, &r.RecordedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan health record")
		}
		if err := json.Unmarshal([]byte(payload), &r.Payload); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal payload")
		}
		list = append(list, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) DeleteHealthRecords(ctx context.Context, delete *store.DeleteHealthRecord) error {
	if _, err := d.db.ExecContext(ctx,
		`DELETE FROM health_record WHERE caller_id = ? AND category = ?`, delete.CallerID, delete.Category,
	); err != nil {
		return errors.Wrap(err, "failed to delete health records")
	}
	return nil
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/medisense/store"
)

func (d *DB) UpsertCaller(ctx context.Context, upsert *store.Caller) error {
	goals, err := json.Marshal(nonNil(upsert.HealthGoals))
	if err != nil {
		return errors.Wrap(err, "failed to marshal health goals")
	}
	memory, err := json.Marshal(nonNil(upsert.Memory))
	if err != nil {
		return errors.Wrap(err, "failed to marshal memory")
	}
	stmt := `
		INSERT INTO caller (id, age, gender, blood_type, health_goals, memory, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			age = excluded.age,
			gender = excluded.gender,
			blood_type = excluded.blood_type,
			health_goals = excluded.health_goals,
			memory = excluded.memory,
			updated_ts = excluded.updated_ts
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		upsert.ID, upsert.Age, upsert.Gender, upsert.BloodType, string(goals), string(memory), upsert.CreatedTs, upsert.UpdatedTs,
	); err != nil {
		return errors.Wrap(err, "failed to upsert caller")
	}
	return nil
}

func (d *DB) GetCaller(ctx context.Context, id string) (*store.Caller, error) {
	var c store.Caller
	var goals, memory string
	err := d.db.QueryRowContext(ctx,
		`SELECT id, age, gender, blood_type, health_goals, memory, created_ts, updated_ts FROM caller WHERE id = ?`, id,
	).Scan(&c.ID, &c.Age, &c.Gender, &c.BloodType, &goals, &memory, &c.CreatedTs, &c.UpdatedTs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get caller")
	}
	if err := json.Unmarshal([]byte(goals), &c.HealthGoals); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal health goals")
	}
	if err := json.Unmarshal([]byte(memory), &c.Memory); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal memory")
	}
	return &c, nil
}

func (d *DB) CreateReport(ctx context.Context, create *store.Report) (*store.Report, error) {
	data, err := json.Marshal(nonNilMap(create.StructuredData))
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal structured data")
	}
	stmt := `INSERT INTO report (caller_id, type, file_name, extracted_text, structured_data, report_date, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt,
		create.CallerID, create.Type, create.FileName, create.ExtractedText, string(data), create.ReportDate, create.CreatedTs,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create report")
	}
	return create, nil
}

func (d *DB) ListReports(ctx context.Context, find *store.FindReport) ([]*store.Report, error) {
	where, args := []string{"caller_id = ?"}, []any{find.CallerID}
	if len(find.IDs) > 0 {
		marks := make([]string, 0, len(find.IDs))
		for _, id := range find.IDs {
			marks, args = append(marks, "?"), append(args, id)
		}
		where = append(where, "id IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT id, caller_id, type, file_name, extracted_text, structured_data, report_date, created_ts
		FROM report
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id DESC`
	if find.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list reports")
	}
	defer rows.Close()

	var list []*store.Report
	for rows.Next() {
		var r store.Report
		var data string
		if err := rows.Scan(&r.ID, &r.CallerID, &r.Type, &r.FileName, &r.ExtractedText, &data, &r.ReportDate, &r.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan report")
		}
		if err := json.Unmarshal([]byte(data), &r.StructuredData); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal structured data")
		}
		list = append(list, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/hrygo/medisense/store"
)

func (d *DB) UpsertCaller(ctx context.Context, upsert *store.Caller) error {
	goals, err := json.Marshal(nonNil(upsert.HealthGoals))
	if err != nil {
		return fmt.Errorf("failed to marshal health goals: %w", err)
	}
	memory, err := json.Marshal(nonNil(upsert.Memory))
	if err != nil {
		return fmt.Errorf("failed to marshal memory: %w", err)
	}
	fields := []string{"id", "age", "gender", "blood_type", "health_goals", "memory", "created_ts", "updated_ts"}
	args := []any{upsert.ID, upsert.Age, upsert.Gender, upsert.BloodType, string(goals), string(memory), upsert.CreatedTs, upsert.UpdatedTs}
	stmt := `INSERT INTO caller (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		ON CONFLICT (id) DO UPDATE SET
			age = EXCLUDED.age,
			gender = EXCLUDED.gender,
			blood_type = EXCLUDED.blood_type,
			health_goals = EXCLUDED.health_goals,
			memory = EXCLUDED.memory,
			updated_ts = EXCLUDED.updated_ts`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("failed to upsert caller: %w", err)
	}
	return nil
}

func (d *DB) GetCaller(ctx context.Context, id string) (*store.Caller, error) {
	var c store.Caller
	var goals, memory []byte
	err := d.db.QueryRowContext(ctx,
		`SELECT id, age, gender, blood_type, health_goals, memory, created_ts, updated_ts FROM caller WHERE id = $1`, id,
	).Scan(&c.ID, &c.Age, &c.Gender, &c.BloodType, &goals, &memory, &c.CreatedTs, &c.UpdatedTs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get caller: %w", err)
	}
	if err := json.Unmarshal(goals, &c.HealthGoals); err != nil {
		return nil, fmt.Errorf("failed to unmarshal health goals: %w", err)
	}
	if err := json.Unmarshal(memory, &c.Memory); err != nil {
		return nil, fmt.Errorf("failed to unmarshal memory: %w", err)
	}
	return &c, nil
}

func (d *DB) CreateReport(ctx context.Context, create *store.Report) (*store.Report, error) {
	data, err := json.Marshal(nonNilMap(create.StructuredData))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal structured data: %w", err)
	}
	fields := []string{"caller_id", "type", "file_name", "extracted_text", "structured_data", "report_date", "created_ts"}
	args := []any{create.CallerID, create.Type, create.FileName, create.ExtractedText, string(data), create.ReportDate, create.CreatedTs}
	stmt := `INSERT INTO report (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create report: %w", err)
	}
	return create, nil
}

func (d *DB) ListReports(ctx context.Context, find *store.FindReport) ([]*store.Report, error) {
	where, args := []string{"caller_id = " + placeholder(1)}, []any{find.CallerID}
	if len(find.IDs) > 0 {
		where, args = append(where, "id = ANY("+placeholder(len(args)+1)+")"), append(args, pq.Array(find.IDs))
	}

	query := `SELECT id, caller_id, type, file_name, extracted_text, structured_data, report_date, created_ts
		FROM report
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id DESC`
	if find.Limit > 0 {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var list []*store.Report
	for rows.Next() {
		var r store.Report
		var data []byte
		if err := rows.Scan(&r.ID, &r.CallerID, &r.Type, &r.FileName, &r.ExtractedText, &data, &r.ReportDate, &r.CreatedTs); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		if err := json.Unmarshal(data, &r.StructuredData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal structured data: %w", err)
		}
		list = append(list, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reports: %w", err)
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

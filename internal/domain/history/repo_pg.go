package history

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telemed/telemed/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *repoPG) EnsureHistory(ctx context.Context, patientID uuid.UUID) (*History, error) {
	q := r.conn(ctx)
	if _, err := q.Exec(ctx, `
		INSERT INTO clinical_histories (id, patient_id) VALUES ($1, $2)
		ON CONFLICT (patient_id) DO NOTHING`, uuid.New(), patientID); err != nil {
		return nil, err
	}
	var h History
	err := q.QueryRow(ctx, `SELECT id, patient_id, created_at FROM clinical_histories WHERE patient_id = $1`,
		patientID).Scan(&h.ID, &h.PatientID, &h.CreatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &h, nil
}

func (r *repoPG) AppendEntry(ctx context.Context, e *Entry) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO history_entries (id, history_id, entry_type, description, details,
			consultation_id, recorded_by, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.HistoryID, e.Type, e.Description, e.Details, e.ConsultationID, e.RecordedBy, e.RecordedAt)
	return err
}

func (r *repoPG) ListEntries(ctx context.Context, patientID uuid.UUID, entryType string, limit int) ([]*Entry, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT e.id, e.history_id, e.entry_type, e.description, e.details,
			e.consultation_id, e.recorded_by, e.recorded_at
		FROM history_entries e
		JOIN clinical_histories h ON h.id = e.history_id
		WHERE h.patient_id = $1 AND ($2::text = '' OR e.entry_type = $2)
		ORDER BY e.recorded_at DESC
		LIMIT $3`, patientID, entryType, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.HistoryID, &e.Type, &e.Description, &e.Details,
			&e.ConsultationID, &e.RecordedBy, &e.RecordedAt); err != nil {
			return nil, err
		}
		items = append(items, &e)
	}
	return items, rows.Err()
}

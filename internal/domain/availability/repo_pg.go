package availability

import (
	"context"
	"time"

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

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsNoRows(err):
		return ErrNotFound
	case db.IsUniqueViolation(err):
		return ErrDuplicate
	default:
		return err
	}
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

// Dates and times travel as text so the DATE and TIME columns map onto
// Date and Clock without custom codecs.
const windowCols = `w.id, w.doctor_id, w.center_id, to_char(w.day, 'YYYY-MM-DD'),
	to_char(w.start_time, 'HH24:MI'), to_char(w.end_time, 'HH24:MI'),
	w.interval_minutes, w.status, w.max_count, w.created_at`

func scanWindow(row pgx.Row, extra ...interface{}) (*Window, error) {
	var (
		w               Window
		day, start, end string
	)
	dest := append([]interface{}{&w.ID, &w.DoctorID, &w.CenterID, &day, &start, &end,
		&w.IntervalMinutes, &w.Status, &w.MaxCount, &w.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, mapErr(err)
	}
	var err error
	if w.Day, err = ParseDate(day); err != nil {
		return nil, err
	}
	if w.Start, err = ParseClock(start); err != nil {
		return nil, err
	}
	if w.End, err = ParseClock(end); err != nil {
		return nil, err
	}
	return &w, nil
}

func collectWindows(rows pgx.Rows) ([]*Window, error) {
	defer rows.Close()
	var items []*Window
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

func (r *repoPG) CreateWindow(ctx context.Context, w *Window) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO availability_windows (id, doctor_id, center_id, day, start_time, end_time,
			interval_minutes, status, max_count)
		VALUES ($1,$2,$3,$4::date,$5::time,$6::time,$7,$8,$9)
		RETURNING created_at`,
		w.ID, w.DoctorID, w.CenterID, w.Day.String(), w.Start.String(), w.End.String(),
		w.IntervalMinutes, w.Status, w.MaxCount,
	).Scan(&w.CreatedAt)
	return mapErr(err)
}

func (r *repoPG) GetWindow(ctx context.Context, id uuid.UUID) (*Window, error) {
	return scanWindow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+windowCols+` FROM availability_windows w WHERE w.id = $1`, id))
}

func (r *repoPG) DeleteWindow(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM availability_windows WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, from Date) ([]*Window, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+windowCols+` FROM availability_windows w
		WHERE w.doctor_id = $1 AND w.day >= $2::date
		ORDER BY w.day, w.start_time`, doctorID, from.String())
	if err != nil {
		return nil, err
	}
	return collectWindows(rows)
}

func (r *repoPG) WindowsFor(ctx context.Context, doctorID, centerID uuid.UUID, day Date) ([]*Window, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+windowCols+` FROM availability_windows w
		WHERE w.doctor_id = $1 AND w.center_id = $2 AND w.day = $3::date
		ORDER BY w.start_time`, doctorID, centerID, day.String())
	if err != nil {
		return nil, err
	}
	return collectWindows(rows)
}

func (r *repoPG) WindowsInRange(ctx context.Context, f SearchFilter) ([]*WindowView, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+windowCols+`,
			u.first_name || ' ' || u.last_name, c.name, dp.specialty_id, COALESCE(s.name, '')
		FROM availability_windows w
		JOIN users u ON u.id = w.doctor_id
		JOIN doctor_profiles dp ON dp.user_id = w.doctor_id
		JOIN medical_centers c ON c.id = w.center_id
		LEFT JOIN specialties s ON s.id = dp.specialty_id
		WHERE w.day BETWEEN $1::date AND $2::date
			AND w.status <> 'unavailable'
			AND u.active AND dp.available AND c.active
			AND ($3::uuid IS NULL OR w.doctor_id = $3)
			AND ($4::uuid IS NULL OR w.center_id = $4)
			AND ($5::uuid IS NULL OR dp.specialty_id = $5)
		ORDER BY w.day, w.start_time`,
		f.From.String(), f.To.String(), f.DoctorID, f.CenterID, f.SpecialtyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*WindowView
	for rows.Next() {
		var v WindowView
		w, err := scanWindow(rows, &v.DoctorName, &v.CenterName, &v.SpecialtyID, &v.SpecialtyName)
		if err != nil {
			return nil, err
		}
		v.Window = *w
		items = append(items, &v)
	}
	return items, rows.Err()
}

func (r *repoPG) TakenStarts(ctx context.Context, doctorID uuid.UUID, from, to time.Time, exclude *uuid.UUID) ([]time.Time, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT start_time FROM appointments
		WHERE doctor_id = $1 AND start_time >= $2 AND start_time < $3
			AND status IN ('pending', 'confirmed', 'in_progress')
			AND ($4::uuid IS NULL OR id <> $4)`,
		doctorID, from, to, exclude)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

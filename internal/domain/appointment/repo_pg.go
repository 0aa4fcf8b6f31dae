package appointment

import (
	"context"
	"fmt"
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
		return ErrSlotTaken
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

const apptCols = `a.id, a.patient_id, a.doctor_id, a.center_id, a.specialty_id, a.start_time,
	a.duration_minutes, a.status, a.appointment_type, a.reason, a.cancel_reason, a.cancelled_by,
	a.notes, a.reminder_24h_sent, a.reminder_1h_sent, a.created_at, a.updated_at,
	r.id, r.url, r.doctor_token, r.patient_token, r.state, r.max_duration_minutes,
	r.video_enabled, r.audio_enabled, r.chat_enabled, r.screenshare_enabled,
	r.recording_allowed, r.recording_consent, r.started_at, r.ended_at, r.created_at`

const apptFrom = ` FROM appointments a JOIN virtual_rooms r ON r.appointment_id = a.id`

const viewCols = apptCols + `,
	pu.first_name || ' ' || pu.last_name, pu.email, pu.phone,
	du.first_name || ' ' || du.last_name, du.email,
	c.name, s.name`

const viewFrom = apptFrom + `
	JOIN users pu ON pu.id = a.patient_id
	JOIN users du ON du.id = a.doctor_id
	JOIN medical_centers c ON c.id = a.center_id
	JOIN specialties s ON s.id = a.specialty_id`

func scanAppointment(row pgx.Row, extra ...interface{}) (*Appointment, error) {
	var a Appointment
	room := &VirtualRoom{}
	dest := append([]interface{}{
		&a.ID, &a.PatientID, &a.DoctorID, &a.CenterID, &a.SpecialtyID, &a.StartTime,
		&a.DurationMinutes, &a.Status, &a.Type, &a.Reason, &a.CancelReason, &a.CancelledBy,
		&a.Notes, &a.Reminder24hSent, &a.Reminder1hSent, &a.CreatedAt, &a.UpdatedAt,
		&room.ID, &room.URL, &room.DoctorToken, &room.PatientToken, &room.State, &room.MaxDurationMinutes,
		&room.VideoEnabled, &room.AudioEnabled, &room.ChatEnabled, &room.ScreenshareEnabled,
		&room.RecordingAllowed, &room.RecordingConsent, &room.StartedAt, &room.EndedAt, &room.CreatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, mapErr(err)
	}
	room.AppointmentID = a.ID
	a.Room = room
	return &a, nil
}

func scanView(row pgx.Row) (*View, error) {
	var v View
	a, err := scanAppointment(row,
		&v.PatientName, &v.PatientEmail, &v.PatientPhone,
		&v.DoctorName, &v.DoctorEmail, &v.CenterName, &v.SpecialtyName)
	if err != nil {
		return nil, err
	}
	v.Appointment = *a
	return &v, nil
}

func collectViews(rows pgx.Rows) ([]*View, error) {
	defer rows.Close()
	var items []*View
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	c := r.conn(ctx)
	err := c.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, center_id, specialty_id, start_time,
			duration_minutes, status, appointment_type, reason, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.CenterID, a.SpecialtyID, a.StartTime,
		a.DurationMinutes, a.Status, a.Type, a.Reason, a.Notes,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	if a.Room == nil {
		return nil
	}
	room := a.Room
	room.AppointmentID = a.ID
	err = c.QueryRow(ctx, `
		INSERT INTO virtual_rooms (id, appointment_id, url, doctor_token, patient_token, state,
			max_duration_minutes, video_enabled, audio_enabled, chat_enabled, screenshare_enabled,
			recording_allowed, recording_consent)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at`,
		room.ID, room.AppointmentID, room.URL, room.DoctorToken, room.PatientToken, room.State,
		room.MaxDurationMinutes, room.VideoEnabled, room.AudioEnabled, room.ChatEnabled,
		room.ScreenshareEnabled, room.RecordingAllowed, room.RecordingConsent,
	).Scan(&room.CreatedAt)
	if err != nil {
		return fmt.Errorf("create virtual room: %w", err)
	}
	return nil
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+apptFrom+` WHERE a.id = $1`, id))
}

func (r *repoPG) GetView(ctx context.Context, id uuid.UUID) (*View, error) {
	return scanView(r.conn(ctx).QueryRow(ctx, `SELECT `+viewCols+viewFrom+` WHERE a.id = $1`, id))
}

func (r *repoPG) GetByRoomToken(ctx context.Context, token string) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+apptFrom+`
		WHERE r.doctor_token = $1 OR r.patient_token = $1`, token))
}

func (r *repoPG) Update(ctx context.Context, a *Appointment) error {
	c := r.conn(ctx)
	err := c.QueryRow(ctx, `
		UPDATE appointments SET start_time = $2, status = $3, cancel_reason = $4, cancelled_by = $5,
			notes = $6, reminder_24h_sent = $7, reminder_1h_sent = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.StartTime, a.Status, a.CancelReason, a.CancelledBy,
		a.Notes, a.Reminder24hSent, a.Reminder1hSent,
	).Scan(&a.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	if a.Room == nil {
		return nil
	}
	_, err = c.Exec(ctx, `
		UPDATE virtual_rooms SET state = $2, started_at = $3, ended_at = $4, recording_consent = $5
		WHERE appointment_id = $1`,
		a.ID, a.Room.State, a.Room.StartedAt, a.Room.EndedAt, a.Room.RecordingConsent)
	if err != nil {
		return fmt.Errorf("update virtual room: %w", err)
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*View, int, error) {
	where := ` WHERE ($1::uuid IS NULL OR a.patient_id = $1)
		AND ($2::uuid IS NULL OR a.doctor_id = $2)
		AND ($3::uuid IS NULL OR a.center_id = $3)
		AND ($4 = '' OR a.status = $4)
		AND ($5::timestamptz IS NULL OR a.start_time >= $5)`
	args := []interface{}{f.PatientID, f.DoctorID, f.CenterID, f.Status, f.From}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments a`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT `+viewCols+viewFrom+where+`
		ORDER BY a.start_time DESC LIMIT $6 OFFSET $7`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectViews(rows)
	return items, total, err
}

func (r *repoPG) LockDoctor(ctx context.Context, doctorID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, doctorID)
	return err
}

func (r *repoPG) CountForDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time, exclude *uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE doctor_id = $1 AND start_time >= $2 AND start_time < $3
			AND status <> 'cancelled'
			AND ($4::uuid IS NULL OR id <> $4)`,
		doctorID, from, to, exclude).Scan(&n)
	return n, err
}

func reminderColumn(kind string) (string, error) {
	switch kind {
	case Reminder24h:
		return "reminder_24h_sent", nil
	case Reminder1h:
		return "reminder_1h_sent", nil
	}
	return "", fmt.Errorf("unknown reminder kind %q", kind)
}

func (r *repoPG) DueReminders(ctx context.Context, kind string, from, to time.Time) ([]*View, error) {
	col, err := reminderColumn(kind)
	if err != nil {
		return nil, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+viewCols+viewFrom+`
		WHERE a.status IN ('pending', 'confirmed')
			AND a.start_time > $1 AND a.start_time <= $2
			AND NOT a.`+col+`
		ORDER BY a.start_time`, from, to)
	if err != nil {
		return nil, err
	}
	return collectViews(rows)
}

func (r *repoPG) MarkReminded(ctx context.Context, id uuid.UUID, kind string) error {
	col, err := reminderColumn(kind)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `UPDATE appointments SET `+col+` = TRUE WHERE id = $1`, id)
	return err
}

func (r *repoPG) HasAppointmentWith(ctx context.Context, doctorID, patientID uuid.UUID) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM appointments
			WHERE doctor_id = $1 AND patient_id = $2 AND status <> 'cancelled')`,
		doctorID, patientID).Scan(&ok)
	return ok, err
}

package consultation

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

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsNoRows(err):
		return ErrNotFound
	case db.IsUniqueViolation(err):
		return ErrAlreadyStarted
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

const consultationCols = `c.id, c.appointment_id, a.patient_id, a.doctor_id, c.reason, c.symptoms,
	c.background, c.examination, c.diagnosis, c.treatment_plan, c.recommendations,
	c.follow_up_required, c.follow_up_days, c.follow_up_instructions, c.started_at,
	c.ended_at, c.duration_minutes, c.recorded_by, c.created_at, c.updated_at`

const consultationFrom = ` FROM consultations c JOIN appointments a ON a.id = c.appointment_id`

func scanConsultation(row pgx.Row) (*Consultation, error) {
	var c Consultation
	err := row.Scan(&c.ID, &c.AppointmentID, &c.PatientID, &c.DoctorID, &c.Reason, &c.Symptoms,
		&c.Background, &c.Examination, &c.Diagnosis, &c.TreatmentPlan, &c.Recommendations,
		&c.FollowUpRequired, &c.FollowUpDays, &c.FollowUpInstructions, &c.StartedAt,
		&c.EndedAt, &c.DurationMinutes, &c.RecordedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (r *repoPG) Create(ctx context.Context, c *Consultation) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO consultations (id, appointment_id, reason, symptoms, background, examination,
			diagnosis, treatment_plan, recommendations, follow_up_required, follow_up_days,
			follow_up_instructions, started_at, ended_at, duration_minutes, recorded_by,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		c.ID, c.AppointmentID, c.Reason, c.Symptoms, c.Background, c.Examination,
		c.Diagnosis, c.TreatmentPlan, c.Recommendations, c.FollowUpRequired, c.FollowUpDays,
		c.FollowUpInstructions, c.StartedAt, c.EndedAt, c.DurationMinutes, c.RecordedBy,
		c.CreatedAt, c.UpdatedAt)
	return mapErr(err)
}

func (r *repoPG) Update(ctx context.Context, c *Consultation) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consultations SET reason = $2, symptoms = $3, background = $4, examination = $5,
			diagnosis = $6, treatment_plan = $7, recommendations = $8, follow_up_required = $9,
			follow_up_days = $10, follow_up_instructions = $11, started_at = $12, ended_at = $13,
			duration_minutes = $14, recorded_by = $15, updated_at = $16
		WHERE id = $1`,
		c.ID, c.Reason, c.Symptoms, c.Background, c.Examination,
		c.Diagnosis, c.TreatmentPlan, c.Recommendations, c.FollowUpRequired,
		c.FollowUpDays, c.FollowUpInstructions, c.StartedAt, c.EndedAt,
		c.DurationMinutes, c.RecordedBy, c.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return scanConsultation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+consultationCols+consultationFrom+` WHERE c.id = $1`, id))
}

func (r *repoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Consultation, error) {
	return scanConsultation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+consultationCols+consultationFrom+` WHERE c.appointment_id = $1`, appointmentID))
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Consultation, int, error) {
	q := r.conn(ctx)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*)`+consultationFrom+` WHERE a.patient_id = $1`,
		patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+consultationCols+consultationFrom+`
		WHERE a.patient_id = $1
		ORDER BY c.started_at DESC NULLS LAST
		LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

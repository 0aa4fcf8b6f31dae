package documents

import (
	"context"
	"fmt"

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
		return ErrDuplicateCode
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

// headerCols reads the common columns of the document aliased d.
const headerCols = `d.id, d.consultation_id, d.patient_id, d.doctor_id, a.center_id, d.issued_at,
	d.expires_at, d.status, d.validation_code, d.void_reason, d.issued_by,
	pu.first_name || ' ' || pu.last_name, pu.document_type || ': ' || pu.document_number, pu.email,
	du.first_name || ' ' || du.last_name, COALESCE(dp.license_number, ''), mc.name`

const headerJoins = `
	JOIN consultations c ON c.id = d.consultation_id
	JOIN appointments a ON a.id = c.appointment_id
	JOIN users pu ON pu.id = d.patient_id
	JOIN users du ON du.id = d.doctor_id
	LEFT JOIN doctor_profiles dp ON dp.user_id = d.doctor_id
	JOIN medical_centers mc ON mc.id = a.center_id`

func headerDest(h *Header) []interface{} {
	return []interface{}{&h.ID, &h.ConsultationID, &h.PatientID, &h.DoctorID, &h.CenterID, &h.IssuedAt,
		&h.ExpiresAt, &h.Status, &h.ValidationCode, &h.VoidReason, &h.IssuedBy,
		&h.PatientName, &h.PatientDocument, &h.PatientEmail,
		&h.DoctorName, &h.DoctorLicense, &h.CenterName}
}

func tableFor(kind string) (string, error) {
	switch kind {
	case KindPrescription:
		return "prescriptions", nil
	case KindLabOrder:
		return "lab_orders", nil
	}
	return "", fmt.Errorf("unknown document kind %q", kind)
}

// -- Prescriptions --

const prescriptionCols = headerCols + `, d.diagnosis, d.notes`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	dest := append(headerDest(&p.Header), &p.Diagnosis, &p.Notes)
	if err := row.Scan(dest...); err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (r *repoPG) CreatePrescription(ctx context.Context, p *Prescription) error {
	q := r.conn(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO prescriptions (id, consultation_id, patient_id, doctor_id, diagnosis, notes,
			issued_at, expires_at, status, validation_code, void_reason, issued_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.ConsultationID, p.PatientID, p.DoctorID, p.Diagnosis, p.Notes,
		p.IssuedAt, p.ExpiresAt, p.Status, p.ValidationCode, p.VoidReason, p.IssuedBy)
	if err != nil {
		return mapErr(err)
	}
	for _, m := range p.Medications {
		if _, err := q.Exec(ctx, `
			INSERT INTO prescription_medications (id, prescription_id, name, presentation, dose, route,
				frequency, duration, quantity, instructions, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			m.ID, p.ID, m.Name, m.Presentation, m.Dose, m.Route,
			m.Frequency, m.Duration, m.Quantity, m.Instructions, m.Position); err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) loadMedications(ctx context.Context, p *Prescription) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, name, presentation, dose, route, frequency, duration, quantity, instructions, position
		FROM prescription_medications WHERE prescription_id = $1 ORDER BY position`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	p.Medications = []Medication{}
	for rows.Next() {
		var m Medication
		if err := rows.Scan(&m.ID, &m.Name, &m.Presentation, &m.Dose, &m.Route,
			&m.Frequency, &m.Duration, &m.Quantity, &m.Instructions, &m.Position); err != nil {
			return err
		}
		p.Medications = append(p.Medications, m)
	}
	return rows.Err()
}

func (r *repoPG) getPrescription(ctx context.Context, where string, arg interface{}) (*Prescription, error) {
	p, err := scanPrescription(r.conn(ctx).QueryRow(ctx,
		`SELECT `+prescriptionCols+` FROM prescriptions d`+headerJoins+` WHERE `+where, arg))
	if err != nil {
		return nil, err
	}
	if err := r.loadMedications(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *repoPG) GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return r.getPrescription(ctx, "d.id = $1", id)
}

func (r *repoPG) GetPrescriptionByCode(ctx context.Context, code string) (*Prescription, error) {
	return r.getPrescription(ctx, "d.validation_code = $1", code)
}

func (r *repoPG) ListPrescriptionsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	q := r.conn(ctx)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM prescriptions WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+prescriptionCols+` FROM prescriptions d`+headerJoins+`
		WHERE d.patient_id = $1 ORDER BY d.issued_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	var items []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		items = append(items, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, p := range items {
		if err := r.loadMedications(ctx, p); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

// -- Lab orders --

const labOrderCols = headerCols + `, d.presumptive_diagnosis, d.general_instructions, d.fasting_required, d.urgent`

func scanLabOrder(row pgx.Row) (*LabOrder, error) {
	var o LabOrder
	dest := append(headerDest(&o.Header), &o.PresumptiveDiagnosis, &o.GeneralInstructions, &o.FastingRequired, &o.Urgent)
	if err := row.Scan(dest...); err != nil {
		return nil, mapErr(err)
	}
	return &o, nil
}

func (r *repoPG) CreateLabOrder(ctx context.Context, o *LabOrder) error {
	q := r.conn(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO lab_orders (id, consultation_id, patient_id, doctor_id, presumptive_diagnosis,
			general_instructions, fasting_required, urgent, issued_at, expires_at, status,
			validation_code, void_reason, issued_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		o.ID, o.ConsultationID, o.PatientID, o.DoctorID, o.PresumptiveDiagnosis,
		o.GeneralInstructions, o.FastingRequired, o.Urgent, o.IssuedAt, o.ExpiresAt, o.Status,
		o.ValidationCode, o.VoidReason, o.IssuedBy)
	if err != nil {
		return mapErr(err)
	}
	for _, e := range o.Exams {
		if _, err := q.Exec(ctx, `
			INSERT INTO lab_exams (id, lab_order_id, code, name, exam_type, description, instructions,
				position, status, result, result_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			e.ID, o.ID, e.Code, e.Name, e.Type, e.Description, e.Instructions,
			e.Position, e.Status, e.Result, e.ResultAt); err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) loadExams(ctx context.Context, o *LabOrder) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, code, name, exam_type, description, instructions, position, status, result, result_at
		FROM lab_exams WHERE lab_order_id = $1 ORDER BY position`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	o.Exams = []Exam{}
	for rows.Next() {
		var e Exam
		if err := rows.Scan(&e.ID, &e.Code, &e.Name, &e.Type, &e.Description, &e.Instructions,
			&e.Position, &e.Status, &e.Result, &e.ResultAt); err != nil {
			return err
		}
		o.Exams = append(o.Exams, e)
	}
	return rows.Err()
}

func (r *repoPG) getLabOrder(ctx context.Context, where string, arg interface{}) (*LabOrder, error) {
	o, err := scanLabOrder(r.conn(ctx).QueryRow(ctx,
		`SELECT `+labOrderCols+` FROM lab_orders d`+headerJoins+` WHERE `+where, arg))
	if err != nil {
		return nil, err
	}
	if err := r.loadExams(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *repoPG) GetLabOrder(ctx context.Context, id uuid.UUID) (*LabOrder, error) {
	return r.getLabOrder(ctx, "d.id = $1", id)
}

func (r *repoPG) GetLabOrderByCode(ctx context.Context, code string) (*LabOrder, error) {
	return r.getLabOrder(ctx, "d.validation_code = $1", code)
}

func (r *repoPG) ListLabOrdersByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*LabOrder, int, error) {
	q := r.conn(ctx)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM lab_orders WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+labOrderCols+` FROM lab_orders d`+headerJoins+`
		WHERE d.patient_id = $1 ORDER BY d.issued_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	var items []*LabOrder
	for rows.Next() {
		o, err := scanLabOrder(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		items = append(items, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, o := range items {
		if err := r.loadExams(ctx, o); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

func (r *repoPG) UpdateStatus(ctx context.Context, kind string, h *Header) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE `+table+` SET status = $2, void_reason = $3 WHERE id = $1`,
		h.ID, h.Status, h.VoidReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

package facility

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

// =========== Centers ===========

const centerCols = `c.id, c.name, c.center_type, c.address, c.city, c.department, c.postal_code,
	c.phone, c.email, c.website, c.description, c.opening_hours, c.latitude, c.longitude,
	c.active, c.created_at, c.updated_at`

func scanCenter(row pgx.Row) (*Center, error) {
	var c Center
	err := row.Scan(&c.ID, &c.Name, &c.CenterType, &c.Address, &c.City, &c.Department,
		&c.PostalCode, &c.Phone, &c.Email, &c.Website, &c.Description, &c.OpeningHours,
		&c.Latitude, &c.Longitude, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func collectCenters(rows pgx.Rows) ([]*Center, error) {
	defer rows.Close()
	var items []*Center
	for rows.Next() {
		c, err := scanCenter(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *repoPG) CreateCenter(ctx context.Context, c *Center) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medical_centers (id, name, center_type, address, city, department, postal_code,
			phone, email, website, description, opening_hours, latitude, longitude, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING created_at, updated_at`,
		c.ID, c.Name, c.CenterType, c.Address, c.City, c.Department, c.PostalCode,
		c.Phone, c.Email, c.Website, c.Description, c.OpeningHours, c.Latitude, c.Longitude, c.Active,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	return mapErr(err)
}

func (r *repoPG) UpdateCenter(ctx context.Context, c *Center) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE medical_centers SET name=$2, center_type=$3, address=$4, city=$5, department=$6,
			postal_code=$7, phone=$8, email=$9, website=$10, description=$11, opening_hours=$12,
			latitude=$13, longitude=$14, active=$15, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		c.ID, c.Name, c.CenterType, c.Address, c.City, c.Department, c.PostalCode,
		c.Phone, c.Email, c.Website, c.Description, c.OpeningHours, c.Latitude, c.Longitude, c.Active,
	).Scan(&c.UpdatedAt)
	return mapErr(err)
}

func (r *repoPG) GetCenter(ctx context.Context, id uuid.UUID) (*Center, error) {
	return scanCenter(r.conn(ctx).QueryRow(ctx, `SELECT `+centerCols+` FROM medical_centers c WHERE c.id = $1`, id))
}

func (r *repoPG) ListCenters(ctx context.Context, f CenterFilter, limit, offset int) ([]*Center, int, error) {
	const where = ` WHERE ($1 = '' OR LOWER(c.city) = LOWER($1)) AND (NOT $2 OR c.active)`
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medical_centers c`+where,
		f.City, f.ActiveOnly).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+centerCols+` FROM medical_centers c`+where+`
		ORDER BY c.name LIMIT $3 OFFSET $4`, f.City, f.ActiveOnly, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectCenters(rows)
	return items, total, err
}

// =========== Specialties ===========

func (r *repoPG) CreateSpecialty(ctx context.Context, s *Specialty) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO specialties (id, name, description, icon) VALUES ($1,$2,$3,$4)
		RETURNING created_at`,
		s.ID, s.Name, s.Description, s.Icon,
	).Scan(&s.CreatedAt)
	return mapErr(err)
}

func (r *repoPG) GetSpecialty(ctx context.Context, id uuid.UUID) (*Specialty, error) {
	var s Specialty
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, name, description, icon, created_at FROM specialties WHERE id = $1`, id,
	).Scan(&s.ID, &s.Name, &s.Description, &s.Icon, &s.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &s, nil
}

func (r *repoPG) ListSpecialties(ctx context.Context) ([]*Specialty, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id, name, description, icon, created_at FROM specialties ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Specialty
	for rows.Next() {
		var s Specialty
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.Icon, &s.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &s)
	}
	return items, rows.Err()
}

// =========== Center specialties ===========

func (r *repoPG) UpsertCenterSpecialty(ctx context.Context, cs *CenterSpecialty) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO center_specialties (center_id, specialty_id, available, notes)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (center_id, specialty_id) DO UPDATE SET available = EXCLUDED.available, notes = EXCLUDED.notes`,
		cs.CenterID, cs.SpecialtyID, cs.Available, cs.Notes)
	return mapErr(err)
}

func (r *repoPG) CenterSpecialties(ctx context.Context, centerID uuid.UUID) ([]*CenterSpecialty, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT cs.center_id, cs.specialty_id, s.name, cs.available, cs.notes
		FROM center_specialties cs JOIN specialties s ON s.id = cs.specialty_id
		WHERE cs.center_id = $1 ORDER BY s.name`, centerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*CenterSpecialty
	for rows.Next() {
		var cs CenterSpecialty
		if err := rows.Scan(&cs.CenterID, &cs.SpecialtyID, &cs.SpecialtyName, &cs.Available, &cs.Notes); err != nil {
			return nil, err
		}
		items = append(items, &cs)
	}
	return items, rows.Err()
}

func (r *repoPG) CentersBySpecialty(ctx context.Context, specialtyID uuid.UUID) ([]*Center, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+centerCols+`
		FROM medical_centers c JOIN center_specialties cs ON cs.center_id = c.id
		WHERE cs.specialty_id = $1 AND cs.available AND c.active
		ORDER BY c.name`, specialtyID)
	if err != nil {
		return nil, err
	}
	return collectCenters(rows)
}

// =========== Doctor links ===========

func (r *repoPG) UpsertDoctorCenter(ctx context.Context, dc *DoctorCenter) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor_centers (doctor_id, center_id, active) VALUES ($1,$2,$3)
		ON CONFLICT (doctor_id, center_id) DO UPDATE SET active = EXCLUDED.active
		RETURNING start_date`,
		dc.DoctorID, dc.CenterID, dc.Active,
	).Scan(&dc.StartDate)
	return mapErr(err)
}

func (r *repoPG) DoctorLinked(ctx context.Context, doctorID, centerID uuid.UUID) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM doctor_centers WHERE doctor_id = $1 AND center_id = $2 AND active)`,
		doctorID, centerID).Scan(&ok)
	return ok, err
}

func (r *repoPG) DoctorsByCenter(ctx context.Context, centerID uuid.UUID, specialtyID *uuid.UUID) ([]*DoctorSummary, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT u.id, u.first_name, u.last_name, dp.professional_title, dp.specialty_id,
			COALESCE(s.name, ''), dp.years_experience
		FROM doctor_centers dc
		JOIN users u ON u.id = dc.doctor_id
		JOIN doctor_profiles dp ON dp.user_id = u.id
		LEFT JOIN specialties s ON s.id = dp.specialty_id
		WHERE dc.center_id = $1 AND dc.active AND u.active AND dp.available
			AND ($2::uuid IS NULL OR dp.specialty_id = $2)
		ORDER BY u.last_name, u.first_name`, centerID, specialtyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*DoctorSummary
	for rows.Next() {
		var d DoctorSummary
		if err := rows.Scan(&d.ID, &d.FirstName, &d.LastName, &d.ProfessionalTitle,
			&d.SpecialtyID, &d.SpecialtyName, &d.YearsExperience); err != nil {
			return nil, err
		}
		items = append(items, &d)
	}
	return items, rows.Err()
}

func (r *repoPG) DoctorCenters(ctx context.Context, doctorID uuid.UUID) ([]*Center, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+centerCols+`
		FROM medical_centers c JOIN doctor_centers dc ON dc.center_id = c.id
		WHERE dc.doctor_id = $1 AND dc.active
		ORDER BY c.name`, doctorID)
	if err != nil {
		return nil, err
	}
	return collectCenters(rows)
}

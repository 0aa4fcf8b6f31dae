package identity

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

// =========== User Repository ===========

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository { return &userRepoPG{pool: pool} }

func (r *userRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const userCols = `id, email, password_hash, document_type, document_number, first_name, last_name,
	phone, role, active, last_access_at, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DocumentType, &u.DocumentNumber,
		&u.FirstName, &u.LastName, &u.Phone, &u.Role, &u.Active, &u.LastAccessAt,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash, document_type, document_number,
			first_name, last_name, phone, role, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		u.ID, u.Email, u.PasswordHash, u.DocumentType, u.DocumentNumber,
		u.FirstName, u.LastName, u.Phone, u.Role, u.Active,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	return mapErr(err)
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE LOWER(email) = LOWER($1)`, email))
}

func (r *userRepoPG) Update(ctx context.Context, u *User) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE users SET first_name=$2, last_name=$3, phone=$4, password_hash=$5, updated_at=NOW()
		WHERE id = $1`,
		u.ID, u.FirstName, u.LastName, u.Phone, u.PasswordHash)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE users SET active=$2, updated_at=NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepoPG) TouchLastAccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE users SET last_access_at=$2 WHERE id = $1`, id, at)
	return err
}

func (r *userRepoPG) List(ctx context.Context, role string, limit, offset int) ([]*User, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM users WHERE ($1 = '' OR role = $1)`, role).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+userCols+` FROM users
		WHERE ($1 = '' OR role = $1)
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, role, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, u)
	}
	return items, total, rows.Err()
}

// =========== Profile Repository ===========

type profileRepoPG struct{ pool *pgxpool.Pool }

func NewProfileRepoPG(pool *pgxpool.Pool) ProfileRepository { return &profileRepoPG{pool: pool} }

func (r *profileRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *profileRepoPG) UpsertPatient(ctx context.Context, p *PatientProfile) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_profiles (user_id, blood_type, allergies, chronic_conditions,
			emergency_contact_name, emergency_contact_phone, emergency_contact_relation,
			insurer, insurance_number)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (user_id) DO UPDATE SET
			blood_type=EXCLUDED.blood_type, allergies=EXCLUDED.allergies,
			chronic_conditions=EXCLUDED.chronic_conditions,
			emergency_contact_name=EXCLUDED.emergency_contact_name,
			emergency_contact_phone=EXCLUDED.emergency_contact_phone,
			emergency_contact_relation=EXCLUDED.emergency_contact_relation,
			insurer=EXCLUDED.insurer, insurance_number=EXCLUDED.insurance_number`,
		p.UserID, p.BloodType, p.Allergies, p.ChronicConditions,
		p.EmergencyContactName, p.EmergencyContactPhone, p.EmergencyContactRelation,
		p.Insurer, p.InsuranceNumber)
	return err
}

func (r *profileRepoPG) GetPatient(ctx context.Context, userID uuid.UUID) (*PatientProfile, error) {
	var p PatientProfile
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT user_id, blood_type, allergies, chronic_conditions, emergency_contact_name,
			emergency_contact_phone, emergency_contact_relation, insurer, insurance_number
		FROM patient_profiles WHERE user_id = $1`, userID,
	).Scan(&p.UserID, &p.BloodType, &p.Allergies, &p.ChronicConditions, &p.EmergencyContactName,
		&p.EmergencyContactPhone, &p.EmergencyContactRelation, &p.Insurer, &p.InsuranceNumber)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (r *profileRepoPG) CreateDoctor(ctx context.Context, p *DoctorProfile) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO doctor_profiles (user_id, license_number, specialty_id, professional_title,
			bio, years_experience, available)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.UserID, p.LicenseNumber, p.SpecialtyID, p.ProfessionalTitle, p.Bio, p.YearsExperience, p.Available)
	return mapErr(err)
}

func (r *profileRepoPG) UpdateDoctor(ctx context.Context, p *DoctorProfile) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE doctor_profiles SET specialty_id=$2, professional_title=$3, bio=$4,
			years_experience=$5, available=$6
		WHERE user_id = $1`,
		p.UserID, p.SpecialtyID, p.ProfessionalTitle, p.Bio, p.YearsExperience, p.Available)
	return err
}

func (r *profileRepoPG) GetDoctor(ctx context.Context, userID uuid.UUID) (*DoctorProfile, error) {
	var p DoctorProfile
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT user_id, license_number, specialty_id, professional_title, bio, years_experience, available
		FROM doctor_profiles WHERE user_id = $1`, userID,
	).Scan(&p.UserID, &p.LicenseNumber, &p.SpecialtyID, &p.ProfessionalTitle, &p.Bio, &p.YearsExperience, &p.Available)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (r *profileRepoPG) CreateCenterAdmin(ctx context.Context, p *CenterAdminProfile) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO center_admin_profiles (user_id, center_id, position) VALUES ($1,$2,$3)`,
		p.UserID, p.CenterID, p.Position)
	return mapErr(err)
}

func (r *profileRepoPG) GetCenterAdmin(ctx context.Context, userID uuid.UUID) (*CenterAdminProfile, error) {
	var p CenterAdminProfile
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT user_id, center_id, position FROM center_admin_profiles WHERE user_id = $1`, userID,
	).Scan(&p.UserID, &p.CenterID, &p.Position)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

// =========== Refresh Token Repository ===========

type refreshTokenRepoPG struct{ pool *pgxpool.Pool }

func NewRefreshTokenRepoPG(pool *pgxpool.Pool) RefreshTokenRepository {
	return &refreshTokenRepoPG{pool: pool}
}

func (r *refreshTokenRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *refreshTokenRepoPG) Create(ctx context.Context, t *RefreshToken) error {
	t.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at)
		VALUES ($1,$2,$3,$4) RETURNING created_at`,
		t.ID, t.UserID, t.TokenHash, t.ExpiresAt,
	).Scan(&t.CreatedAt)
}

func (r *refreshTokenRepoPG) GetByHash(ctx context.Context, hash string) (*RefreshToken, error) {
	var t RefreshToken
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, user_id, token_hash, expires_at, revoked_at, created_at
		FROM refresh_tokens WHERE token_hash = $1`, hash,
	).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.RevokedAt, &t.CreatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return &t, nil
}

func (r *refreshTokenRepoPG) Revoke(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at=$2 WHERE id = $1 AND revoked_at IS NULL`, id, at)
	return err
}

func (r *refreshTokenRepoPG) RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at=$2 WHERE user_id = $1 AND revoked_at IS NULL`, userID, at)
	return err
}

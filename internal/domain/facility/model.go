package facility

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrDuplicate  = errors.New("already exists")
	ErrForbidden  = errors.New("not allowed")
	ErrValidation = errors.New("validation failed")
)

type Center struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	CenterType   string    `json:"center_type"`
	Address      string    `json:"address"`
	City         string    `json:"city"`
	Department   string    `json:"department"`
	PostalCode   string    `json:"postal_code"`
	Phone        string    `json:"phone"`
	Email        string    `json:"email"`
	Website      string    `json:"website"`
	Description  string    `json:"description"`
	OpeningHours string    `json:"opening_hours"`
	Latitude     *float64  `json:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FullAddress joins address, city and department.
func (c *Center) FullAddress() string {
	return c.Address + ", " + c.City + ", " + c.Department
}

type Specialty struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Icon        string    `json:"icon"`
	CreatedAt   time.Time `json:"created_at"`
}

type CenterSpecialty struct {
	CenterID      uuid.UUID `json:"center_id"`
	SpecialtyID   uuid.UUID `json:"specialty_id"`
	SpecialtyName string    `json:"specialty_name,omitempty"`
	Available     bool      `json:"available"`
	Notes         string    `json:"notes"`
}

type DoctorCenter struct {
	DoctorID  uuid.UUID `json:"doctor_id"`
	CenterID  uuid.UUID `json:"center_id"`
	Active    bool      `json:"active"`
	StartDate time.Time `json:"start_date"`
}

// DoctorSummary is the public listing of a doctor working at a center.
type DoctorSummary struct {
	ID                uuid.UUID  `json:"id"`
	FirstName         string     `json:"first_name"`
	LastName          string     `json:"last_name"`
	ProfessionalTitle string     `json:"professional_title"`
	SpecialtyID       *uuid.UUID `json:"specialty_id,omitempty"`
	SpecialtyName     string     `json:"specialty_name,omitempty"`
	YearsExperience   int        `json:"years_experience"`
}

func (d *DoctorSummary) FullName() string {
	return d.FirstName + " " + d.LastName
}

// DefaultSpecialties is the catalogue inserted by reset-db --seed.
var DefaultSpecialties = []Specialty{
	{Name: "Medicina General", Description: "Atención médica básica y preventiva"},
	{Name: "Pediatría", Description: "Atención médica para niños y adolescentes"},
	{Name: "Ginecología", Description: "Salud femenina y reproductiva"},
	{Name: "Cardiología", Description: "Diagnóstico y tratamiento de enfermedades del corazón"},
	{Name: "Dermatología", Description: "Enfermedades de la piel, cabello y uñas"},
	{Name: "Oftalmología", Description: "Enfermedades de los ojos"},
	{Name: "Otorrinolaringología", Description: "Oídos, nariz y garganta"},
	{Name: "Traumatología", Description: "Sistema musculoesquelético"},
	{Name: "Neurología", Description: "Sistema nervioso"},
	{Name: "Psiquiatría", Description: "Salud mental"},
	{Name: "Endocrinología", Description: "Sistema endocrino y metabolismo"},
	{Name: "Gastroenterología", Description: "Sistema digestivo"},
	{Name: "Urología", Description: "Sistema urinario y reproductor masculino"},
	{Name: "Nefrología", Description: "Riñones"},
	{Name: "Neumología", Description: "Sistema respiratorio"},
	{Name: "Geriatría", Description: "Atención a adultos mayores"},
	{Name: "Reumatología", Description: "Enfermedades reumáticas"},
	{Name: "Oncología", Description: "Diagnóstico y tratamiento del cáncer"},
	{Name: "Hematología", Description: "Enfermedades de la sangre"},
	{Name: "Nutrición", Description: "Alimentación y nutrición"},
}

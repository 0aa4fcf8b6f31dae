package documents

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists prescriptions and lab orders with their items. Reads
// fill in the patient, doctor and center names of the header.
type Repository interface {
	CreatePrescription(ctx context.Context, p *Prescription) error
	GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error)
	GetPrescriptionByCode(ctx context.Context, code string) (*Prescription, error)
	ListPrescriptionsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error)

	CreateLabOrder(ctx context.Context, o *LabOrder) error
	GetLabOrder(ctx context.Context, id uuid.UUID) (*LabOrder, error)
	GetLabOrderByCode(ctx context.Context, code string) (*LabOrder, error)
	ListLabOrdersByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*LabOrder, int, error)

	// UpdateStatus writes status and void reason of either document kind.
	UpdateStatus(ctx context.Context, kind string, h *Header) error
}

package consultation

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

var t0 = time.Date(2030, 3, 4, 10, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func TestConsultation_StartOnce(t *testing.T) {
	c := &Consultation{ID: uuid.New()}
	doctor := uuid.New()
	if err := c.Start(doctor, t0); err != nil {
		t.Fatal(err)
	}
	if c.RecordedBy != doctor || !c.StartedAt.Equal(t0) {
		t.Errorf("unexpected consultation %+v", c)
	}
	if err := c.Start(doctor, t0.Add(time.Minute)); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestConsultation_Finish(t *testing.T) {
	c := &Consultation{ID: uuid.New(), Reason: "dolor de cabeza", Symptoms: "mareo"}
	if err := c.Finish(FinishInput{}, t0); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	c.Start(uuid.New(), t0)

	days := 15
	follow := true
	in := FinishInput{
		Diagnosis:        strPtr("Migraña"),
		TreatmentPlan:    strPtr("Ibuprofeno 400 mg"),
		FollowUpRequired: &follow,
		FollowUpDays:     &days,
	}
	if err := c.Finish(in, t0.Add(22*time.Minute+50*time.Second)); err != nil {
		t.Fatal(err)
	}
	if *c.DurationMinutes != 22 {
		t.Errorf("expected duration rounded down to 22, got %d", *c.DurationMinutes)
	}
	if c.Diagnosis != "Migraña" || c.TreatmentPlan != "Ibuprofeno 400 mg" {
		t.Errorf("expected provided fields copied, got %+v", c)
	}
	if c.Reason != "dolor de cabeza" || c.Symptoms != "mareo" {
		t.Error("fields left nil must keep their value")
	}
	if !c.FollowUpRequired || *c.FollowUpDays != 15 {
		t.Error("expected follow-up data copied")
	}
	if err := c.Finish(in, t0.Add(time.Hour)); !errors.Is(err, ErrAlreadyFinished) {
		t.Errorf("expected ErrAlreadyFinished, got %v", err)
	}
}

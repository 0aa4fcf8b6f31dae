// Package notification renders and delivers patient and doctor notices by
// email (SMTP) and SMS (Twilio). Delivery happens off the request path on a
// Dispatcher worker.
package notification

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Channel is the medium a notification is delivered through.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Template ids.
const (
	TplBookedPatient      = "appointment-booked-patient"
	TplBookedDoctor       = "appointment-booked-doctor"
	TplReminder           = "appointment-reminder"
	TplReminderSMS        = "appointment-reminder-sms"
	TplCancelledPatient   = "appointment-cancelled-patient"
	TplCancelledDoctor    = "appointment-cancelled-doctor"
	TplRescheduled        = "appointment-rescheduled"
	TplPrescriptionIssued = "prescription-issued"
	TplLabOrderIssued     = "lab-order-issued"
)

// Attachment is a file sent along with an email.
type Attachment struct {
	Name string
	Data []byte
}

// Email is a rendered message ready for an EmailSender.
type Email struct {
	To          string
	Subject     string
	Body        string
	Attachments []Attachment
}

type EmailSender interface {
	SendEmail(ctx context.Context, msg Email) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Notification is a request to render a template and deliver it to one
// recipient.
type Notification struct {
	Channel     Channel
	Recipient   string
	TemplateID  string
	Data        map[string]string
	Attachments []Attachment
}

// Template defines a reusable notification text. Placeholders use {{key}}.
type Template struct {
	ID      string
	Subject string
	Body    string
	Channel Channel
}

// TemplateEngine holds the notification templates and renders them.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TplBookedPatient,
			Subject: "Confirmación de Cita Médica - {{specialty}}",
			Body: "Hola {{patient_name}},\n\n" +
				"Su cita de {{specialty}} con {{doctor_name}} quedó programada para el {{date}} a las {{time}} en {{center_name}}.\n" +
				"Motivo: {{reason}}\n\n" +
				"Podrá ingresar a la sala virtual desde 10 minutos antes de la hora indicada.",
			Channel: ChannelEmail,
		},
		{
			ID:      TplBookedDoctor,
			Subject: "Nueva Cita Médica Programada - {{patient_name}}",
			Body: "{{doctor_name}},\n\n" +
				"{{patient_name}} reservó una cita de {{specialty}} para el {{date}} a las {{time}} en {{center_name}}.\n" +
				"Motivo: {{reason}}",
			Channel: ChannelEmail,
		},
		{
			ID:      TplReminder,
			Subject: "Recordatorio: Cita Médica - {{specialty}}",
			Body: "Hola {{patient_name}},\n\n" +
				"Le recordamos su cita de {{specialty}} con {{doctor_name}} el {{date}} a las {{time}}.",
			Channel: ChannelEmail,
		},
		{
			ID:      TplReminderSMS,
			Body:    "Recordatorio: cita de {{specialty}} con {{doctor_name}} el {{date}} a las {{time}}.",
			Channel: ChannelSMS,
		},
		{
			ID:      TplCancelledPatient,
			Subject: "Su Cita Médica Ha Sido Cancelada",
			Body: "Hola {{patient_name}},\n\n" +
				"Su cita de {{specialty}} del {{date}} a las {{time}} con {{doctor_name}} fue cancelada.\n" +
				"Motivo: {{cancel_reason}}",
			Channel: ChannelEmail,
		},
		{
			ID:      TplCancelledDoctor,
			Subject: "Cita Cancelada - {{patient_name}}",
			Body: "{{doctor_name}},\n\n" +
				"La cita con {{patient_name}} del {{date}} a las {{time}} fue cancelada.\n" +
				"Motivo: {{cancel_reason}}",
			Channel: ChannelEmail,
		},
		{
			ID:      TplRescheduled,
			Subject: "Cita Reprogramada - {{specialty}}",
			Body: "Hola {{recipient_name}},\n\n" +
				"La cita de {{specialty}} entre {{patient_name}} y {{doctor_name}} fue movida del {{old_date}} a las {{old_time}} " +
				"al {{date}} a las {{time}}.",
			Channel: ChannelEmail,
		},
		{
			ID:      TplPrescriptionIssued,
			Subject: "Nueva Receta Médica Emitida",
			Body: "Hola {{patient_name}},\n\n" +
				"{{doctor_name}} emitió una receta médica a su nombre. Encontrará el documento adjunto.\n" +
				"Código de verificación: {{code}}\n" +
				"Verifique su autenticidad en {{verify_url}}",
			Channel: ChannelEmail,
		},
		{
			ID:      TplLabOrderIssued,
			Subject: "Nueva Orden de Laboratorio Emitida",
			Body: "Hola {{patient_name}},\n\n" +
				"{{doctor_name}} emitió una orden de laboratorio a su nombre. Encontrará el documento adjunto.\n" +
				"Código de verificación: {{code}}\n" +
				"Verifique su autenticidad en {{verify_url}}",
			Channel: ChannelEmail,
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// IDs returns the registered template ids in sorted order.
func (e *TemplateEngine) IDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.templates))
	for id := range e.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Render looks up a template by id and replaces {{key}} placeholders with the
// supplied data. Placeholders without data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

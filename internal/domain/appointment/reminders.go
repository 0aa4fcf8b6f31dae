package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/telemed/telemed/internal/platform/notification"
)

func noticeData(v *View) map[string]string {
	return map[string]string{
		"patient_name": v.PatientName,
		"doctor_name":  v.DoctorName,
		"specialty":    v.SpecialtyName,
		"center_name":  v.CenterName,
		"date":         v.StartTime.Format("2006-01-02"),
		"time":         v.StartTime.Format("15:04"),
		"reason":       v.Reason,
	}
}

func (s *Service) enqueue(channel notification.Channel, to, tpl string, data map[string]string) {
	if s.notify == nil || to == "" {
		return
	}
	s.notify.Enqueue(notification.Notification{
		Channel:    channel,
		Recipient:  to,
		TemplateID: tpl,
		Data:       data,
	})
}

// view loads the appointment with names for a notice. Failures are logged:
// notices never fail the operation that triggered them.
func (s *Service) view(ctx context.Context, id uuid.UUID) *View {
	if s.notify == nil {
		return nil
	}
	v, err := s.repo.GetView(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Str("appointment_id", id.String()).Msg("load appointment for notification")
		return nil
	}
	return v
}

func (s *Service) notifyBooked(ctx context.Context, id uuid.UUID) {
	v := s.view(ctx, id)
	if v == nil {
		return
	}
	data := noticeData(v)
	s.enqueue(notification.ChannelEmail, v.PatientEmail, notification.TplBookedPatient, data)
	s.enqueue(notification.ChannelEmail, v.DoctorEmail, notification.TplBookedDoctor, data)
}

func (s *Service) notifyCancelled(ctx context.Context, id uuid.UUID) {
	v := s.view(ctx, id)
	if v == nil {
		return
	}
	data := noticeData(v)
	data["cancel_reason"] = v.CancelReason
	s.enqueue(notification.ChannelEmail, v.PatientEmail, notification.TplCancelledPatient, data)
	s.enqueue(notification.ChannelEmail, v.DoctorEmail, notification.TplCancelledDoctor, data)
}

func (s *Service) notifyRescheduled(ctx context.Context, id uuid.UUID, old time.Time) {
	v := s.view(ctx, id)
	if v == nil {
		return
	}
	for _, r := range []struct{ name, email string }{
		{v.PatientName, v.PatientEmail},
		{v.DoctorName, v.DoctorEmail},
	} {
		data := noticeData(v)
		data["recipient_name"] = r.name
		data["old_date"] = old.Format("2006-01-02")
		data["old_time"] = old.Format("15:04")
		s.enqueue(notification.ChannelEmail, r.email, notification.TplRescheduled, data)
	}
}

// SendReminders queues the 24 hour and 1 hour reminders that are due and
// flags them as sent. Returns how many appointments were reminded.
func (s *Service) SendReminders(ctx context.Context) (int, error) {
	now := s.now()
	sent := 0
	for _, r := range []struct {
		kind   string
		within time.Duration
	}{
		{Reminder24h, 24 * time.Hour},
		{Reminder1h, time.Hour},
	} {
		due, err := s.repo.DueReminders(ctx, r.kind, now, now.Add(r.within))
		if err != nil {
			return sent, err
		}
		for _, v := range due {
			data := noticeData(v)
			s.enqueue(notification.ChannelEmail, v.PatientEmail, notification.TplReminder, data)
			if s.opts.SMSEnabled {
				s.enqueue(notification.ChannelSMS, v.PatientPhone, notification.TplReminderSMS, data)
			}
			if err := s.repo.MarkReminded(ctx, v.ID, r.kind); err != nil {
				return sent, err
			}
			sent++
		}
	}
	return sent, nil
}

// RunReminders calls SendReminders every interval until ctx is cancelled.
func (s *Service) RunReminders(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SendReminders(ctx)
			if err != nil {
				s.logger.Error().Err(err).Msg("reminder sweep failed")
				continue
			}
			if n > 0 {
				s.logger.Info().Int("count", n).Msg("appointment reminders queued")
			}
		}
	}
}

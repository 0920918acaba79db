package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/lucasdmc/atendeai-lify-admin-sub001/internal/scheduling"
	"github.com/lucasdmc/atendeai-lify-admin-sub001/pkg/logging"
)

// Service emails clinic operators about booking activity. Notification
// failures never surface to the patient flow; they are logged and
// dropped.
type Service struct {
	email         EmailSender
	operatorEmail string
	loc           *time.Location
	logger        *logging.Logger
}

// NewService creates the operator notification service. A nil email
// sender or empty operator address disables notifications.
func NewService(email EmailSender, operatorEmail string, loc *time.Location, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		email:         email,
		operatorEmail: operatorEmail,
		loc:           loc,
		logger:        logger,
	}
}

// Enabled reports whether notifications will actually go anywhere.
func (s *Service) Enabled() bool {
	return s != nil && s.email != nil && s.operatorEmail != ""
}

// NotifyBookingConfirmed emails the operator about a new confirmed
// appointment.
func (s *Service) NotifyBookingConfirmed(ctx context.Context, intent scheduling.Intent, appt *scheduling.Appointment) {
	if !s.Enabled() || appt == nil {
		return
	}

	start := appt.ScheduledStart.In(s.loc)
	subject := fmt.Sprintf("Novo agendamento: %s em %s", intent.ServiceName, start.Format("02/01 15:04"))
	body := fmt.Sprintf(
		"Novo agendamento confirmado.\n\n"+
			"Paciente: %s\n"+
			"Telefone: %s\n"+
			"Serviço: %s\n"+
			"Profissional: %s\n"+
			"Início: %s\n"+
			"Referência: %s\n",
		intent.PatientName,
		intent.PatientPhone,
		intent.ServiceName,
		intent.ProfessionalName,
		start.Format("02/01/2006 15:04"),
		appt.ID,
	)

	if err := s.email.Send(ctx, EmailMessage{
		To:      s.operatorEmail,
		Subject: subject,
		Body:    body,
	}); err != nil {
		s.logger.Error("failed to notify operator of confirmed booking",
			"error", err, "appointment_id", appt.ID)
	}
}

// NotifyReservationFailure warns the operator that a patient hit a
// calendar outage at the finish line.
func (s *Service) NotifyReservationFailure(ctx context.Context, intent scheduling.Intent, cause error) {
	if !s.Enabled() {
		return
	}

	subject := "Falha ao reservar agendamento"
	body := fmt.Sprintf(
		"Uma reserva falhou após a confirmação do paciente.\n\n"+
			"Paciente: %s\n"+
			"Telefone: %s\n"+
			"Serviço: %s\n"+
			"Profissional: %s\n"+
			"Início solicitado: %s\n"+
			"Erro: %v\n",
		intent.PatientName,
		intent.PatientPhone,
		intent.ServiceName,
		intent.ProfessionalName,
		intent.Start.In(s.loc).Format("02/01/2006 15:04"),
		cause,
	)

	if err := s.email.Send(ctx, EmailMessage{
		To:      s.operatorEmail,
		Subject: subject,
		Body:    body,
	}); err != nil {
		s.logger.Error("failed to notify operator of reservation failure", "error", err)
	}
}

package booking

import (
	"fmt"
	"strings"

	"github.com/lucasdmc/atendeai-lify-admin-sub001/internal/scheduling"
)

// ReplyKind classifies the outbound reply for metrics and formatting.
type ReplyKind string

const (
	ReplyPrompt              ReplyKind = "prompt"
	ReplyClarification       ReplyKind = "clarification"
	ReplyDisambiguation      ReplyKind = "disambiguation"
	ReplyConfirmationRequest ReplyKind = "confirmation_request"
	ReplyConfirmed           ReplyKind = "confirmed"
	ReplySlotTaken           ReplyKind = "slot_taken"
	ReplySystemError         ReplyKind = "system_error"
	ReplyCancelled           ReplyKind = "cancelled"
)

// OutboundResult is the engine's decision for one inbound message. The
// notifier turns it into a gateway delivery; the text is already final.
type OutboundResult struct {
	ConversationKey string
	Kind            ReplyKind
	Text            string
	Appointment     *scheduling.Appointment
}

// affirmatives is the fixed confirmation vocabulary.
var affirmatives = map[string]struct{}{
	"sim":       {},
	"confirmar": {},
	"confirmo":  {},
	"ok":        {},
}

// cancellations abandon the booking at any step.
var cancellations = map[string]struct{}{
	"cancelar": {},
	"desistir": {},
	"nao":      {},
	"não":      {},
}

func isAffirmative(text string) bool {
	_, ok := affirmatives[normalizeReply(text)]
	return ok
}

func isCancellation(text string) bool {
	_, ok := cancellations[normalizeReply(text)]
	return ok
}

func normalizeReply(text string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(text), ".!?"))
}

func promptText(field Field) string {
	switch field {
	case FieldPatientName:
		return "Olá! Para agendar sua consulta, qual é o seu nome completo?"
	case FieldPatientPhone:
		return "Qual é o seu telefone com DDD?"
	case FieldService:
		return "Qual serviço você deseja agendar?"
	case FieldProfessional:
		return "Com qual profissional você gostaria de ser atendido(a)?"
	case FieldDate:
		return "Para qual data? (ex: 04/07)"
	case FieldTime:
		return "Qual horário? (ex: 16:30)"
	}
	return "Pode repetir, por favor?"
}

func clarificationText(rej Rejection) string {
	switch rej.Reason {
	case RejectMismatch:
		return "Esse profissional não atende o serviço escolhido. Pode indicar outro profissional?"
	}
	switch rej.Field {
	case FieldPatientName:
		return "Não consegui entender seu nome. Pode enviá-lo novamente?"
	case FieldPatientPhone:
		return "Esse telefone não parece válido. Pode enviar o número com DDD?"
	case FieldService:
		return fmt.Sprintf("Não encontrei o serviço %q. Pode informar o nome do serviço novamente?", rej.Fragment)
	case FieldProfessional:
		return fmt.Sprintf("Não encontrei o profissional %q. Pode informar o nome novamente?", rej.Fragment)
	case FieldDate:
		return "Não entendi a data. Pode enviar no formato DD/MM?"
	case FieldTime:
		return "Não entendi o horário. Pode enviar no formato HH:MM?"
	}
	return "Não entendi. Pode repetir, por favor?"
}

// maxDisambiguationOptions caps the candidate list in the re-prompt.
const maxDisambiguationOptions = 5

func disambiguationText(amb Ambiguity) string {
	label := "serviços"
	ask := "qual serviço você deseja"
	if amb.Field == FieldProfessional {
		label = "profissionais"
		ask = "com qual profissional você deseja ser atendido(a)"
	}

	options := amb.Candidates
	if len(options) > maxDisambiguationOptions {
		options = options[:maxDisambiguationOptions]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Encontrei mais de um resultado para %q entre os %s:\n", amb.Query, label)
	for i, name := range options {
		fmt.Fprintf(&b, "%d. %s\n", i+1, name)
	}
	fmt.Fprintf(&b, "Por favor, responda com o nome completo para eu saber %s.", ask)
	return b.String()
}

func confirmationText(f Fields, serviceName, professionalName string) string {
	return fmt.Sprintf(
		"Confira os dados do seu agendamento:\n"+
			"Paciente: %s\n"+
			"Telefone: %s\n"+
			"Serviço: %s\n"+
			"Profissional: %s\n"+
			"Data: %s às %s\n"+
			"Responda SIM para confirmar ou NÃO para cancelar.",
		f.PatientName, f.PatientPhone, serviceName, professionalName, f.Date, f.Time,
	)
}

func confirmedText(f Fields, serviceName, professionalName string) string {
	return fmt.Sprintf(
		"Agendamento confirmado! %s com %s em %s às %s. Até lá!",
		serviceName, professionalName, f.Date, f.Time,
	)
}

func slotTakenText(f Fields) string {
	return fmt.Sprintf(
		"O horário %s às %s acabou de ficar indisponível. Pode escolher outro horário?",
		f.Date, f.Time,
	)
}

const systemErrorText = "Tivemos um problema temporário no sistema. Por favor, tente novamente em instantes."

const cancelledText = "Tudo bem, agendamento cancelado. Se precisar, é só mandar uma nova mensagem."

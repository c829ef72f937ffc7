package sync

import (
	"fmt"
	"time"

	apperrors "github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/errors"
)

// Severity is the kind of user-facing notification.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is the one summary produced per sync pass.
type Notification struct {
	Severity  Severity  `json:"severity"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Deferred  int       `json:"deferred"`
	Timestamp time.Time `json:"timestamp"`
}

// BuildNotification maps a finished pass to its summary. It returns false
// when the pass should stay silent: an empty queue or a skipped trigger.
func BuildNotification(result *Result, err error) (Notification, bool) {
	if result == nil || result.Skipped {
		return Notification{}, false
	}

	n := Notification{
		Succeeded: result.SuccessCount,
		Failed:    result.FailureCount,
		Deferred:  result.Deferred,
		Timestamp: result.StartedAt.Add(result.Duration),
	}

	switch {
	case apperrors.Is(err, apperrors.ErrConnectivityUnavailable):
		n.Severity = SeverityError
		n.Title = "Sem conexão"
		n.Message = "Você está offline. As vistorias ficam salvas no dispositivo e serão enviadas quando a conexão voltar."
		return n, true
	case err != nil:
		n.Severity = SeverityError
		n.Title = "Erro no armazenamento local"
		n.Message = "Não foi possível ler as vistorias pendentes. Tente novamente."
		return n, true
	}

	attempted := result.SuccessCount + result.FailureCount
	switch {
	case attempted == 0 && result.Deferred == 0:
		return Notification{}, false
	case attempted == 0:
		n.Severity = SeverityWarning
		n.Title = "Conexão perdida"
		n.Message = fmt.Sprintf("A conexão caiu antes do envio. %d vistoria(s) aguardam envio e continuam salvas no dispositivo.", result.Deferred)
		return n, true
	case result.FailureCount == 0 && result.Deferred == 0:
		n.Severity = SeveritySuccess
		n.Title = "Sincronização concluída"
		n.Message = fmt.Sprintf("%d vistoria(s) enviada(s) com sucesso.", result.SuccessCount)
	case result.SuccessCount == 0 && result.Deferred == 0:
		n.Severity = SeverityError
		n.Title = "Falha na sincronização"
		n.Message = fmt.Sprintf("Não foi possível enviar %d vistoria(s).", result.FailureCount)
	default:
		n.Severity = SeverityWarning
		n.Title = "Sincronização parcial"
		n.Message = fmt.Sprintf("%d vistoria(s) enviada(s), %d com falha.", result.SuccessCount, result.FailureCount)
		if result.Deferred > 0 {
			n.Message += fmt.Sprintf(" Conexão perdida; %d aguardam envio.", result.Deferred)
		}
	}
	if result.Quarantined > 0 {
		n.Message += fmt.Sprintf(" %d precisa(m) de revisão.", result.Quarantined)
	}
	return n, true
}

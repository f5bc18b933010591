package orchestrator

import (
	"errors"

	"elena/agent/internal/availability"
	"elena/agent/internal/types"
)

// Status is the closed set of user-facing messages. Raw errors never reach
// the user; they are logged.
type Status string

const (
	StatusIdle                  Status = "idle"
	StatusRequestingPermissions Status = "requesting_permissions"
	StatusConnecting            Status = "connecting"
	StatusListening             Status = "listening"
	StatusSpeaking              Status = "speaking"
	StatusClosed                Status = "closed"
	StatusPermissionDenied      Status = "permission_denied"
	StatusConnectionError       Status = "connection_error"
	StatusSlotTaken             Status = "slot_taken"
	StatusBookingIncomplete     Status = "booking_incomplete"
	StatusBookingFailed         Status = "booking_failed"
	StatusUnavailable           Status = "unavailable"
	StatusUnexpected            Status = "unexpected"
)

var messages = map[Status]string{
	StatusIdle:                  "Listo para comenzar.",
	StatusRequestingPermissions: "Solicitando permisos de micrófono...",
	StatusConnecting:            "Conectando con Elena...",
	StatusListening:             "Te escucho...",
	StatusSpeaking:              "Elena está hablando...",
	StatusClosed:                "Sesión finalizada.",
	StatusPermissionDenied:      "Permiso de micrófono denegado. Actívalo para hablar con Elena.",
	StatusConnectionError:       "No pudimos conectar con el avatar. Intenta reiniciar la sesión.",
	StatusSlotTaken:             "Ese horario ya está ocupado. Elige otro, por favor.",
	StatusBookingIncomplete:     "Faltan datos para agendar la cita.",
	StatusBookingFailed:         "No pudimos guardar tu cita. Intenta de nuevo en unos minutos.",
	StatusUnavailable:           "La agenda no está disponible en este momento.",
	StatusUnexpected:            "Ocurrió un problema inesperado.",
}

func (s Status) Message() string {
	if m, ok := messages[s]; ok {
		return m
	}
	return messages[StatusUnexpected]
}

// StatusFor maps any error in the taxonomy to its user-facing status.
func StatusFor(err error) Status {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, types.ErrPermissionDenied):
		return StatusPermissionDenied
	case errors.Is(err, types.ErrConnection):
		return StatusConnectionError
	case errors.Is(err, types.ErrConflict):
		return StatusSlotTaken
	case errors.Is(err, types.ErrValidation):
		return StatusBookingIncomplete
	case errors.Is(err, availability.ErrUnavailable):
		return StatusUnavailable
	case errors.Is(err, types.ErrStorage):
		return StatusBookingFailed
	}
	return StatusUnexpected
}

func statusForState(s State) Status {
	switch s {
	case StateIdle:
		return StatusIdle
	case StateRequestingPermissions:
		return StatusRequestingPermissions
	case StateConnecting:
		return StatusConnecting
	case StateListening:
		return StatusListening
	case StateSpeaking:
		return StatusSpeaking
	case StateClosed:
		return StatusClosed
	}
	return StatusConnectionError
}

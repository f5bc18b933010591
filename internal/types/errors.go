package types

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrConnection       = errors.New("avatar connection failed")
	ErrGeneration       = errors.New("generation failed")
	ErrValidation       = errors.New("invalid booking")
	ErrConflict         = errors.New("slot already booked")
	ErrStorage          = errors.New("booking storage failed")
	ErrSecondarySync    = errors.New("secondary calendar sync failed")
)

// ValidationError lists the fields that were missing or malformed.
type ValidationError struct {
	Fields []string
	Reason string
}

func (e *ValidationError) Error() string {
	msg := "invalid booking"
	if len(e.Fields) > 0 {
		msg += ": " + strings.Join(e.Fields, ", ")
	}
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type ConflictError struct {
	Fecha string
	Hora  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot %s %s already booked", e.Fecha, e.Hora)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

package status

import "errors"

var (
	ErrTicketNotFound  = errors.New("ticket: ticket not found")
	ErrCounterNotFound = errors.New("counter: counter not found")
	ErrTicketClaimed   = errors.New("ticket: ticket already claimed")
	ErrInvalidState    = errors.New("ticket: invalid state for transition")
	ErrCounterOccupied = errors.New("counter: counter already assigned")
	ErrCounterBusy     = errors.New("counter: counter is already serving a ticket")
	ErrChannelDown     = errors.New("sync: event channel unavailable")
)

// ValidationError reports a missing or malformed field on a request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Field + " " + e.Reason
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsConflict reports whether err is one of the recoverable contention
// failures: the caller should retry selection or surface the current holder.
// ErrCounterBusy is deliberately excluded: a busy counter must finish its
// ticket first, so dispatch stops instead of retrying the next candidate.
func IsConflict(err error) bool {
	return errors.Is(err, ErrTicketClaimed) || errors.Is(err, ErrCounterOccupied) || errors.Is(err, ErrInvalidState)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrTicketNotFound) || errors.Is(err, ErrCounterNotFound)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

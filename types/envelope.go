package types

// Envelope is the decoded reply to one remote request.
//
// Exactly one variant is populated: OK replies carry Values, failed
// replies carry Message and, for command-class failures, Status.
type Envelope struct {
	// OK is true when the remote chunk ran to completion.
	OK bool
	// Values are the values the chunk returned, positional, nils preserved.
	Values []Value
	// Message is the remote error message, or the command output on a
	// command-class failure.
	Message string
	// Status is the command status code. Nil for plain runtime errors.
	Status *int64
}

// Ok builds a successful envelope.
func Ok(values ...Value) Envelope {
	if values == nil {
		values = []Value{}
	}
	return Envelope{OK: true, Values: values}
}

// Err builds a runtime-error envelope.
func Err(message string) Envelope {
	return Envelope{Message: message}
}

// ErrStatus builds a command-failure envelope.
func ErrStatus(output string, status int64) Envelope {
	return Envelope{Message: output, Status: &status}
}

// First returns the first returned value, or nil when nothing was returned.
func (e Envelope) First() Value {
	if len(e.Values) == 0 {
		return nil
	}
	return e.Values[0]
}

package kv

import "fmt"

// --------------------------------------------------------------------------
// Error Codes
// --------------------------------------------------------------------------

// ErrCode classifies errors returned by the store
type ErrCode uint8

const (
	ErrCConfig          ErrCode = iota + 1 // 1: invalid construction parameters
	ErrCInvalidType                        // 2: operation needs a disk backed store
	ErrCCheckpoint                         // 3: the engine failed to take a checkpoint
	ErrCRecovery                           // 4: the engine failed to recover
	ErrCSerialization                      // 5: a key or value could not be encoded
	ErrCDeserialization                    // 6: bytes from the engine could not be decoded
	ErrCIO                                 // 7: filesystem failure
	ErrCSession                            // 8: session misuse or liveness failure
)

func (c ErrCode) String() string {
	switch c {
	case ErrCConfig:
		return "Config"
	case ErrCInvalidType:
		return "InvalidType"
	case ErrCCheckpoint:
		return "Checkpoint"
	case ErrCRecovery:
		return "Recovery"
	case ErrCSerialization:
		return "Serialization"
	case ErrCDeserialization:
		return "Deserialization"
	case ErrCIO:
		return "IO"
	case ErrCSession:
		return "Session"
	default:
		return "Unknown"
	}
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error wraps an error code, a message and an optional cause
type Error struct {
	Code ErrCode // The error code
	Msg  string  // The error message
	Err  error   // The underlying cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fKV error (code %s): %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("fKV error (code %s): %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code. A target with a message also has to
// match the message, which tells the session sentinels apart.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Msg == "" || t.Msg == e.Msg)
}

// newError creates an *Error with a formatted message
func newError(code ErrCode, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// Sentinels for errors.Is
var (
	ErrConfig          = &Error{Code: ErrCConfig}
	ErrInvalidType     = &Error{Code: ErrCInvalidType}
	ErrCheckpoint      = &Error{Code: ErrCCheckpoint}
	ErrRecovery        = &Error{Code: ErrCRecovery}
	ErrSerialization   = &Error{Code: ErrCSerialization}
	ErrDeserialization = &Error{Code: ErrCDeserialization}
	ErrIO              = &Error{Code: ErrCIO}
	ErrSessionInactive = &Error{Code: ErrCSession, Msg: "session is not active"}
	ErrSessionStuck    = &Error{Code: ErrCSession, Msg: "session did not drain its pending operations in time"}
)

func encodeError(err error, what string) error {
	return newError(ErrCSerialization, err, "encode %s", what)
}

func decodeError(err error, what string) error {
	return newError(ErrCDeserialization, err, "decode %s", what)
}

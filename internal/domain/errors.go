package domain

import "errors"

// Session-level errors route through the controller teardown path.
var (
	ErrPermission = errors.New("permission denied")
	ErrDevice     = errors.New("audio device error")
	ErrTransport  = errors.New("transport error")
)

// Fragment-level errors are contained by the component that detects them.
var (
	ErrDecode   = errors.New("decode error")
	ErrProtocol = errors.New("protocol violation")
)

// ErrorCodeFor maps an error onto the code surfaced to the UI.
func ErrorCodeFor(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrPermission):
		return ErrorCodePermission
	case errors.Is(err, ErrDevice):
		return ErrorCodeDevice
	case errors.Is(err, ErrDecode):
		return ErrorCodeDecode
	case errors.Is(err, ErrProtocol):
		return ErrorCodeProtocol
	default:
		return ErrorCodeTransport
	}
}

// ReasonFor maps a session-ending error onto a state transition reason.
func ReasonFor(err error) SessionStateReason {
	switch {
	case err == nil:
		return SessionReasonRemoteClosed
	case errors.Is(err, ErrPermission):
		return SessionReasonPermissionDenied
	case errors.Is(err, ErrDevice):
		return SessionReasonDeviceFailed
	default:
		return SessionReasonTransportFailed
	}
}

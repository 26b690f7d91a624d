package presence

// Error represents an engine-level error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

var (
	// ErrorTransportClosed returned when an operation is attempted on a
	// transport that has already been shut down.
	ErrorTransportClosed = &Error{
		Code:    100,
		Message: "transport is closed",
	}
	// ErrorChannelClosed returned when tracking or untracking on a channel
	// whose subscription was already torn down.
	ErrorChannelClosed = &Error{
		Code:    101,
		Message: "channel is closed",
	}
	// ErrorNotSubscribed returned when track is issued before the
	// subscription has been established.
	ErrorNotSubscribed = &Error{
		Code:    102,
		Message: "channel is not subscribed",
	}
	// ErrorBadPayload says that a payload can not be encoded or decoded.
	ErrorBadPayload = &Error{
		Code:    103,
		Message: "bad payload",
	}
)

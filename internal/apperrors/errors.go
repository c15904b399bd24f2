// Package apperrors is the shared error vocabulary for the conductor and
// its device adapters: Transport, Command, Diff invariant violation,
// Resolver, and Configuration errors. Only Configuration errors propagate
// as rejected promises; the other four become events on the bus. AppError
// gives every kind a stable code and an
// HTTP status so the control-plane API (internal/controlapi) can surface
// Configuration errors without inventing a second error type.
package apperrors

// ErrorCode identifies the kind of failure independent of its message.
type ErrorCode string

const (
	// Configuration errors: thrown synchronously from Init/AddDevice,
	// fatal for that device, never affect other devices.
	ErrorCodeConfigInvalid    ErrorCode = "CONFIG_INVALID"
	ErrorCodeConfigUnknownKey ErrorCode = "CONFIG_UNKNOWN_KEY"

	// Transport errors: connection lost/reset.
	ErrorCodeTransportUnreachable ErrorCode = "TRANSPORT_UNREACHABLE"
	ErrorCodeTransportTimeout     ErrorCode = "TRANSPORT_TIMEOUT"
	ErrorCodeTransportClosed      ErrorCode = "TRANSPORT_CLOSED"

	// Command errors: a dispatched command's promise rejected.
	ErrorCodeCommandRejected ErrorCode = "COMMAND_REJECTED"
	ErrorCodeCommandTimeout  ErrorCode = "COMMAND_TIMEOUT"

	// Diff invariant violations: e.g. a missing required sub-state.
	ErrorCodeDiffInvariant ErrorCode = "DIFF_INVARIANT_VIOLATION"

	// Resolver errors: the resolver call raised.
	ErrorCodeResolverFailed ErrorCode = "RESOLVER_FAILED"

	ErrorCodeDeviceNotFound ErrorCode = "DEVICE_NOT_FOUND"
	ErrorCodeLayerNotMapped ErrorCode = "LAYER_NOT_MAPPED"
	ErrorCodeInternal       ErrorCode = "INTERNAL_ERROR"

	// Control-plane API errors (not one of the five engine error kinds
	// above; these guard the HTTP surface in front of the engine).
	ErrorCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrorCodeBadRequest   ErrorCode = "BAD_REQUEST"
)

// AppError is the base error type returned across package boundaries and
// serialized by the control API.
type AppError struct {
	Code       ErrorCode
	Message    string
	StatusCode int
	Details    map[string]any
}

func (err *AppError) Error() string {
	return err.Message
}

// ErrorBody is the JSON shape served by the control API on failure.
type ErrorBody struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (err *AppError) ErrorBody() ErrorBody {
	return ErrorBody{Code: err.Code, Message: err.Message, Details: err.Details}
}

func NewAppError(code ErrorCode, message string, statusCode int, details map[string]any) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusCode, Details: details}
}

func NewConfigError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeConfigInvalid, message, 400, details)
}

func NewUnknownConfigKeyError(key string) *AppError {
	return NewAppError(ErrorCodeConfigUnknownKey, "unrecognized device option: "+key, 400, map[string]any{"key": key})
}

func NewDeviceNotFoundError(deviceID string) *AppError {
	return NewAppError(ErrorCodeDeviceNotFound, "device not found: "+deviceID, 404, map[string]any{"deviceId": deviceID})
}

func NewLayerNotMappedError(layer string) *AppError {
	return NewAppError(ErrorCodeLayerNotMapped, "layer not present in mapping: "+layer, 400, map[string]any{"layer": layer})
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorCodeInternal, message, 500, nil)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrorCodeUnauthorized, message, 401, nil)
}

func NewBadRequestError(message string) *AppError {
	return NewAppError(ErrorCodeBadRequest, message, 400, nil)
}

// EnsureAppError converts an arbitrary error into an AppError, preserving
// it if it already is one.
func EnsureAppError(err error) *AppError {
	if err == nil {
		return NewInternalError("unknown error")
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return NewInternalError(err.Error())
}

package protocol

// Gateway error codes (ErrorShape.Code).
const (
	ErrInvalidRequest     = "INVALID_REQUEST"
	ErrUnavailable        = "UNAVAILABLE"
	ErrNotFound           = "NOT_FOUND"
	ErrResourceExhausted  = "RESOURCE_EXHAUSTED"
	ErrFailedPrecondition = "FAILED_PRECONDITION"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrInternal           = "INTERNAL"
)

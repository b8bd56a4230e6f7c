package httpx

// Code is an error code.
type Code int

const (
	// Code specifically for the coordinator service.
	ErrUnauthorized Code = iota + 10000
	ErrSessionNotReady
	ErrUpstreamSFU
	ErrStorage
	ErrRouteNotFound

	// Code for common errors.
	ErrUnmarshalJSON
)

// Errors maps error code to error message.
var Errors = map[Code]string{
	ErrUnauthorized:    "Missing or invalid caster token",
	ErrSessionNotReady: "No SFU session linked yet",
	ErrUpstreamSFU:     "SFU control plane request failed",
	ErrStorage:         "Could not persist session record",
	ErrRouteNotFound:   "No such route",
	ErrUnmarshalJSON:   "Could not unmarshal JSON data",
}

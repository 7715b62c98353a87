package icloud

import "errors"

// Sentinel errors exposed by the client. Wrapped errors carry the operation
// prefix, e.g. "icloud.signin: icloud.missing_header: X-Apple-ID-Session-Id".
var (
	// ErrTransport indicates a request did not complete.
	ErrTransport = errors.New("icloud.transport")
	// ErrProtocolShape indicates a response lacked an expected header or field.
	ErrProtocolShape = errors.New("icloud.protocol_shape")
	// ErrMissingHeader refines ErrProtocolShape for absent response headers.
	ErrMissingHeader = errors.New("icloud.missing_header")
	// ErrProfileShape refines ErrProtocolShape for account profile bodies.
	ErrProfileShape = errors.New("icloud.profile_shape")
	// ErrSessionBlob indicates a persisted session could not be decoded.
	ErrSessionBlob = errors.New("icloud.session_blob")
	// ErrAuthRejected indicates the server refused credentials or a code.
	ErrAuthRejected = errors.New("icloud.auth_rejected")
	// ErrStaleSession indicates a resumed session is no longer accepted.
	ErrStaleSession = errors.New("icloud.stale_session")
	// ErrNoCodeProvider indicates a second factor is required but nothing can supply it.
	ErrNoCodeProvider = errors.New("icloud.missing_code_provider")

	// ErrMissingEndpoint indicates Config lacks an auth, home or setup endpoint.
	ErrMissingEndpoint = errors.New("icloud.config.missing_endpoint")
	// ErrMissingConfigDir indicates Config lacks the directory holding the cookie jar.
	ErrMissingConfigDir = errors.New("icloud.config.missing_config_dir")
	// ErrMissingCredentials indicates SignIn was called without an account name or password.
	ErrMissingCredentials = errors.New("icloud.config.missing_credentials")
)

// shapeError joins ErrProtocolShape with a more specific sentinel so both
// errors.Is checks succeed.
type shapeError struct {
	kind   error
	detail string
}

func (e *shapeError) Error() string {
	if e.detail == "" {
		return e.kind.Error()
	}
	return e.kind.Error() + ": " + e.detail
}

func (e *shapeError) Is(target error) bool {
	return target == ErrProtocolShape || target == e.kind
}

func (e *shapeError) Unwrap() error {
	return e.kind
}

func protocolShape(detail string) error {
	return &shapeError{kind: ErrProtocolShape, detail: detail}
}

func missingHeader(name string) error {
	return &shapeError{kind: ErrMissingHeader, detail: name}
}

func profileShape(detail string) error {
	return &shapeError{kind: ErrProfileShape, detail: detail}
}

func sessionBlobShape(detail string) error {
	return &shapeError{kind: ErrSessionBlob, detail: detail}
}

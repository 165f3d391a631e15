package rest

import "errors"

// Errors returned by the server-side route registration and context
// helpers.
var (
	// ErrInvalidParamType is returned by ServerContext.GetParam for an
	// unrecognized Paramtype.
	ErrInvalidParamType = errors.New("rest: invalid param type")
	// ErrNilOptions is returned by NewServer when called with nil Options.
	ErrNilOptions = errors.New("rest: options cannot be nil")

	// Errors returned by SrvOptions.Validate.
	ErrInvalidID             = errors.New("rest: id cannot be empty")
	ErrInvalidListenHost     = errors.New("rest: listen host cannot be empty")
	ErrInvalidListenPort     = errors.New("rest: listen port must be positive")
	ErrInvalidPrivateKeyPath = errors.New("rest: private key path required when TLS is enabled")
	ErrInvalidCertPath       = errors.New("rest: cert path required when TLS is enabled")
)

// contentTypeHdr is the lower-level header-name constant used by the
// multipart helpers in utils.go.
const contentTypeHdr = ContentTypeHeader

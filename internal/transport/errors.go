package transport

import "errors"

var (
	ErrTLSCertFileRequired = errors.New("transport: tls cert file required")
	ErrTLSKeyFileRequired  = errors.New("transport: tls key file required")
	ErrTLSCAFileRequired   = errors.New("transport: tls ca file required")
	ErrMTLSNeedsClientCert = errors.New("transport: mutual tls needs a client certificate")
	ErrKindUnsupported     = errors.New("transport: carrier kind not supported")
	ErrInvalidAddress      = errors.New("transport: invalid address")
)

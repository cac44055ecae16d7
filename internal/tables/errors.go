package tables

import "errors"

var (
	ErrConfig           = errors.New("tables: invalid row")
	ErrUnknownTransport = errors.New("tables: unknown transport")
	ErrInvalidAddress   = errors.New("tables: invalid address")
	ErrUnknownFormat    = errors.New("tables: unknown file format")
)

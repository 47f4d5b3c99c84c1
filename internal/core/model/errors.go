package model

import "errors"

var (
	ErrMissingID           = errors.New("feature must have an id")
	ErrUnsupportedGeometry = errors.New("unsupported geometry")
	ErrNotFound            = errors.New("not found")
	ErrInvalidQuery        = errors.New("invalid query")
	ErrUnimplemented       = errors.New("not implemented")
	ErrNotWritable         = errors.New("not writable, must be owner of the log to write data")
)

package wire

import "errors"

var (
	ErrSchemaMismatch = errors.New("schema signature mismatch")
	ErrTruncated      = errors.New("message truncated")
	ErrSizeMismatch   = errors.New("declared size does not match content")
)

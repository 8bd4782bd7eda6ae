package httpapi

import "errors"

var (
	errInvalidFamily  = errors.New("invalid family")
	errInvalidLimit   = errors.New("invalid limit")
	errInvalidSinceID = errors.New("invalid sinceId")
)

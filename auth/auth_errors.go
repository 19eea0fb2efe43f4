package auth

import "errors"

var (
	NilRequestErr = errors.New("nil request")
)

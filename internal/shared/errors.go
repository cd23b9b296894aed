package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrUnauthenticated indicates the request carried no usable session.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden indicates the actor lacks a required capability.
	ErrForbidden = errors.New("forbidden")
)

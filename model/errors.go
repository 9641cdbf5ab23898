package model

import "errors"

var (
	// ErrConfigInvalid marks a route configuration that is malformed or misses a required field.
	ErrConfigInvalid = errors.New("config invalid")
	// ErrCapacityInvalid marks a tram capacity that is not positive.
	ErrCapacityInvalid = errors.New("tram capacity invalid")
)

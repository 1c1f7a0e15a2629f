package testutil

import "errors"

var (
	errClosed  = errors.New("fake connection closed")
	errDropped = errors.New("fake connection dropped frame")
)

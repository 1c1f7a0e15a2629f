package database

import "errors"

var (
	ErrStoreClosed  = errors.New("class store is closed")
	ErrWriteTimeout = errors.New("write operation timeout")
)

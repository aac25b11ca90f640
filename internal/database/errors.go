package database

import "errors"

var ErrWriteTimeout = errors.New("write operation timeout")

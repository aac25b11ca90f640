package interfaces

import "errors"

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrStoreSessionClosed = errors.New("store session is closed")
	ErrStoreClosed        = errors.New("message store is closed")
)

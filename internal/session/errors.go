package session

import "errors"

var (
	ErrStoreUnavailable = errors.New("could not open a store session")
	ErrRegistration     = errors.New("could not register connection")
	ErrHandshake        = errors.New("could not send connected frame")
	ErrManagerClosed    = errors.New("session manager is shut down")
)

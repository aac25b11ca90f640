package types

import "errors"

var (
	ErrEmptyContent       = errors.New("message content cannot be empty")
	ErrContentTooLarge    = errors.New("message content exceeds 64KB limit")
	ErrMissingRecipient   = errors.New("admin message must name a target user_id")
	ErrInvalidRecipient   = errors.New("admin cannot address itself")
	ErrInvalidParticipant = errors.New("participant id must be a positive integer")
)

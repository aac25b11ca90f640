package types

import (
	"github.com/go-playground/validator/v10"
)

// MaxContentBytes bounds a single message payload.
const MaxContentBytes = 65536

var validate = validator.New()

// ValidateContent checks a message body before it reaches the store.
func ValidateContent(content string) error {
	if err := validate.Var(content, "required"); err != nil {
		return ErrEmptyContent
	}
	if len(content) > MaxContentBytes {
		return ErrContentTooLarge
	}
	return nil
}

// ValidateTarget checks the user_id an admin frame addresses.
func ValidateTarget(userID int64) error {
	if err := validate.Var(userID, "gt=0"); err != nil {
		return ErrMissingRecipient
	}
	if userID == AdminID {
		return ErrInvalidRecipient
	}
	return nil
}

// ValidateParticipantID checks an id taken from a connection path.
func ValidateParticipantID(id int64) error {
	if err := validate.Var(id, "gt=0"); err != nil {
		return ErrInvalidParticipant
	}
	return nil
}

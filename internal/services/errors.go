package services

import (
	"errors"
	"fmt"
)

// ErrInvalidCredentials is the parent of every expected login failure.
var ErrInvalidCredentials = errors.New("invalid email or password")

var (
	ErrAccountNotFound = fmt.Errorf("%w: account not found", ErrInvalidCredentials)
	ErrWrongSecret     = fmt.Errorf("%w: wrong password", ErrInvalidCredentials)
	ErrAccountInactive = fmt.Errorf("%w: account is inactive", ErrInvalidCredentials)
)

var (
	ErrEmailNotFound     = errors.New("no account uses this email")
	ErrPhoneMismatch     = errors.New("phone number does not match the account")
	ErrEmailTaken        = errors.New("email is already used by another account")
	ErrInvalidAssignment = errors.New("assigned doctor must be an active doctor or admin")
	ErrPasswordRequired  = errors.New("password is required")
	ErrInvalidAccount    = errors.New("invalid account")
	ErrInvalidRecord     = errors.New("invalid record")

	// ErrLocalWrite marks a failed durable write; nothing was saved.
	ErrLocalWrite = errors.New("could not save")
)

package shortener

import "errors"

var (
	// ErrDuplicateCode is returned by Repository.Insert when the code is
	// already taken. Strategies translate it; it never leaves the package.
	ErrDuplicateCode = errors.New("duplicate code")

	ErrCodeAlreadyExists = errors.New("code already exists")
	ErrReservedCode      = errors.New("code is reserved")
	ErrKeyspaceExhausted = errors.New("unable to generate a unique code")
	ErrLinkNotFound      = errors.New("link not found")
)

package domain

import "errors"

var (
	ErrEntityNotFound   = errors.New("entity not found")
	ErrMissingPayload   = errors.New("required payload is missing")
	ErrNoGeneratedImage = errors.New("no generated image to feature")
)

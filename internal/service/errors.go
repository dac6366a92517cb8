package service

import "errors"

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrCacheWriteFailed = errors.New("failed to write code to cache")
)

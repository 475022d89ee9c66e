package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrLockHeld        = errors.New("lock already held")
	ErrInvalidTrade    = errors.New("invalid trade record")
	ErrTooManyFailures = errors.New("too many consecutive failures")
	ErrKeyLoad         = errors.New("private key load failed")
)

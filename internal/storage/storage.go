package storage

import "errors"

var (
	ErrUserAlreadyExists    = errors.New("user already exists")
	ErrUserNotFound         = errors.New("user not found")
	ErrTokenNotFound        = errors.New("refresh token not found")
	ErrTokenRevoked         = errors.New("refresh token revoked")
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

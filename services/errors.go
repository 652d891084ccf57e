package services

import "errors"

var (
	ErrUserNotFound        = errors.New("player is not linked to a web account")
	ErrStoreUnavailable    = errors.New("reward store unavailable")
	ErrStoreFailure        = errors.New("reward store error")
	ErrTxDone              = errors.New("transaction already committed or rolled back")
	ErrRowNotLocked        = errors.New("reward row is not locked by this transaction")
	ErrSerializerClosed    = errors.New("task serializer is shut down")
	ErrDeliveryUnavailable = errors.New("delivery target unavailable")
	ErrInventoryChanged    = errors.New("inventory no longer has room for the batch")
)

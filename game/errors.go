package game

import "errors"

var (
	ErrWorldStopped   = errors.New("game world is not running")
	ErrPlayerOffline  = errors.New("player is not online")
	ErrInventoryFull  = errors.New("inventory is full")
	ErrInvalidSlot    = errors.New("invalid inventory slot")
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidCommand = errors.New("invalid command arguments")
)

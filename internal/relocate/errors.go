package relocate

import "errors"

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrFastFull           = errors.New("relocate: fast tier out of space")
	ErrRead               = errors.New("relocate: source read failed")
	ErrWrite              = errors.New("relocate: destination write failed")
	ErrSymlinkUnsupported = errors.New("relocate: filesystem refuses symlinks")
	ErrContended          = errors.New("relocate: path locked by another operation")
	ErrCancelled          = errors.New("relocate: operation cancelled")
)

package bootimg

import "errors"

var (
	// ErrFormat marks an unrecognised, truncated or inconsistent image.
	ErrFormat = errors.New("invalid boot image")
	// ErrMissingComponent is returned when the layout requires a component
	// that the component set does not provide.
	ErrMissingComponent = errors.New("missing component")
	// ErrHeaderFile marks a malformed header side file.
	ErrHeaderFile = errors.New("bad header file")
)

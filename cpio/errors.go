package cpio

import "errors"

var (
	// ErrStructure marks a malformed cpio stream.
	ErrStructure = errors.New("malformed cpio archive")
	// ErrPathTraversal marks a path escaping the archive root.
	ErrPathTraversal = errors.New("path traversal")
	// ErrInvalidPath marks an empty path or one naming the archive root.
	ErrInvalidPath = errors.New("invalid path")
	// ErrNotFound is returned when an operation needs an entry that is absent.
	ErrNotFound = errors.New("no such entry")
	// ErrNotEmpty is returned by a non-recursive remove of a populated directory.
	ErrNotEmpty = errors.New("directory not empty")
	// ErrConflict is returned when an entry of another type occupies the path.
	ErrConflict = errors.New("conflicting entry")
	// ErrSyntax marks a malformed batch command.
	ErrSyntax = errors.New("bad cpio command")
)

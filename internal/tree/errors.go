package tree

import "errors"

var (
	ErrInUse     = errors.New("node is already attached to a tree")
	ErrRemoved   = errors.New("node has been removed")
	ErrNotNamed  = errors.New("node has no name")
	ErrDuplicate = errors.New("sibling with the same name exists")
	ErrNotFound  = errors.New("node not found")
	ErrRoot      = errors.New("operation not allowed on the root")
	ErrCycle     = errors.New("node would become its own ancestor")
)

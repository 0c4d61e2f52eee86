// Package repository holds the errors shared by the store implementations.
package repository

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrOutOfOrder = errors.New("observation older than latest")
)

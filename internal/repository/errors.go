// Package repository defines error values shared across the
// repositories. These sentinels let higher layers such as the import
// pipeline distinguish between failure scenarios without inspecting
// driver-specific error strings themselves. For example, ErrPhoneExists
// and ErrEmailExists surface the MySQL unique-index violations that act
// as the last line of defense against duplicate member provisioning.
package repository

import "errors"

// ErrPhoneExists is returned when an insert collides with the unique
// index on members.phone.
var ErrPhoneExists = errors.New("phone already exists")

// ErrEmailExists is returned when an insert collides with the unique
// index on members.email.
var ErrEmailExists = errors.New("email already exists")

// ErrNotFound is returned when a lookup by id matches no row.
var ErrNotFound = errors.New("not found")

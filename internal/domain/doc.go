// Package domain defines the core domain types and interfaces.
//
// This package contains concept-oriented files (identity.go, room.go, event.go, audit.go, etc.)
// with shared types and cross-cutting interfaces. No transport code - the wire codec lives in
// package protocol. Prevents circular imports by keeping interfaces on the consumer side.
package domain

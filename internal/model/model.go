// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
)

// BorrowStatus is the lifecycle state of a loan.
type BorrowStatus string

const (
	BorrowPendingPickup BorrowStatus = "pending_pickup"
	BorrowBorrowed      BorrowStatus = "borrowed"
	BorrowReturned      BorrowStatus = "returned"
	BorrowCancelled     BorrowStatus = "cancelled"
)

// Active reports whether the loan still holds a copy.
func (s BorrowStatus) Active() bool {
	return s == BorrowPendingPickup || s == BorrowBorrowed
}

// Terminal reports whether no further transition is permitted.
func (s BorrowStatus) Terminal() bool {
	return s == BorrowReturned || s == BorrowCancelled
}

// ReservationStatus is the lifecycle state of a queue entry.
type ReservationStatus string

const (
	ReservationWaiting   ReservationStatus = "waiting"
	ReservationReady     ReservationStatus = "ready"
	ReservationExpired   ReservationStatus = "expired"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationCompleted ReservationStatus = "completed"
)

// Condition is the state of a returned copy, assessed by staff.
type Condition string

const (
	ConditionGood        Condition = "good"
	ConditionMinorDamage Condition = "minor_damage"
	ConditionMajorDamage Condition = "major_damage"
	ConditionLost        Condition = "lost"
)

// PaymentStatus of a fine record.
type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

// Book is the inventory record. AvailableCopies stays within [0, TotalCopies].
type Book struct {
	ID              uuid.UUID
	ISBN            string
	Title           string
	TotalCopies     int
	AvailableCopies int
	BorrowCount     int64 // popularity counter
}

// User carries the fine state the lending core needs. Identity lives elsewhere.
type User struct {
	ID         uuid.UUID
	Role       Role
	Fines      decimal.Decimal // sum still owed
	Violations int
}

// Borrow is a single loan attempt.
type Borrow struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	BookID       uuid.UUID
	BorrowDate   time.Time
	DueDate      time.Time // provisional until pickup
	ReturnDate   *time.Time
	Status       BorrowStatus
	RenewedCount int
	PendingUntil time.Time
	Condition    *Condition
	DamageFee    decimal.Decimal
	LateFee      decimal.Decimal
}

// TotalFee is the sum charged on return.
func (b *Borrow) TotalFee() decimal.Decimal { return b.LateFee.Add(b.DamageFee) }

// Reservation is an entry of a per-book FIFO waitlist.
type Reservation struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	BookID          uuid.UUID
	ReservationDate time.Time
	Status          ReservationStatus
	NotifiedDate    *time.Time
	HoldUntil       *time.Time
	QueuePosition   int // meaningful while waiting
}

// Fine is an immutable fine-ledger record; only PaymentStatus may change.
type Fine struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	BorrowID      *uuid.UUID
	Amount        decimal.Decimal
	Reason        string
	PaymentStatus PaymentStatus
	CreatedAt     time.Time
}

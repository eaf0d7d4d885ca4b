package models

import (
	"time"
)

type MemberStatus string

const (
	MemberActive    MemberStatus = "active"
	MemberInactive  MemberStatus = "inactive"
	MemberSuspended MemberStatus = "suspended"
	MemberExpired   MemberStatus = "expired"
)

type MemberType string

const (
	TypeStudent MemberType = "student"
	TypeFaculty MemberType = "faculty"
	TypeStaff   MemberType = "staff_member"
	TypeGuest   MemberType = "guest"
)

type CopyStatus string

const (
	CopyAvailable CopyStatus = "available"
	CopyBorrowed  CopyStatus = "borrowed"
	CopyReserved  CopyStatus = "reserved"
	CopyLost      CopyStatus = "lost"
	CopyDamaged   CopyStatus = "damaged"
	CopyForRepair CopyStatus = "for_repair"
)

type FineStatus string

const (
	FineUnpaid FineStatus = "unpaid"
	FinePaid   FineStatus = "paid"
	FineWaived FineStatus = "waived"
)

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationFulfilled ReservationStatus = "fulfilled"
	ReservationCancelled ReservationStatus = "cancelled"
)

// Member carries the privilege snapshot taken from the policy table at
// registration time. The snapshot is never recomputed: changing the policy
// later does not change limits already granted to a member.
type Member struct {
	ID       uint         `gorm:"primaryKey"`
	MemberID string       `gorm:"size:40;uniqueIndex;not null"`
	FullName string       `gorm:"size:120;not null"`
	Email    string       `gorm:"size:120;uniqueIndex;not null"`
	Type     MemberType   `gorm:"size:20;not null"`
	Status   MemberStatus `gorm:"size:20;not null;default:'active'"`

	MaxBooksAllowed     int     `gorm:"not null"`
	BorrowingPeriodDays int     `gorm:"not null"`
	RenewalLimit        int     `gorm:"not null"`
	FineRatePerDay      float64 `gorm:"type:decimal(10,2);not null"`

	RegistrationDate time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Book struct {
	ID              uint   `gorm:"primaryKey"`
	BookUid         string `gorm:"type:uuid;uniqueIndex;not null"`
	Title           string `gorm:"not null"`
	Author          string
	ISBN            string `gorm:"size:20"`
	PublicationYear int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BookCopy is one physical copy of a title, tracked by its accession number.
// Invariant: a copy has an open borrowing transaction iff status is borrowed.
type BookCopy struct {
	ID              uint       `gorm:"primaryKey"`
	AccessionNumber string     `gorm:"size:40;uniqueIndex;not null"`
	BookID          uint       `gorm:"not null"`
	Status          CopyStatus `gorm:"size:20;not null;default:'available'"`
	Location        string     `gorm:"size:80"`
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Book Book `gorm:"foreignKey:BookID"`
}

// BorrowingTransaction is open while ReturnDate is nil and immutable once
// closed. Renewal fields are modeled but no renew operation exists yet.
type BorrowingTransaction struct {
	ID             uint   `gorm:"primaryKey"`
	TransactionUid string `gorm:"type:uuid;uniqueIndex;not null"`
	MemberID       uint   `gorm:"not null;index"`
	BookCopyID     uint   `gorm:"not null;index"`
	BorrowedDate   time.Time
	DueDate        time.Time
	ReturnDate     *time.Time
	RenewalCount   int `gorm:"not null;default:0"`
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Member   Member   `gorm:"belongsTo:Member;foreignKey:MemberID;references:ID"`
	BookCopy BookCopy `gorm:"foreignKey:BookCopyID"`
}

type Fine struct {
	ID            uint       `gorm:"primaryKey"`
	FineUid       string     `gorm:"type:uuid;uniqueIndex;not null"`
	MemberID      uint       `gorm:"not null;index"`
	TransactionID *uint      `gorm:"index"`
	Amount        float64    `gorm:"type:decimal(10,2);not null"`
	Reason        string     `gorm:"not null"`
	Status        FineStatus `gorm:"size:20;not null;default:'unpaid'"`
	PaymentDate   *time.Time
	WaiverReason  string
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Member Member `gorm:"belongsTo:Member;foreignKey:MemberID;references:ID"`
}

type Reservation struct {
	ID              uint              `gorm:"primaryKey"`
	ReservationUid  string            `gorm:"type:uuid;uniqueIndex;not null"`
	MemberID        uint              `gorm:"not null;index"`
	BookID          uint              `gorm:"not null;index"`
	Status          ReservationStatus `gorm:"size:20;not null;default:'pending'"`
	ReservationDate time.Time
	ExpirationDate  time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Member Member `gorm:"belongsTo:Member;foreignKey:MemberID;references:ID"`
	Book   Book   `gorm:"foreignKey:BookID"`
}

// All lists every entity for migration at startup.
func All() []interface{} {
	return []interface{}{
		&Member{},
		&Book{},
		&BookCopy{},
		&BorrowingTransaction{},
		&Fine{},
		&Reservation{},
	}
}

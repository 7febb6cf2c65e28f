package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Book struct {
	ID          int             `json:"id" db:"id"`
	Title       string          `json:"title" db:"title"`
	Author      string          `json:"author" db:"author"`
	Description string          `json:"description" db:"description"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Quantity    int             `json:"quantity" db:"quantity"`
	Available   bool            `json:"availability" db:"available"`
}

type User struct {
	ID    int    `json:"id" db:"id"`
	Name  string `json:"name" db:"name"`
	Email string `json:"email" db:"email"`
	Role  string `json:"role" db:"role"`
}

// LoanEntry is the user's own view of a borrow: append-only except for the
// returned flag.
type LoanEntry struct {
	ID         int       `json:"-" db:"id"`
	UserID     int       `json:"-" db:"user_id"`
	BookID     int       `json:"bookId" db:"book_id"`
	BookTitle  string    `json:"bookTitle" db:"book_title"`
	BorrowedAt time.Time `json:"borrowedDate" db:"borrowed_at"`
	DueDate    time.Time `json:"dueDate" db:"due_date"`
	Returned   bool      `json:"returned" db:"returned"`
}

// BorrowRecord is the audit-trail side of a borrow. The borrower fields are
// snapshots taken at borrow time, not live references.
type BorrowRecord struct {
	ID         int              `json:"-" db:"id"`
	RecordUid  string           `json:"recordUid" db:"record_uid"`
	UserID     int              `json:"userId" db:"user_id"`
	UserName   string           `json:"userName" db:"user_name"`
	UserEmail  string           `json:"userEmail" db:"user_email"`
	BookID     int              `json:"bookId" db:"book_id"`
	DueDate    time.Time        `json:"dueDate" db:"due_date"`
	ReturnDate *time.Time       `json:"returnDate" db:"return_date"`
	Price      decimal.Decimal  `json:"price" db:"price"`
	Fine       *decimal.Decimal `json:"fine" db:"fine"`
	Notified   bool             `json:"notified" db:"notified"`
	CreatedAt  time.Time        `json:"createdAt" db:"created_at"`
}

type BorrowRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ReturnReceipt struct {
	Fine        decimal.Decimal `json:"fine"`
	TotalCharge decimal.Decimal `json:"totalCharge"`
}

type AddBookRequest struct {
	Title       string          `json:"title" validate:"required"`
	Author      string          `json:"author" validate:"required"`
	Description string          `json:"description" validate:"required"`
	Price       decimal.Decimal `json:"price" validate:"required"`
	Quantity    int             `json:"quantity" validate:"gte=0"`
}

// ReminderMsg is published to the reminders topic for every overdue loan.
type ReminderMsg struct {
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

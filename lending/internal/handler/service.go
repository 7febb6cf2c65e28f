package handler

import (
	"context"
	"time"

	"github.com/Astemirdum/lending-service/lending/internal/model"
	"github.com/Astemirdum/lending-service/lending/internal/service"
)

//go:generate go run github.com/golang/mock/mockgen -source=service.go -destination=mocks/mock.go

type LendingService interface {
	Borrow(ctx context.Context, bookID int, email string) (time.Time, error)
	Return(ctx context.Context, bookID int, email string) (model.ReturnReceipt, error)
	ListUserLoans(ctx context.Context, userID int) ([]model.LoanEntry, error)
	ListBorrowRecords(ctx context.Context) ([]model.BorrowRecord, error)
	AddBook(ctx context.Context, req model.AddBookRequest) (model.Book, error)
	ListBooks(ctx context.Context) ([]model.Book, error)
	DeleteBook(ctx context.Context, bookID int) error
}

var _ LendingService = (*service.Service)(nil)

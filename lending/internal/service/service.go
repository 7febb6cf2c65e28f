package service

import (
	"context"
	"time"

	"github.com/Astemirdum/lending-service/lending/internal/errs"
	"github.com/Astemirdum/lending-service/lending/internal/fine"
	"github.com/Astemirdum/lending-service/lending/internal/model"
	"github.com/Astemirdum/lending-service/lending/internal/repository"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	LoanPeriod time.Duration
	FinePerDay decimal.Decimal
}

type Service struct {
	log  *zap.Logger
	repo repository.Repository
	cfg  Config
	now  func() time.Time
}

func NewService(repo repository.Repository, cfg Config, log *zap.Logger) *Service {
	return &Service{
		log:  log,
		repo: repo,
		cfg:  cfg,
		now:  time.Now,
	}
}

// WithClock overrides the wall clock. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Borrow lends one copy of the book to the user and returns the due date.
// The stock decrement, the loan entry and the borrow record are written in a
// single transaction by the repository.
func (s *Service) Borrow(ctx context.Context, bookID int, email string) (time.Time, error) {
	book, user, err := s.lookup(ctx, bookID, email)
	if err != nil {
		return time.Time{}, err
	}
	if book.Quantity == 0 {
		return time.Time{}, errs.ErrOutOfStock
	}
	if _, err := s.repo.GetOpenLoan(ctx, user.ID, book.ID); err == nil {
		return time.Time{}, errs.ErrAlreadyBorrowed
	} else if !isNotFound(err) {
		return time.Time{}, err
	}

	now := s.now()
	dueDate := now.Add(s.cfg.LoanPeriod)
	if err := s.repo.BorrowBook(ctx, user, book, now, dueDate); err != nil {
		return time.Time{}, err
	}
	s.log.Info("borrowed",
		zap.Int("bookID", book.ID), zap.Int("userID", user.ID), zap.Time("dueDate", dueDate))
	return dueDate, nil
}

// Return settles the user's open loan on the book and yields the receipt.
func (s *Service) Return(ctx context.Context, bookID int, email string) (model.ReturnReceipt, error) {
	book, user, err := s.lookup(ctx, bookID, email)
	if err != nil {
		return model.ReturnReceipt{}, err
	}
	if _, err := s.repo.GetOpenLoan(ctx, user.ID, book.ID); err != nil {
		if isNotFound(err) {
			return model.ReturnReceipt{}, errs.ErrNotBorrowed
		}
		return model.ReturnReceipt{}, err
	}
	rec, err := s.repo.GetOpenRecord(ctx, book.ID, user.Email)
	if err != nil {
		if isNotFound(err) {
			// the loan entry exists but its record does not
			s.log.Error("open loan without borrow record",
				zap.Int("bookID", book.ID), zap.Int("userID", user.ID))
			return model.ReturnReceipt{}, errs.ErrLoanStateMismatch
		}
		return model.ReturnReceipt{}, err
	}

	now := s.now()
	fineAmount, err := fine.Calculate(rec.DueDate, now, s.cfg.FinePerDay)
	if err != nil {
		return model.ReturnReceipt{}, err
	}
	if err := s.repo.CompleteReturn(ctx, user, book.ID, now, fineAmount); err != nil {
		return model.ReturnReceipt{}, err
	}
	s.log.Info("returned",
		zap.Int("bookID", book.ID), zap.Int("userID", user.ID), zap.String("fine", fineAmount.String()))
	return model.ReturnReceipt{
		Fine:        fineAmount,
		TotalCharge: rec.Price.Add(fineAmount),
	}, nil
}

func (s *Service) ListUserLoans(ctx context.Context, userID int) ([]model.LoanEntry, error) {
	if _, err := s.repo.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}
	return s.repo.GetUserLoans(ctx, userID)
}

func (s *Service) ListBorrowRecords(ctx context.Context) ([]model.BorrowRecord, error) {
	return s.repo.ListBorrowRecords(ctx)
}

func (s *Service) AddBook(ctx context.Context, req model.AddBookRequest) (model.Book, error) {
	return s.repo.CreateBook(ctx, req)
}

func (s *Service) ListBooks(ctx context.Context) ([]model.Book, error) {
	return s.repo.ListBooks(ctx)
}

func (s *Service) DeleteBook(ctx context.Context, bookID int) error {
	return s.repo.DeleteBook(ctx, bookID)
}

// lookup fetches the book and the user concurrently.
func (s *Service) lookup(ctx context.Context, bookID int, email string) (model.Book, model.User, error) {
	var (
		book model.Book
		user model.User
	)
	gg, ctx := errgroup.WithContext(ctx)
	gg.Go(func() error {
		var err error
		book, err = s.repo.GetBook(ctx, bookID)
		return err
	})
	gg.Go(func() error {
		var err error
		user, err = s.repo.GetUserByEmail(ctx, email)
		return err
	})
	if err := gg.Wait(); err != nil {
		return model.Book{}, model.User{}, err
	}
	return book, user, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, errs.ErrNotFound)
}

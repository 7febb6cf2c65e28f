package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Astemirdum/lending-service/lending/internal/errs"
	"github.com/Astemirdum/lending-service/lending/internal/model"
	"github.com/Astemirdum/lending-service/lending/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRepo is an in-memory repository honoring the same contract as the
// Postgres one: the stock decrement is conditional on quantity > 0 and at
// most one open loan may exist per (user, book), both under one lock so the
// whole borrow/return step is atomic.
type fakeRepo struct {
	mu      sync.Mutex
	books   map[int]*model.Book
	users   map[int]*model.User
	loans   []*model.LoanEntry
	records []*model.BorrowRecord
	nextID  int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		books:  map[int]*model.Book{},
		users:  map[int]*model.User{},
		nextID: 1,
	}
}

func (f *fakeRepo) addBook(b model.Book) *model.Book {
	f.mu.Lock()
	defer f.mu.Unlock()
	b.ID = f.nextID
	b.Available = b.Quantity > 0
	f.nextID++
	f.books[b.ID] = &b
	return &b
}

func (f *fakeRepo) addUser(u model.User) *model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u.ID = f.nextID
	f.nextID++
	f.users[u.ID] = &u
	return &u
}

func (f *fakeRepo) GetBook(_ context.Context, bookID int) (model.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[bookID]
	if !ok {
		return model.Book{}, errs.ErrNotFound
	}
	return *b, nil
}

func (f *fakeRepo) CreateBook(_ context.Context, req model.AddBookRequest) (model.Book, error) {
	return *f.addBook(model.Book{
		Title: req.Title, Author: req.Author, Description: req.Description,
		Price: req.Price, Quantity: req.Quantity,
	}), nil
}

func (f *fakeRepo) ListBooks(_ context.Context) ([]model.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	books := make([]model.Book, 0, len(f.books))
	for _, b := range f.books {
		books = append(books, *b)
	}
	return books, nil
}

func (f *fakeRepo) DeleteBook(_ context.Context, bookID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.books[bookID]; !ok {
		return errs.ErrNotFound
	}
	delete(f.books, bookID)
	return nil
}

func (f *fakeRepo) GetUserByEmail(_ context.Context, email string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return *u, nil
		}
	}
	return model.User{}, errs.ErrNotFound
}

func (f *fakeRepo) GetUserByID(_ context.Context, userID int) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return model.User{}, errs.ErrNotFound
	}
	return *u, nil
}

func (f *fakeRepo) GetUserLoans(_ context.Context, userID int) ([]model.LoanEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var loans []model.LoanEntry
	for _, l := range f.loans {
		if l.UserID == userID {
			loans = append(loans, *l)
		}
	}
	return loans, nil
}

func (f *fakeRepo) GetOpenLoan(_ context.Context, userID, bookID int) (model.LoanEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l := f.openLoanLocked(userID, bookID); l != nil {
		return *l, nil
	}
	return model.LoanEntry{}, errs.ErrNotFound
}

func (f *fakeRepo) openLoanLocked(userID, bookID int) *model.LoanEntry {
	for _, l := range f.loans {
		if l.UserID == userID && l.BookID == bookID && !l.Returned {
			return l
		}
	}
	return nil
}

func (f *fakeRepo) GetOpenRecord(_ context.Context, bookID int, email string) (model.BorrowRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r := f.openRecordLocked(bookID, email); r != nil {
		return *r, nil
	}
	return model.BorrowRecord{}, errs.ErrNotFound
}

func (f *fakeRepo) openRecordLocked(bookID int, email string) *model.BorrowRecord {
	for _, r := range f.records {
		if r.BookID == bookID && r.UserEmail == email && r.ReturnDate == nil {
			return r
		}
	}
	return nil
}

func (f *fakeRepo) ListBorrowRecords(_ context.Context) ([]model.BorrowRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	recs := make([]model.BorrowRecord, 0, len(f.records))
	for _, r := range f.records {
		recs = append(recs, *r)
	}
	return recs, nil
}

func (f *fakeRepo) BorrowBook(_ context.Context, user model.User, book model.Book, borrowedAt, dueDate time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[book.ID]
	if !ok {
		return errs.ErrNotFound
	}
	if b.Quantity == 0 {
		return errs.ErrOutOfStock
	}
	if f.openLoanLocked(user.ID, book.ID) != nil {
		return errs.ErrAlreadyBorrowed
	}
	b.Quantity--
	b.Available = b.Quantity > 0
	f.loans = append(f.loans, &model.LoanEntry{
		ID: f.nextID, UserID: user.ID, BookID: book.ID, BookTitle: b.Title,
		BorrowedAt: borrowedAt, DueDate: dueDate,
	})
	f.records = append(f.records, &model.BorrowRecord{
		ID: f.nextID, UserID: user.ID, UserName: user.Name, UserEmail: user.Email,
		BookID: book.ID, DueDate: dueDate, Price: b.Price, CreatedAt: borrowedAt,
	})
	f.nextID++
	return nil
}

func (f *fakeRepo) CompleteReturn(_ context.Context, user model.User, bookID int, returnedAt time.Time, fineAmount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	loan := f.openLoanLocked(user.ID, bookID)
	if loan == nil {
		return errs.ErrNotBorrowed
	}
	b, ok := f.books[bookID]
	if !ok {
		return errs.ErrNotFound
	}
	rec := f.openRecordLocked(bookID, user.Email)
	if rec == nil {
		return errs.ErrLoanStateMismatch
	}
	loan.Returned = true
	b.Quantity++
	b.Available = true
	rec.ReturnDate = &returnedAt
	rec.Fine = &fineAmount
	return nil
}

func (f *fakeRepo) FindOverdueUnnotified(_ context.Context, now time.Time, grace time.Duration) ([]model.BorrowRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var recs []model.BorrowRecord
	for _, r := range f.records {
		if r.ReturnDate == nil && !r.Notified && r.DueDate.Before(now.Add(-grace)) {
			recs = append(recs, *r)
		}
	}
	return recs, nil
}

func (f *fakeRepo) MarkNotified(_ context.Context, recordID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.ID == recordID {
			r.Notified = true
			return nil
		}
	}
	return errs.ErrNotFound
}

func newTestService(repo *fakeRepo, now time.Time) *service.Service {
	return service.NewService(repo, service.Config{
		LoanPeriod: 7 * 24 * time.Hour,
		FinePerDay: decimal.NewFromInt(1),
	}, zap.NewExample().Named("test")).WithClock(func() time.Time { return now })
}

func TestService_BorrowReturnRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newFakeRepo()
	book := repo.addBook(model.Book{Title: "Dune", Author: "Herbert", Price: decimal.NewFromInt(10), Quantity: 2})
	user := repo.addUser(model.User{Name: "Reader", Email: "reader@mail.com"})

	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := newTestService(repo, now)

	dueDate, err := svc.Borrow(ctx, book.ID, user.Email)
	require.NoError(t, err)
	require.Equal(t, now.Add(7*24*time.Hour), dueDate)

	got, err := repo.GetBook(ctx, book.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.Quantity)
	require.True(t, got.Available)

	// on the due date there is no fine and the charge equals the price
	receipt, err := newTestService(repo, dueDate).Return(ctx, book.ID, user.Email)
	require.NoError(t, err)
	require.True(t, receipt.Fine.IsZero())
	require.True(t, receipt.TotalCharge.Equal(decimal.NewFromInt(10)))

	got, err = repo.GetBook(ctx, book.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.Quantity)

	recs, err := repo.ListBorrowRecords(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].ReturnDate)
	require.NotNil(t, recs[0].Fine)
}

func TestService_OutOfStockAndLateFine(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newFakeRepo()
	book := repo.addBook(model.Book{Title: "Dune", Author: "Herbert", Price: decimal.NewFromInt(10), Quantity: 2})
	first := repo.addUser(model.User{Name: "First", Email: "first@mail.com"})
	second := repo.addUser(model.User{Name: "Second", Email: "second@mail.com"})
	third := repo.addUser(model.User{Name: "Third", Email: "third@mail.com"})

	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := newTestService(repo, now)

	_, err := svc.Borrow(ctx, book.ID, first.Email)
	require.NoError(t, err)
	_, err = svc.Borrow(ctx, book.ID, second.Email)
	require.NoError(t, err)
	_, err = svc.Borrow(ctx, book.ID, third.Email)
	require.ErrorIs(t, err, errs.ErrOutOfStock)

	got, err := repo.GetBook(ctx, book.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.Quantity)
	require.False(t, got.Available)

	// first loan comes back 10 days after borrowing: 3 days late at $1/day
	late := newTestService(repo, now.Add(10*24*time.Hour))
	receipt, err := late.Return(ctx, book.ID, first.Email)
	require.NoError(t, err)
	require.True(t, receipt.Fine.Equal(decimal.NewFromInt(3)), "fine %s", receipt.Fine)
	require.True(t, receipt.TotalCharge.Equal(decimal.NewFromInt(13)), "total %s", receipt.TotalCharge)
}

func TestService_DuplicateBorrow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newFakeRepo()
	book := repo.addBook(model.Book{Title: "Dune", Author: "Herbert", Price: decimal.NewFromInt(10), Quantity: 5})
	user := repo.addUser(model.User{Name: "Reader", Email: "reader@mail.com"})

	svc := newTestService(repo, time.Now())
	_, err := svc.Borrow(ctx, book.ID, user.Email)
	require.NoError(t, err)
	_, err = svc.Borrow(ctx, book.ID, user.Email)
	require.ErrorIs(t, err, errs.ErrAlreadyBorrowed)
}

func TestService_ReturnNotBorrowed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newFakeRepo()
	book := repo.addBook(model.Book{Title: "Dune", Author: "Herbert", Price: decimal.NewFromInt(10), Quantity: 1})
	user := repo.addUser(model.User{Name: "Reader", Email: "reader@mail.com"})

	svc := newTestService(repo, time.Now())
	_, err := svc.Return(ctx, book.ID, user.Email)
	require.ErrorIs(t, err, errs.ErrNotBorrowed)
}

func TestService_LoanStateMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newFakeRepo()
	book := repo.addBook(model.Book{Title: "Dune", Author: "Herbert", Price: decimal.NewFromInt(10), Quantity: 1})
	user := repo.addUser(model.User{Name: "Reader", Email: "reader@mail.com"})

	svc := newTestService(repo, time.Now())
	_, err := svc.Borrow(ctx, book.ID, user.Email)
	require.NoError(t, err)

	// corrupt the record store: the loan entry stays open, the record vanishes
	repo.mu.Lock()
	repo.records = nil
	repo.mu.Unlock()

	_, err = svc.Return(ctx, book.ID, user.Email)
	require.ErrorIs(t, err, errs.ErrLoanStateMismatch)
}

func TestService_ConcurrentBorrowLastCopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newFakeRepo()
	book := repo.addBook(model.Book{Title: "Dune", Author: "Herbert", Price: decimal.NewFromInt(10), Quantity: 1})
	alice := repo.addUser(model.User{Name: "Alice", Email: "alice@mail.com"})
	bob := repo.addUser(model.User{Name: "Bob", Email: "bob@mail.com"})

	svc := newTestService(repo, time.Now())

	var wg sync.WaitGroup
	errsCh := make(chan error, 2)
	for _, email := range []string{alice.Email, bob.Email} {
		email := email
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Borrow(ctx, book.ID, email)
			errsCh <- err
		}()
	}
	wg.Wait()
	close(errsCh)

	var ok, outOfStock int
	for err := range errsCh {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, errs.ErrOutOfStock):
			outOfStock++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, outOfStock)

	got, err := repo.GetBook(ctx, book.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.Quantity)
	require.False(t, got.Available)
}

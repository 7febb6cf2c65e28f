package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/Astemirdum/lending-service/lending/internal/errs"
	"github.com/Astemirdum/lending-service/lending/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

type Repository interface {
	GetBook(ctx context.Context, bookID int) (model.Book, error)
	CreateBook(ctx context.Context, req model.AddBookRequest) (model.Book, error)
	ListBooks(ctx context.Context) ([]model.Book, error)
	DeleteBook(ctx context.Context, bookID int) error

	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	GetUserByID(ctx context.Context, userID int) (model.User, error)

	GetUserLoans(ctx context.Context, userID int) ([]model.LoanEntry, error)
	GetOpenLoan(ctx context.Context, userID, bookID int) (model.LoanEntry, error)
	GetOpenRecord(ctx context.Context, bookID int, email string) (model.BorrowRecord, error)
	ListBorrowRecords(ctx context.Context) ([]model.BorrowRecord, error)

	BorrowBook(ctx context.Context, user model.User, book model.Book, borrowedAt, dueDate time.Time) error
	CompleteReturn(ctx context.Context, user model.User, bookID int, returnedAt time.Time, fineAmount decimal.Decimal) error

	FindOverdueUnnotified(ctx context.Context, now time.Time, grace time.Duration) ([]model.BorrowRecord, error)
	MarkNotified(ctx context.Context, recordID int) error
}

type repository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewRepository(db *sqlx.DB, log *zap.Logger) (*repository, error) {
	return &repository{
		db:  db,
		log: log.Named("repo"),
	}, nil
}

const (
	booksTableName         = `books`
	usersTableName         = `users`
	userLoansTableName     = `user_loans`
	borrowRecordsTableName = `borrow_records`
)

var qb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func (r *repository) GetBook(ctx context.Context, bookID int) (model.Book, error) {
	q, args, err := qb.Select("id", "title", "author", "description", "price", "quantity", "available").
		From(booksTableName).
		Where(sq.Eq{"id": bookID}).
		ToSql()
	if err != nil {
		return model.Book{}, err
	}
	var book model.Book
	if err := r.db.GetContext(ctx, &book, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Book{}, errs.ErrNotFound
		}
		return model.Book{}, err
	}
	return book, nil
}

func (r *repository) CreateBook(ctx context.Context, req model.AddBookRequest) (model.Book, error) {
	q, args, err := qb.Insert(booksTableName).
		Columns("title", "author", "description", "price", "quantity", "available").
		Values(req.Title, req.Author, req.Description, req.Price, req.Quantity, req.Quantity > 0).
		Suffix("returning id, title, author, description, price, quantity, available").
		ToSql()
	if err != nil {
		return model.Book{}, err
	}
	var book model.Book
	if err := r.db.GetContext(ctx, &book, q, args...); err != nil {
		r.log.Error("CreateBook", zap.String("q", q), zap.Any("args", args))
		return model.Book{}, err
	}
	return book, nil
}

func (r *repository) ListBooks(ctx context.Context) ([]model.Book, error) {
	q, args, err := qb.Select("id", "title", "author", "description", "price", "quantity", "available").
		From(booksTableName).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, err
	}
	var books []model.Book
	if err := r.db.SelectContext(ctx, &books, q, args...); err != nil {
		return nil, err
	}
	return books, nil
}

func (r *repository) DeleteBook(ctx context.Context, bookID int) error {
	q, args, err := qb.Delete(booksTableName).
		Where(sq.Eq{"id": bookID}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *repository) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	return r.getUser(ctx, sq.Eq{"email": email})
}

func (r *repository) GetUserByID(ctx context.Context, userID int) (model.User, error) {
	return r.getUser(ctx, sq.Eq{"id": userID})
}

func (r *repository) getUser(ctx context.Context, pred sq.Eq) (model.User, error) {
	q, args, err := qb.Select("id", "name", "email", "role").
		From(usersTableName).
		Where(pred).
		ToSql()
	if err != nil {
		return model.User{}, err
	}
	var user model.User
	if err := r.db.GetContext(ctx, &user, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, errs.ErrNotFound
		}
		return model.User{}, err
	}
	return user, nil
}

func (r *repository) GetUserLoans(ctx context.Context, userID int) ([]model.LoanEntry, error) {
	q, args, err := qb.Select("id", "user_id", "book_id", "book_title", "borrowed_at", "due_date", "returned").
		From(userLoansTableName).
		Where(sq.Eq{"user_id": userID}).
		OrderBy("borrowed_at", "id").
		ToSql()
	if err != nil {
		return nil, err
	}
	var loans []model.LoanEntry
	if err := r.db.SelectContext(ctx, &loans, q, args...); err != nil {
		return nil, err
	}
	return loans, nil
}

func (r *repository) GetOpenLoan(ctx context.Context, userID, bookID int) (model.LoanEntry, error) {
	q, args, err := qb.Select("id", "user_id", "book_id", "book_title", "borrowed_at", "due_date", "returned").
		From(userLoansTableName).
		Where(sq.Eq{"user_id": userID, "book_id": bookID, "returned": false}).
		Limit(1).
		ToSql()
	if err != nil {
		return model.LoanEntry{}, err
	}
	var loan model.LoanEntry
	if err := r.db.GetContext(ctx, &loan, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.LoanEntry{}, errs.ErrNotFound
		}
		return model.LoanEntry{}, err
	}
	return loan, nil
}

func (r *repository) GetOpenRecord(ctx context.Context, bookID int, email string) (model.BorrowRecord, error) {
	q, args, err := qb.Select(recordColumns...).
		From(borrowRecordsTableName).
		Where(sq.Eq{"book_id": bookID, "user_email": email}).
		Where("return_date is null").
		Limit(1).
		ToSql()
	if err != nil {
		return model.BorrowRecord{}, err
	}
	var rec model.BorrowRecord
	if err := r.db.GetContext(ctx, &rec, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.BorrowRecord{}, errs.ErrNotFound
		}
		return model.BorrowRecord{}, err
	}
	return rec, nil
}

var recordColumns = []string{
	"id", "record_uid", "user_id", "user_name", "user_email",
	"book_id", "due_date", "return_date", "price", "fine", "notified", "created_at",
}

func (r *repository) ListBorrowRecords(ctx context.Context) ([]model.BorrowRecord, error) {
	q, args, err := qb.Select(recordColumns...).
		From(borrowRecordsTableName).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, err
	}
	var recs []model.BorrowRecord
	if err := r.db.SelectContext(ctx, &recs, q, args...); err != nil {
		return nil, err
	}
	return recs, nil
}

// BorrowBook applies the three borrow effects in one transaction: the
// conditional stock decrement, the user's loan entry and the audit record.
// The decrement is guarded by quantity > 0 so concurrent borrows of the last
// copy cannot both succeed; the partial unique index on open loans turns a
// concurrent duplicate borrow into ErrAlreadyBorrowed.
func (r *repository) BorrowBook(ctx context.Context, user model.User, book model.Book, borrowedAt, dueDate time.Time) error {
	return r.withinTx(ctx, func(tx *sqlx.Tx) error {
		if err := decrementStock(ctx, tx, book.ID); err != nil {
			return err
		}

		q, args, err := qb.Insert(userLoansTableName).
			Columns("user_id", "book_id", "book_title", "borrowed_at", "due_date", "returned").
			Values(user.ID, book.ID, book.Title, borrowedAt, dueDate, false).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			if isUniqueViolation(err) {
				return errs.ErrAlreadyBorrowed
			}
			return err
		}

		q, args, err = qb.Insert(borrowRecordsTableName).
			Columns("record_uid", "user_id", "user_name", "user_email", "book_id", "due_date", "price", "notified", "created_at").
			Values(uuid.New(), user.ID, user.Name, user.Email, book.ID, dueDate, book.Price, false, borrowedAt).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			r.log.Error("BorrowBook insert record", zap.String("q", q), zap.Any("args", args))
			return err
		}
		return nil
	})
}

// CompleteReturn flags the loan entry, restores the copy and closes the
// borrow record atomically. The fine is computed by the caller from the open
// record's due date, which never changes after creation.
func (r *repository) CompleteReturn(ctx context.Context, user model.User, bookID int, returnedAt time.Time, fineAmount decimal.Decimal) error {
	return r.withinTx(ctx, func(tx *sqlx.Tx) error {
		const flagLoan = `
	update user_loans set returned = true
	where user_id = $1 and book_id = $2 and not returned`
		res, err := tx.ExecContext(ctx, flagLoan, user.ID, bookID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return errs.ErrNotBorrowed
		}

		const restock = `
	update books set quantity = quantity + 1, available = true
	where id = $1`
		if res, err = tx.ExecContext(ctx, restock, bookID); err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return errs.ErrNotFound
		}

		const closeRecord = `
	update borrow_records set return_date = $1, fine = $2
	where book_id = $3 and user_email = $4 and return_date is null`
		if res, err = tx.ExecContext(ctx, closeRecord, returnedAt, fineAmount, bookID, user.Email); err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			// the loan entry was open but no matching record exists
			r.log.Error("CompleteReturn: open loan without open borrow record",
				zap.Int("userID", user.ID), zap.Int("bookID", bookID))
			return errs.ErrLoanStateMismatch
		}
		return nil
	})
}

func (r *repository) FindOverdueUnnotified(ctx context.Context, now time.Time, grace time.Duration) ([]model.BorrowRecord, error) {
	q, args, err := qb.Select(recordColumns...).
		From(borrowRecordsTableName).
		Where(sq.Lt{"due_date": now.Add(-grace)}).
		Where("return_date is null").
		Where(sq.Eq{"notified": false}).
		OrderBy("due_date").
		ToSql()
	if err != nil {
		return nil, err
	}
	var recs []model.BorrowRecord
	if err := r.db.SelectContext(ctx, &recs, q, args...); err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *repository) MarkNotified(ctx context.Context, recordID int) error {
	q, args, err := qb.Update(borrowRecordsTableName).
		Set("notified", true).
		Where(sq.Eq{"id": recordID}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// decrementStock takes one copy off the shelf, recomputing availability in
// the same statement. Zero rows affected means the book is either absent or
// out of stock; a probe disambiguates.
func decrementStock(ctx context.Context, tx *sqlx.Tx, bookID int) error {
	const q = `
	update books set quantity = quantity - 1, available = quantity - 1 > 0
	where id = $1 and quantity > 0`
	res, err := tx.ExecContext(ctx, q, bookID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `select exists(select 1 from books where id = $1)`, bookID); err != nil {
			return err
		}
		if !exists {
			return errs.ErrNotFound
		}
		return errs.ErrOutOfStock
	}
	return nil
}

func (r *repository) withinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.log.Error("tx rollback", zap.Error(rbErr))
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "commit tx")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

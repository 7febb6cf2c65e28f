package notifier

import (
	"context"
	"fmt"
	"time"

	cb "github.com/Astemirdum/lending-service/pkg/circuit_breaker"

	"github.com/Astemirdum/lending-service/lending/internal/model"
	"go.uber.org/zap"
)

const reminderSubject = "Book Return Reminder"

// LoanStore is the slice of the repository the scheduler reads and writes.
type LoanStore interface {
	FindOverdueUnnotified(ctx context.Context, now time.Time, grace time.Duration) ([]model.BorrowRecord, error)
	MarkNotified(ctx context.Context, recordID int) error
}

type Config struct {
	Interval time.Duration
	Grace    time.Duration
}

// Scheduler periodically scans for overdue, unnotified loans and dispatches
// a reminder for each, exactly once per loan on the happy path. Dispatch is
// at-least-once: a failed send leaves the record unmarked for the next tick.
type Scheduler struct {
	repo     LoanStore
	notifier Notifier
	breaker  cb.CircuitBreaker
	log      *zap.Logger
	cfg      Config
	now      func() time.Time
}

func NewScheduler(repo LoanStore, n Notifier, cfg Config, log *zap.Logger) *Scheduler {
	return &Scheduler{
		repo:     repo,
		notifier: n,
		breaker:  cb.New(10, time.Minute, 0.5, 3),
		log:      log.Named("scheduler"),
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithClock overrides the wall clock. Tests only.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run blocks until ctx is cancelled, ticking on the configured interval.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info("scheduler started",
		zap.Duration("interval", s.cfg.Interval), zap.Duration("grace", s.cfg.Grace))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			notified := s.Tick(ctx)
			if notified > 0 {
				s.log.Info("reminders dispatched", zap.Int("count", notified))
			}
		}
	}
}

// Tick processes one batch and returns how many records were notified.
// Per-record failures are isolated: logged, skipped, retried next tick.
func (s *Scheduler) Tick(ctx context.Context) int {
	records, err := s.repo.FindOverdueUnnotified(ctx, s.now(), s.cfg.Grace)
	if err != nil {
		s.log.Error("find overdue loans", zap.Error(err))
		return 0
	}

	notified := 0
	for _, rec := range records {
		if rec.UserEmail == "" {
			s.log.Warn("record without borrower email", zap.String("recordUid", rec.RecordUid))
			continue
		}
		if err := s.breaker.Call(func() error {
			return s.notifier.Send(ctx, rec.UserEmail, reminderSubject, reminderBody(rec))
		}); err != nil {
			s.log.Error("send reminder",
				zap.String("recordUid", rec.RecordUid), zap.Error(err))
			continue
		}
		if err := s.repo.MarkNotified(ctx, rec.ID); err != nil {
			// the reminder went out; the record will be re-sent next tick
			s.log.Error("mark notified",
				zap.String("recordUid", rec.RecordUid), zap.Error(err))
			continue
		}
		notified++
	}
	return notified
}

func reminderBody(rec model.BorrowRecord) string {
	return fmt.Sprintf("Hello %s,\n\nThis is a reminder that the book you borrowed was due on %s. "+
		"Please return the book to the library as soon as possible.\n\nThank you.",
		rec.UserName, rec.DueDate.Format("January 2, 2006"))
}

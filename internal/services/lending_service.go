package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"libraryledger/internal/models"
	"libraryledger/internal/notify"
	"libraryledger/internal/repositories"
)

// ─── Service Interface ────────────────────────────────────────────────────────

// LendingService is the lending ledger: the borrow/return transitions, fines and
// availability, plus the reservation queue and fine payments around them.
type LendingService interface {
	BorrowBook(ctx context.Context, memberID, bookID uuid.UUID, today time.Time) (*models.BorrowRecord, error)
	ReturnBook(ctx context.Context, recordID uuid.UUID, today time.Time) (*models.BorrowRecord, error)
	CheckAvailability(ctx context.Context, bookID uuid.UUID) (bool, error)

	GetLoan(ctx context.Context, recordID uuid.UUID) (*models.BorrowRecord, error)
	ListMemberLoans(ctx context.Context, memberID uuid.UUID) ([]models.BorrowRecord, error)
	ListOpenLoans(ctx context.Context) ([]models.BorrowRecord, error)
	DueSoon(ctx context.Context, asOf time.Time, windowDays int) ([]models.BorrowRecord, error)
	Overdue(ctx context.Context, asOf time.Time) ([]models.BorrowRecord, error)
	SendReminders(ctx context.Context, asOf time.Time, windowDays int) (ReminderSummary, error)

	ReserveBook(ctx context.Context, memberID, bookID uuid.UUID) (*models.Reservation, error)
	CancelReservation(ctx context.Context, reservationID uuid.UUID) error
	ListReservationsForBook(ctx context.Context, bookID uuid.UUID) ([]models.Reservation, error)

	PayFine(ctx context.Context, memberID uuid.UUID, amount decimal.Decimal) (*models.Member, error)
	Reconcile(ctx context.Context) (ReconcileReport, error)
}

// ReminderSummary counts the events emitted by SendReminders.
type ReminderSummary struct {
	DueSoon int `json:"due_soon"`
	Overdue int `json:"overdue"`
	Failed  int `json:"failed"`
}

// ReconcileReport lists the counters Reconcile had to correct.
type ReconcileReport struct {
	BooksFixed   []uuid.UUID `json:"books_fixed"`
	MembersFixed []uuid.UUID `json:"members_fixed"`
}

// ─── Implementation ───────────────────────────────────────────────────────────

type lendingService struct {
	db                 *gorm.DB
	memberRepo         repositories.MemberRepository
	bookRepo           repositories.BookRepository
	recordRepo         repositories.BorrowRecordRepository
	reservationRepo    repositories.ReservationRepository
	publisher          notify.Publisher
	fineBlockThreshold decimal.Decimal
	afterCommit        []func()
}

// Option configures a LendingService.
type Option func(*lendingService)

// WithAfterCommit registers fn to run after every committed change to loans,
// copy counts or fine balances. The dashboard cache hangs off this.
func WithAfterCommit(fn func()) Option {
	return func(s *lendingService) {
		if fn != nil {
			s.afterCommit = append(s.afterCommit, fn)
		}
	}
}

// NewLendingService wires up all dependencies and returns a LendingService.
// Borrowing is refused while a member's outstanding fine is greater than
// fineBlockThreshold.
func NewLendingService(
	db *gorm.DB,
	memberRepo repositories.MemberRepository,
	bookRepo repositories.BookRepository,
	recordRepo repositories.BorrowRecordRepository,
	reservationRepo repositories.ReservationRepository,
	publisher notify.Publisher,
	fineBlockThreshold decimal.Decimal,
	opts ...Option,
) LendingService {
	if publisher == nil {
		publisher = notify.LogPublisher{}
	}
	s := &lendingService{
		db:                 db,
		memberRepo:         memberRepo,
		bookRepo:           bookRepo,
		recordRepo:         recordRepo,
		reservationRepo:    reservationRepo,
		publisher:          publisher,
		fineBlockThreshold: fineBlockThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ─── Borrow ───────────────────────────────────────────────────────────────────

// BorrowBook lends one copy of a book to a member.
//
// Steps (all in one transaction):
//  1. Lock the member row and check membership, loan count and fines.
//  2. Lock the book row and check it is active with a copy left.
//  3. Take the copy and bump the member's loan count through guarded updates,
//     so the counters can never leave their bounds even without row locks.
//  4. Create the BorrowRecord due LoanPeriodDays after today.
//  5. Fulfil the member's own reservation for the book, if any.
func (s *lendingService) BorrowBook(ctx context.Context, memberID, bookID uuid.UUID, today time.Time) (*models.BorrowRecord, error) {
	day := DateOf(today)
	var record *models.BorrowRecord
	var book *models.Book
	var member *models.Member

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		member, err = s.memberRepo.GetByIDForUpdate(tx, memberID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMemberNotFound
			}
			return err
		}
		if !member.IsActiveOn(day) {
			return ErrMembershipInactive
		}
		if member.CurrentBorrowCount >= MaxActiveLoans {
			return ErrBorrowLimitExceeded
		}
		if member.OutstandingFine.GreaterThan(s.fineBlockThreshold) {
			return ErrOutstandingFineBlock
		}

		book, err = s.bookRepo.GetByIDForUpdate(tx, bookID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return err
		}
		if !book.IsActive() || book.AvailableCopies <= 0 {
			return ErrBookUnavailable
		}

		taken, err := s.bookRepo.TakeCopy(tx, bookID)
		if err != nil {
			return err
		}
		if !taken {
			return ErrBookUnavailable
		}
		counted, err := s.memberRepo.IncrementBorrowCount(tx, memberID, MaxActiveLoans)
		if err != nil {
			return err
		}
		if !counted {
			return ErrBorrowLimitExceeded
		}

		record = &models.BorrowRecord{
			BookID:     bookID,
			MemberID:   memberID,
			BorrowDate: day,
			DueDate:    DueDateFor(day),
			FineAmount: decimal.Zero,
			Status:     models.BorrowStatusBorrowed,
		}
		if err := s.recordRepo.Create(tx, record); err != nil {
			return err
		}

		res, err := s.reservationRepo.GetActiveByBookAndMember(tx, bookID, memberID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if res != nil {
			if err := s.reservationRepo.UpdateStatus(tx, res.ID, models.ReservationStatusFulfilled); err != nil {
				return err
			}
			log.Info().Str("op", "BorrowBook").Str("reservation", res.ID.String()).Msg("reservation fulfilled by borrow")
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("op", "BorrowBook").
			Str("member", memberID.String()).Str("book", bookID.String()).
			Msg("borrow refused")
		return nil, err
	}

	log.Info().Str("op", "BorrowBook").
		Str("record", record.ID.String()).Str("member", memberID.String()).Str("book", bookID.String()).
		Str("due", record.DueDate.Format("2006-01-02")).
		Msg("borrow record created")
	s.committed()

	book.AvailableCopies--
	member.CurrentBorrowCount++
	record.Book = *book
	record.Member = *member
	s.publish(ctx, notify.Event{
		Type:       notify.EventLoanBorrowed,
		OccurredAt: time.Now().UTC(),
		Payload:    loanPayload(*record, day),
	})
	return record, nil
}

// ─── Return ───────────────────────────────────────────────────────────────────

// ReturnBook closes a borrow record.
//
// Steps (all in one transaction):
//  1. Lock the record and guard against double-return.
//  2. Fine = OverdueDays × FinePerDay, measured at today.
//  3. Mark the record returned and add the fine to the member's balance.
//  4. Decrement the member's loan count and release the copy.
//  5. Fulfil the oldest active reservation for the book, if any.
func (s *lendingService) ReturnBook(ctx context.Context, recordID uuid.UUID, today time.Time) (*models.BorrowRecord, error) {
	day := DateOf(today)
	var updated *models.BorrowRecord
	var next *models.Reservation

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.recordRepo.GetByIDForUpdate(tx, recordID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRecordNotFound
			}
			return err
		}
		if record.IsReturned() {
			return ErrRecordAlreadyReturned
		}
		if day.Before(storedDay(record.BorrowDate)) {
			return ErrReturnBeforeBorrow
		}

		record.ReturnDate = &day
		fine := ComputeOverdueFine(*record, day)

		member, err := s.memberRepo.GetByIDForUpdate(tx, record.MemberID)
		if err != nil {
			return err
		}

		closed, err := s.recordRepo.MarkReturned(tx, record.ID, day, fine)
		if err != nil {
			return err
		}
		if !closed {
			return ErrRecordAlreadyReturned
		}

		if fine.IsPositive() {
			if err := s.memberRepo.SetOutstandingFine(tx, member.ID, member.OutstandingFine.Add(fine)); err != nil {
				return err
			}
		}

		decremented, err := s.memberRepo.DecrementBorrowCount(tx, member.ID)
		if err != nil {
			return err
		}
		if !decremented {
			return fmt.Errorf("member %s: %w", member.ID, ErrCounterDrift)
		}
		released, err := s.bookRepo.ReleaseCopy(tx, record.BookID)
		if err != nil {
			return err
		}
		if !released {
			return fmt.Errorf("book %s: %w", record.BookID, ErrCounterDrift)
		}

		next, err = s.reservationRepo.GetNextActiveForBook(tx, record.BookID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if next != nil {
			if err := s.reservationRepo.UpdateStatus(tx, next.ID, models.ReservationStatusFulfilled); err != nil {
				return err
			}
		}

		var reloaded models.BorrowRecord
		if err := tx.Preload("Book").Preload("Member.User").First(&reloaded, "id = ?", record.ID).Error; err != nil {
			return err
		}
		updated = &reloaded
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("op", "ReturnBook").Str("record", recordID.String()).Msg("return refused")
		return nil, err
	}

	log.Info().Str("op", "ReturnBook").
		Str("record", updated.ID.String()).Str("member", updated.MemberID.String()).Str("book", updated.BookID.String()).
		Str("fine", updated.FineAmount.StringFixed(2)).
		Msg("borrow record returned")
	s.committed()

	s.publish(ctx, notify.Event{
		Type:       notify.EventLoanReturned,
		OccurredAt: time.Now().UTC(),
		Payload:    loanPayload(*updated, day),
	})
	if next != nil {
		log.Info().Str("op", "ReturnBook").Str("reservation", next.ID.String()).Msg("reservation fulfilled, notifying member")
		s.publish(ctx, notify.Event{
			Type:       notify.EventReservationAvailable,
			OccurredAt: time.Now().UTC(),
			Payload: notify.ReservationPayload{
				ReservationID: next.ID.String(),
				BookID:        updated.BookID.String(),
				BookTitle:     updated.Book.Title,
				MemberID:      next.MemberID.String(),
				MemberName:    next.Member.User.Name,
				MemberEmail:   next.Member.User.Email,
			},
		})
	}
	return updated, nil
}

// ─── Availability ─────────────────────────────────────────────────────────────

// CheckAvailability reports whether the book is active with a copy on the shelf.
func (s *lendingService) CheckAvailability(ctx context.Context, bookID uuid.UUID) (bool, error) {
	book, err := s.bookRepo.GetByID(s.db.WithContext(ctx), bookID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrBookNotFound
		}
		return false, err
	}
	return book.IsActive() && book.AvailableCopies > 0, nil
}

// ─── Queries ──────────────────────────────────────────────────────────────────

func (s *lendingService) GetLoan(ctx context.Context, recordID uuid.UUID) (*models.BorrowRecord, error) {
	record, err := s.recordRepo.GetByID(s.db.WithContext(ctx).Preload("Book"), recordID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return record, nil
}

// ListMemberLoans returns all borrow records (open and returned) of a member.
func (s *lendingService) ListMemberLoans(ctx context.Context, memberID uuid.UUID) ([]models.BorrowRecord, error) {
	db := s.db.WithContext(ctx)
	if _, err := s.memberRepo.GetByID(db, memberID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return s.recordRepo.ListByMember(db, memberID)
}

func (s *lendingService) ListOpenLoans(ctx context.Context) ([]models.BorrowRecord, error) {
	return s.recordRepo.ListOpen(s.db.WithContext(ctx))
}

// DueSoon returns open loans that are not yet overdue but fall due within
// windowDays of asOf.
func (s *lendingService) DueSoon(ctx context.Context, asOf time.Time, windowDays int) ([]models.BorrowRecord, error) {
	day := DateOf(asOf)
	candidates, err := s.recordRepo.ListOpenDueBefore(s.db.WithContext(ctx), day.AddDate(0, 0, windowDays+1))
	if err != nil {
		return nil, err
	}
	var due []models.BorrowRecord
	for _, record := range candidates {
		if !storedDay(record.DueDate).Before(day) {
			due = append(due, record)
		}
	}
	return due, nil
}

// Overdue returns open loans whose due date has passed on asOf.
func (s *lendingService) Overdue(ctx context.Context, asOf time.Time) ([]models.BorrowRecord, error) {
	return s.recordRepo.ListOpenDueBefore(s.db.WithContext(ctx), DateOf(asOf))
}

// SendReminders publishes a due-soon event for every loan due within windowDays
// and an overdue event for every loan past due.
func (s *lendingService) SendReminders(ctx context.Context, asOf time.Time, windowDays int) (ReminderSummary, error) {
	var summary ReminderSummary

	dueSoon, err := s.DueSoon(ctx, asOf, windowDays)
	if err != nil {
		return summary, err
	}
	overdue, err := s.Overdue(ctx, asOf)
	if err != nil {
		return summary, err
	}

	send := func(t notify.EventType, record models.BorrowRecord) bool {
		err := s.publisher.Publish(ctx, notify.Event{
			Type:       t,
			OccurredAt: time.Now().UTC(),
			Payload:    loanPayload(record, asOf),
		})
		if err != nil {
			summary.Failed++
			log.Error().Err(err).Str("op", "SendReminders").Str("record", record.ID.String()).Msg("reminder not sent")
			return false
		}
		return true
	}
	for _, record := range dueSoon {
		if send(notify.EventLoanDueSoon, record) {
			summary.DueSoon++
		}
	}
	for _, record := range overdue {
		if send(notify.EventLoanOverdue, record) {
			summary.Overdue++
		}
	}

	log.Info().Str("op", "SendReminders").
		Int("due_soon", summary.DueSoon).Int("overdue", summary.Overdue).Int("failed", summary.Failed).
		Msg("reminders sent")
	return summary, nil
}

// ─── Reservations ─────────────────────────────────────────────────────────────

// ReserveBook queues the member for a book that has no copy on the shelf.
func (s *lendingService) ReserveBook(ctx context.Context, memberID, bookID uuid.UUID) (*models.Reservation, error) {
	var reservation *models.Reservation

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.memberRepo.GetByID(tx, memberID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMemberNotFound
			}
			return err
		}
		book, err := s.bookRepo.GetByIDForUpdate(tx, bookID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return err
		}
		if !book.IsActive() {
			return ErrBookUnavailable
		}
		if book.AvailableCopies > 0 {
			return ErrBookAvailable
		}

		existing, err := s.reservationRepo.GetActiveByBookAndMember(tx, bookID, memberID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if existing != nil {
			return ErrDuplicateReservation
		}

		reservation, err = s.createReservationWithRetry(tx, bookID, memberID)
		return err
	})
	if err != nil {
		log.Warn().Err(err).Str("op", "ReserveBook").
			Str("member", memberID.String()).Str("book", bookID.String()).
			Msg("reservation refused")
		return nil, err
	}
	log.Info().Str("op", "ReserveBook").
		Str("reservation", reservation.ID.String()).Int("position", reservation.QueuePosition).
		Msg("reservation created")
	return reservation, nil
}

func (s *lendingService) CancelReservation(ctx context.Context, reservationID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res, err := s.reservationRepo.GetByID(tx, reservationID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrReservationNotFound
			}
			return err
		}
		if res.Status != models.ReservationStatusActive {
			return ErrReservationClosed
		}
		log.Info().Str("op", "CancelReservation").Str("reservation", reservationID.String()).Msg("reservation cancelled")
		return s.reservationRepo.UpdateStatus(tx, reservationID, models.ReservationStatusCancelled)
	})
}

// ListReservationsForBook returns the active queue for a book, in order.
func (s *lendingService) ListReservationsForBook(ctx context.Context, bookID uuid.UUID) ([]models.Reservation, error) {
	return s.reservationRepo.ListByBook(s.db.WithContext(ctx), bookID)
}

// ─── Fines ────────────────────────────────────────────────────────────────────

// PayFine settles part or all of a member's outstanding fine.
func (s *lendingService) PayFine(ctx context.Context, memberID uuid.UUID, amount decimal.Decimal) (*models.Member, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	var member *models.Member

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.memberRepo.GetByIDForUpdate(tx, memberID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMemberNotFound
			}
			return err
		}
		if amount.GreaterThan(locked.OutstandingFine) {
			return ErrOverpayment
		}
		if err := s.memberRepo.SetOutstandingFine(tx, memberID, locked.OutstandingFine.Sub(amount)); err != nil {
			return err
		}
		member, err = s.memberRepo.GetByID(tx, memberID)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("op", "PayFine").Str("member", memberID.String()).
		Str("paid", amount.StringFixed(2)).Str("outstanding", member.OutstandingFine.StringFixed(2)).
		Msg("fine payment recorded")
	s.committed()
	return member, nil
}

// ─── Reconciliation ───────────────────────────────────────────────────────────

// Reconcile recomputes available_copies and current_borrow_count from the open
// borrow records and corrects any counter that drifted.
func (s *lendingService) Reconcile(ctx context.Context) (ReconcileReport, error) {
	report := ReconcileReport{BooksFixed: []uuid.UUID{}, MembersFixed: []uuid.UUID{}}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		openByBook, err := s.recordRepo.CountOpenByBook(tx)
		if err != nil {
			return err
		}
		openByMember, err := s.recordRepo.CountOpenByMember(tx)
		if err != nil {
			return err
		}

		books, err := s.bookRepo.List(tx, "")
		if err != nil {
			return err
		}
		for _, book := range books {
			want := book.TotalCopies - openByBook[book.ID]
			if want < 0 {
				log.Error().Str("op", "Reconcile").Str("book", book.ID.String()).
					Int("total", book.TotalCopies).Int("open", openByBook[book.ID]).
					Msg("more open loans than copies")
				want = 0
			}
			if want == book.AvailableCopies {
				continue
			}
			if err := s.bookRepo.SetAvailableCopies(tx, book.ID, want); err != nil {
				return err
			}
			log.Warn().Str("op", "Reconcile").Str("book", book.ID.String()).
				Int("was", book.AvailableCopies).Int("now", want).Msg("available copies corrected")
			report.BooksFixed = append(report.BooksFixed, book.ID)
		}

		members, err := s.memberRepo.List(tx)
		if err != nil {
			return err
		}
		for _, member := range members {
			want := openByMember[member.ID]
			if want == member.CurrentBorrowCount {
				continue
			}
			if err := s.memberRepo.SetBorrowCount(tx, member.ID, want); err != nil {
				return err
			}
			log.Warn().Str("op", "Reconcile").Str("member", member.ID.String()).
				Int("was", member.CurrentBorrowCount).Int("now", want).Msg("borrow count corrected")
			report.MembersFixed = append(report.MembersFixed, member.ID)
		}
		return nil
	})
	if err != nil {
		return ReconcileReport{}, err
	}
	if len(report.BooksFixed)+len(report.MembersFixed) > 0 {
		s.committed()
	}
	return report, nil
}

// ─── Internal Helpers ─────────────────────────────────────────────────────────

// createReservationWithRetry appends the member to the book's queue. When the
// queue is empty there are no rows to lock, so two requests can both pick
// position 1; the loser hits the (book_id, queue_position) unique index, rolls
// back to the savepoint and retries once with a fresh position.
func (s *lendingService) createReservationWithRetry(tx *gorm.DB, bookID, memberID uuid.UUID) (*models.Reservation, error) {
	for attempt := 0; ; attempt++ {
		pos, err := s.reservationRepo.GetNextQueuePosition(tx, bookID)
		if err != nil {
			return nil, err
		}
		res := &models.Reservation{
			BookID:        bookID,
			MemberID:      memberID,
			Status:        models.ReservationStatusActive,
			QueuePosition: pos,
			CreatedAt:     time.Now().UTC(),
		}

		if err := tx.SavePoint("reserve").Error; err != nil {
			return nil, err
		}
		err = s.reservationRepo.Create(tx, res)
		if err == nil {
			return res, nil
		}
		if attempt > 0 || !isUniqueViolation(err) {
			return nil, err
		}
		log.Warn().Str("op", "ReserveBook").Str("book", bookID.String()).Int("position", pos).
			Msg("queue position collision, retrying")
		if err := tx.RollbackTo("reserve").Error; err != nil {
			return nil, err
		}
	}
}

func (s *lendingService) committed() {
	for _, fn := range s.afterCommit {
		fn()
	}
}

func (s *lendingService) publish(ctx context.Context, evt notify.Event) {
	if err := s.publisher.Publish(ctx, evt); err != nil {
		log.Error().Err(err).Str("event", string(evt.Type)).Msg("failed to publish event")
	}
}

func loanPayload(record models.BorrowRecord, asOf time.Time) notify.LoanPayload {
	return notify.LoanPayload{
		RecordID:    record.ID.String(),
		BookID:      record.BookID.String(),
		BookTitle:   record.Book.Title,
		MemberID:    record.MemberID.String(),
		MemberName:  record.Member.User.Name,
		MemberEmail: record.Member.User.Email,
		DueDate:     record.DueDate,
		ReturnDate:  record.ReturnDate,
		OverdueDays: OverdueDays(record, asOf),
		Fine:        ComputeOverdueFine(record, asOf).StringFixed(2),
	}
}

package services

import (
	"time"

	"github.com/shopspring/decimal"

	"libraryledger/internal/models"
)

// ─── Lending Rules ────────────────────────────────────────────────────────────

const (
	// LoanPeriodDays is the number of days between borrow date and due date.
	LoanPeriodDays = 14

	// MaxActiveLoans is the most open loans a member may hold at once.
	MaxActiveLoans = 3
)

// FinePerDay is charged for every whole day a loan is overdue.
var FinePerDay = decimal.NewFromInt(2)

// DateOf truncates t to its calendar day, expressed at midnight UTC. All ledger
// dates are stored this way so day arithmetic is exact.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// storedDay is the calendar day of a date read from the ledger. Stored dates are
// midnight UTC instants, so they are truncated in UTC whatever zone they carry.
func storedDay(t time.Time) time.Time {
	return DateOf(t.UTC())
}

// DueDateFor returns the due date of a loan taken out on borrowedOn.
func DueDateFor(borrowedOn time.Time) time.Time {
	return DateOf(borrowedOn).AddDate(0, 0, LoanPeriodDays)
}

// daysBetween counts whole calendar days from a to b; negative when b is before a.
// Both must already be day values.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

// OverdueDays is the number of whole days past due. A returned record is
// measured at its return date, an open one at asOf's calendar day. Never negative.
func OverdueDays(record models.BorrowRecord, asOf time.Time) int {
	end := DateOf(asOf)
	if record.ReturnDate != nil {
		end = storedDay(*record.ReturnDate)
	}
	days := daysBetween(storedDay(record.DueDate), end)
	if days < 0 {
		return 0
	}
	return days
}

// ComputeOverdueFine returns OverdueDays × FinePerDay. It has no side effects and
// is shared by the return flow and read-only views.
func ComputeOverdueFine(record models.BorrowRecord, asOf time.Time) decimal.Decimal {
	return FinePerDay.Mul(decimal.NewFromInt(int64(OverdueDays(record, asOf))))
}

// EffectiveStatus reports OVERDUE for an open record that is past due on asOf.
func EffectiveStatus(record models.BorrowRecord, asOf time.Time) models.BorrowStatus {
	if record.IsReturned() {
		return models.BorrowStatusReturned
	}
	if OverdueDays(record, asOf) > 0 {
		return models.BorrowStatusOverdue
	}
	return models.BorrowStatusBorrowed
}

// LoanView is a borrow record with its derived state evaluated on a given day.
type LoanView struct {
	models.BorrowRecord
	BookTitle    string              `json:"book_title,omitempty"`
	Status       models.BorrowStatus `json:"status"`
	IsOverdue    bool                `json:"is_overdue"`
	OverdueDays  int                 `json:"overdue_days"`
	CurrentFine  decimal.Decimal     `json:"current_fine"`
	EvaluatedFor time.Time           `json:"evaluated_for"`
}

// DescribeLoan evaluates the derived fields of record on asOf.
func DescribeLoan(record models.BorrowRecord, asOf time.Time) LoanView {
	status := EffectiveStatus(record, asOf)
	return LoanView{
		BorrowRecord: record,
		BookTitle:    record.Book.Title,
		Status:       status,
		IsOverdue:    status == models.BorrowStatusOverdue,
		OverdueDays:  OverdueDays(record, asOf),
		CurrentFine:  ComputeOverdueFine(record, asOf),
		EvaluatedFor: DateOf(asOf),
	}
}

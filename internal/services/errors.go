package services

import "errors"

// ─── Sentinel Errors ──────────────────────────────────────────────────────────

var (
	// ErrBorrowLimitExceeded is returned when the member already holds
	// MaxActiveLoans open loans.
	ErrBorrowLimitExceeded = errors.New("borrow limit exceeded")

	// ErrBookUnavailable is returned when the book has no available copies or has
	// been withdrawn.
	ErrBookUnavailable = errors.New("book unavailable")

	// ErrMembershipInactive is returned when the member is suspended or the
	// membership has expired.
	ErrMembershipInactive = errors.New("membership inactive")

	// ErrOutstandingFineBlock is returned when unpaid fines exceed the configured
	// threshold.
	ErrOutstandingFineBlock = errors.New("outstanding fines block borrowing")

	// ErrRecordAlreadyReturned is returned when a return is attempted on a closed
	// borrow record.
	ErrRecordAlreadyReturned = errors.New("borrow record already returned")

	// ErrRecordNotFound is returned when the borrow record does not exist.
	ErrRecordNotFound = errors.New("borrow record not found")

	ErrBookNotFound        = errors.New("book not found")
	ErrMemberNotFound      = errors.New("member not found")
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrDuplicateReservation is returned when the member already has an active
	// reservation for the same book.
	ErrDuplicateReservation = errors.New("member already has an active reservation for this book")

	// ErrBookAvailable is returned when a reservation is requested for a book that
	// can be borrowed right away.
	ErrBookAvailable = errors.New("book has available copies, borrow it instead")

	ErrReservationClosed  = errors.New("reservation is no longer active")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrOverpayment        = errors.New("payment exceeds outstanding fine")
	ErrReturnBeforeBorrow = errors.New("return date is before borrow date")
	ErrInvalidCopies      = errors.New("number of copies must not be negative")

	// ErrInvalidInput is returned when a required catalogue field is missing or malformed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicate is returned when a unique key (ISBN, barcode, name, email) is already taken.
	ErrDuplicate = errors.New("already exists")

	// ErrReferenceNotFound is returned when a referenced author, category or
	// publisher does not exist.
	ErrReferenceNotFound = errors.New("referenced author, category or publisher not found")

	// ErrCounterDrift means a stored counter disagrees with the borrow records.
	// Run Reconcile to repair it.
	ErrCounterDrift = errors.New("copy or loan counter out of sync with borrow records")
)

package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type UserRole string

const (
	UserRoleMember    UserRole = "MEMBER"
	UserRoleLibrarian UserRole = "LIBRARIAN"
)

type BookStatus string

const (
	BookStatusActive    BookStatus = "ACTIVE"
	BookStatusWithdrawn BookStatus = "WITHDRAWN"
)

type MemberStatus string

const (
	MemberStatusActive    MemberStatus = "ACTIVE"
	MemberStatusSuspended MemberStatus = "SUSPENDED"
)

// BorrowStatus is the lifecycle state of a BorrowRecord. Only BORROWED and
// RETURNED are persisted; OVERDUE is derived on read.
type BorrowStatus string

const (
	BorrowStatusBorrowed BorrowStatus = "BORROWED"
	BorrowStatusReturned BorrowStatus = "RETURNED"
	BorrowStatusOverdue  BorrowStatus = "OVERDUE"
)

type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "ACTIVE"
	ReservationStatusFulfilled ReservationStatus = "FULFILLED"
	ReservationStatusCancelled ReservationStatus = "CANCELLED"
)

// MembershipPeriodDays is how long a membership stays valid after joining.
const MembershipPeriodDays = 365

type User struct {
	ID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name  string    `gorm:"size:255;not null" json:"name"`
	Email string    `gorm:"size:255;uniqueIndex" json:"email"`
	Role  UserRole  `gorm:"size:20;not null" json:"role"`
}

type Category struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string    `gorm:"size:50;not null;uniqueIndex" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type Author struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string    `gorm:"size:100;not null;uniqueIndex" json:"name"`
	Bio         string    `gorm:"type:text" json:"bio"`
	Nationality string    `gorm:"size:50" json:"nationality"`
	CreatedAt   time.Time `json:"created_at"`
}

type Publisher struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"size:100;not null;uniqueIndex" json:"name"`
	Address   string    `gorm:"type:text" json:"address"`
	Website   string    `gorm:"size:255" json:"website"`
	CreatedAt time.Time `json:"created_at"`
}

type Book struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Title           string     `gorm:"size:200;not null;index" json:"title"`
	Subtitle        string     `gorm:"size:200" json:"subtitle"`
	ISBN            string     `gorm:"column:isbn;size:13;not null;uniqueIndex" json:"isbn"`
	PublisherID     *uuid.UUID `gorm:"type:uuid" json:"publisher_id"`
	Publisher       *Publisher `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;" json:"publisher,omitempty"`
	Authors         []Author   `gorm:"many2many:book_authors;" json:"authors,omitempty"`
	Categories      []Category `gorm:"many2many:book_categories;" json:"categories,omitempty"`
	TotalCopies     int        `gorm:"not null;default:0" json:"total_copies"`
	AvailableCopies int        `gorm:"not null;default:0" json:"available_copies"`
	Barcode         string     `gorm:"size:50;not null;uniqueIndex" json:"barcode"`
	Status          BookStatus `gorm:"size:20;not null;index" json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type Member struct {
	ID                 uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	UserID             uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	User               User            `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"user"`
	MemberNumber       string          `gorm:"size:10;not null;uniqueIndex" json:"member_number"`
	Status             MemberStatus    `gorm:"size:20;not null" json:"status"`
	OutstandingFine    decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0" json:"outstanding_fine"`
	CurrentBorrowCount int             `gorm:"not null;default:0" json:"current_borrow_count"`
	MembershipDate     time.Time       `gorm:"not null" json:"membership_date"`
	ExpiresOn          time.Time       `gorm:"not null" json:"expires_on"`
}

type BorrowRecord struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	BookID     uuid.UUID       `gorm:"type:uuid;not null;index" json:"book_id"`
	Book       Book            `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	MemberID   uuid.UUID       `gorm:"type:uuid;not null;index" json:"member_id"`
	Member     Member          `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	BorrowDate time.Time       `gorm:"not null;index" json:"borrow_date"`
	DueDate    time.Time       `gorm:"not null;index" json:"due_date"`
	ReturnDate *time.Time      `gorm:"index" json:"return_date"`
	FineAmount decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0" json:"fine_amount"`
	Status     BorrowStatus    `gorm:"size:20;not null;index" json:"status"`
}

type Reservation struct {
	ID            uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	BookID        uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_reservation_queue,priority:1" json:"book_id"`
	Book          Book              `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	MemberID      uuid.UUID         `gorm:"type:uuid;not null;index" json:"member_id"`
	Member        Member            `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Status        ReservationStatus `gorm:"size:20;not null;index" json:"status"`
	QueuePosition int               `gorm:"not null;uniqueIndex:idx_reservation_queue,priority:2" json:"queue_position"`
	CreatedAt     time.Time         `gorm:"not null" json:"created_at"`
}

// All lists every persisted model in dependency order, for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Category{},
		&Author{},
		&Publisher{},
		&Book{},
		&Member{},
		&BorrowRecord{},
		&Reservation{},
	}
}

func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func (u *User) BeforeCreate(*gorm.DB) error      { ensureID(&u.ID); return nil }
func (c *Category) BeforeCreate(*gorm.DB) error  { ensureID(&c.ID); return nil }
func (a *Author) BeforeCreate(*gorm.DB) error    { ensureID(&a.ID); return nil }
func (p *Publisher) BeforeCreate(*gorm.DB) error { ensureID(&p.ID); return nil }

func (r *BorrowRecord) BeforeCreate(*gorm.DB) error { ensureID(&r.ID); return nil }

// AfterFind returns the ledger dates in UTC; the postgres driver decodes
// timestamptz into the process zone.
func (r *BorrowRecord) AfterFind(*gorm.DB) error {
	r.BorrowDate = r.BorrowDate.UTC()
	r.DueDate = r.DueDate.UTC()
	if r.ReturnDate != nil {
		returned := r.ReturnDate.UTC()
		r.ReturnDate = &returned
	}
	return nil
}
func (r *Reservation) BeforeCreate(*gorm.DB) error  { ensureID(&r.ID); return nil }

// BeforeCreate assigns an id and a barcode, and defaults the status to ACTIVE.
func (b *Book) BeforeCreate(*gorm.DB) error {
	ensureID(&b.ID)
	if b.Barcode == "" {
		b.Barcode = NewBarcode()
	}
	if b.Status == "" {
		b.Status = BookStatusActive
	}
	return nil
}

// BeforeCreate fills in the membership window and the member number.
func (m *Member) BeforeCreate(*gorm.DB) error {
	ensureID(&m.ID)
	if m.Status == "" {
		m.Status = MemberStatusActive
	}
	if m.MembershipDate.IsZero() {
		m.MembershipDate = time.Now().UTC()
	}
	if m.ExpiresOn.IsZero() {
		m.ExpiresOn = m.MembershipDate.AddDate(0, 0, MembershipPeriodDays)
	}
	if m.MemberNumber == "" {
		m.MemberNumber = "M" + strings.ToUpper(strings.ReplaceAll(m.ID.String(), "-", "")[:9])
	}
	return nil
}

// NewBarcode returns a library barcode identifier: "LIB" followed by eight
// uppercase hex characters.
func NewBarcode() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("LIB%s", strings.ToUpper(hex[:8]))
}

// IsActiveOn reports whether the member may borrow on the given day.
func (m *Member) IsActiveOn(day time.Time) bool {
	if m.Status != MemberStatusActive {
		return false
	}
	return !day.After(m.ExpiresOn)
}

func (b *Book) IsActive() bool { return b.Status == BookStatusActive }

func (r *BorrowRecord) IsReturned() bool { return r.ReturnDate != nil }

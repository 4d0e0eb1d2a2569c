package repositories

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"libraryledger/internal/models"
)

type UserRepository interface {
	Create(db *gorm.DB, user *models.User) error
}

type MemberRepository interface {
	Create(db *gorm.DB, member *models.Member) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.Member, error)
	GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Member, error)
	List(db *gorm.DB) ([]models.Member, error)
	UpdateStatus(db *gorm.DB, id uuid.UUID, status models.MemberStatus) error
	IncrementBorrowCount(db *gorm.DB, id uuid.UUID, limit int) (bool, error)
	DecrementBorrowCount(db *gorm.DB, id uuid.UUID) (bool, error)
	SetBorrowCount(db *gorm.DB, id uuid.UUID, count int) error
	SetOutstandingFine(db *gorm.DB, id uuid.UUID, amount decimal.Decimal) error
}

type BookRepository interface {
	Create(db *gorm.DB, book *models.Book) error
	List(db *gorm.DB, query string) ([]models.Book, error)
	GetByID(db *gorm.DB, id uuid.UUID) (*models.Book, error)
	GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Book, error)
	GetByCode(db *gorm.DB, code string) (*models.Book, error)
	AddCopies(db *gorm.DB, id uuid.UUID, delta int) error
	TakeCopy(db *gorm.DB, id uuid.UUID) (bool, error)
	ReleaseCopy(db *gorm.DB, id uuid.UUID) (bool, error)
	SetAvailableCopies(db *gorm.DB, id uuid.UUID, available int) error
	UpdateStatus(db *gorm.DB, id uuid.UUID, status models.BookStatus) error
}

type BorrowRecordRepository interface {
	Create(db *gorm.DB, record *models.BorrowRecord) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.BorrowRecord, error)
	GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.BorrowRecord, error)
	MarkReturned(db *gorm.DB, id uuid.UUID, returnedOn time.Time, fine decimal.Decimal) (bool, error)
	ListByMember(db *gorm.DB, memberID uuid.UUID) ([]models.BorrowRecord, error)
	ListOpen(db *gorm.DB) ([]models.BorrowRecord, error)
	ListOpenDueBefore(db *gorm.DB, cutoff time.Time) ([]models.BorrowRecord, error)
	CountOpenByBook(db *gorm.DB) (map[uuid.UUID]int, error)
	CountOpenByMember(db *gorm.DB) (map[uuid.UUID]int, error)
}

type ReservationRepository interface {
	Create(db *gorm.DB, reservation *models.Reservation) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.Reservation, error)
	GetActiveByBookAndMember(db *gorm.DB, bookID, memberID uuid.UUID) (*models.Reservation, error)
	GetNextActiveForBook(db *gorm.DB, bookID uuid.UUID) (*models.Reservation, error)
	UpdateStatus(db *gorm.DB, id uuid.UUID, status models.ReservationStatus) error
	GetNextQueuePosition(db *gorm.DB, bookID uuid.UUID) (int, error)
	ListByBook(db *gorm.DB, bookID uuid.UUID) ([]models.Reservation, error)
}

type ReferenceRepository interface {
	CreateCategory(db *gorm.DB, category *models.Category) error
	ListCategories(db *gorm.DB) ([]models.Category, error)
	FindCategories(db *gorm.DB, ids []uuid.UUID) ([]models.Category, error)
	CreateAuthor(db *gorm.DB, author *models.Author) error
	ListAuthors(db *gorm.DB) ([]models.Author, error)
	FindAuthors(db *gorm.DB, ids []uuid.UUID) ([]models.Author, error)
	CreatePublisher(db *gorm.DB, publisher *models.Publisher) error
	ListPublishers(db *gorm.DB) ([]models.Publisher, error)
}

// concrete implementations

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(db *gorm.DB, user *models.User) error {
	if db == nil {
		db = r.db
	}
	return errors.Wrap(db.Create(user).Error, "create user")
}

type memberRepository struct {
	db *gorm.DB
}

func NewMemberRepository(db *gorm.DB) MemberRepository {
	return &memberRepository{db: db}
}

func (r *memberRepository) Create(db *gorm.DB, member *models.Member) error {
	if db == nil {
		db = r.db
	}
	return errors.Wrap(db.Create(member).Error, "create member")
}

func (r *memberRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.Member, error) {
	if db == nil {
		db = r.db
	}
	var member models.Member
	if err := db.Preload("User").First(&member, "id = ?", id).Error; err != nil {
		return nil, errors.Wrapf(err, "get member %s", id)
	}
	return &member, nil
}

func (r *memberRepository) GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Member, error) {
	if db == nil {
		db = r.db
	}
	var member models.Member
	err := db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("User").
		First(&member, "id = ?", id).Error
	if err != nil {
		return nil, errors.Wrapf(err, "lock member %s", id)
	}
	return &member, nil
}

func (r *memberRepository) List(db *gorm.DB) ([]models.Member, error) {
	if db == nil {
		db = r.db
	}
	var members []models.Member
	if err := db.Preload("User").Order("member_number").Find(&members).Error; err != nil {
		return nil, errors.Wrap(err, "list members")
	}
	return members, nil
}

func (r *memberRepository) UpdateStatus(db *gorm.DB, id uuid.UUID, status models.MemberStatus) error {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.Member{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update member %s status", id)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(gorm.ErrRecordNotFound, "update member %s status", id)
	}
	return nil
}

// IncrementBorrowCount bumps current_borrow_count only while it is below limit.
// The boolean reports whether the row was updated.
func (r *memberRepository) IncrementBorrowCount(db *gorm.DB, id uuid.UUID, limit int) (bool, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.Member{}).
		Where("id = ? AND current_borrow_count < ?", id, limit).
		UpdateColumn("current_borrow_count", gorm.Expr("current_borrow_count + 1"))
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "increment borrow count for member %s", id)
	}
	return res.RowsAffected == 1, nil
}

func (r *memberRepository) DecrementBorrowCount(db *gorm.DB, id uuid.UUID) (bool, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.Member{}).
		Where("id = ? AND current_borrow_count > 0", id).
		UpdateColumn("current_borrow_count", gorm.Expr("current_borrow_count - 1"))
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "decrement borrow count for member %s", id)
	}
	return res.RowsAffected == 1, nil
}

func (r *memberRepository) SetBorrowCount(db *gorm.DB, id uuid.UUID, count int) error {
	if db == nil {
		db = r.db
	}
	return errors.Wrapf(db.Model(&models.Member{}).
		Where("id = ?", id).
		UpdateColumn("current_borrow_count", count).Error, "set borrow count for member %s", id)
}

func (r *memberRepository) SetOutstandingFine(db *gorm.DB, id uuid.UUID, amount decimal.Decimal) error {
	if db == nil {
		db = r.db
	}
	return errors.Wrapf(db.Model(&models.Member{}).
		Where("id = ?", id).
		UpdateColumn("outstanding_fine", amount).Error, "set outstanding fine for member %s", id)
}

type bookRepository struct {
	db *gorm.DB
}

func NewBookRepository(db *gorm.DB) BookRepository {
	return &bookRepository{db: db}
}

func (r *bookRepository) Create(db *gorm.DB, book *models.Book) error {
	if db == nil {
		db = r.db
	}
	return errors.Wrap(db.Create(book).Error, "create book")
}

// List returns books ordered by title. A non-empty query matches title,
// subtitle or author name, case-insensitively.
func (r *bookRepository) List(db *gorm.DB, query string) ([]models.Book, error) {
	if db == nil {
		db = r.db
	}
	q := db.Preload("Authors").Preload("Categories").Preload("Publisher").Order("title")
	if query = strings.TrimSpace(query); query != "" {
		like := "%" + strings.ToLower(query) + "%"
		q = q.Where(
			"LOWER(title) LIKE ? OR LOWER(subtitle) LIKE ? OR id IN (?)",
			like, like,
			db.Table("book_authors").
				Select("book_authors.book_id").
				Joins("JOIN authors ON authors.id = book_authors.author_id").
				Where("LOWER(authors.name) LIKE ?", like),
		)
	}
	var books []models.Book
	if err := q.Find(&books).Error; err != nil {
		return nil, errors.Wrap(err, "list books")
	}
	return books, nil
}

func (r *bookRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.Book, error) {
	if db == nil {
		db = r.db
	}
	var book models.Book
	err := db.Preload("Authors").Preload("Categories").Preload("Publisher").
		First(&book, "id = ?", id).Error
	if err != nil {
		return nil, errors.Wrapf(err, "get book %s", id)
	}
	return &book, nil
}

func (r *bookRepository) GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Book, error) {
	if db == nil {
		db = r.db
	}
	var book models.Book
	err := db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&book, "id = ?", id).Error
	if err != nil {
		return nil, errors.Wrapf(err, "lock book %s", id)
	}
	return &book, nil
}

// GetByCode resolves a scanned code: barcode first, then ISBN.
func (r *bookRepository) GetByCode(db *gorm.DB, code string) (*models.Book, error) {
	if db == nil {
		db = r.db
	}
	var book models.Book
	err := db.Where("barcode = ?", code).First(&book).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = db.Where("isbn = ?", code).First(&book).Error
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get book by code %q", code)
	}
	return &book, nil
}

// AddCopies grows both total_copies and available_copies by delta.
func (r *bookRepository) AddCopies(db *gorm.DB, id uuid.UUID, delta int) error {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.Book{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"total_copies":     gorm.Expr("total_copies + ?", delta),
			"available_copies": gorm.Expr("available_copies + ?", delta),
		})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "add %d copies to book %s", delta, id)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(gorm.ErrRecordNotFound, "add copies to book %s", id)
	}
	return nil
}

// TakeCopy decrements available_copies of an active book if one is left.
func (r *bookRepository) TakeCopy(db *gorm.DB, id uuid.UUID) (bool, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.Book{}).
		Where("id = ? AND status = ? AND available_copies > 0", id, models.BookStatusActive).
		UpdateColumn("available_copies", gorm.Expr("available_copies - 1"))
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "take copy of book %s", id)
	}
	return res.RowsAffected == 1, nil
}

// ReleaseCopy increments available_copies without exceeding total_copies.
func (r *bookRepository) ReleaseCopy(db *gorm.DB, id uuid.UUID) (bool, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.Book{}).
		Where("id = ? AND available_copies < total_copies", id).
		UpdateColumn("available_copies", gorm.Expr("available_copies + 1"))
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "release copy of book %s", id)
	}
	return res.RowsAffected == 1, nil
}

func (r *bookRepository) SetAvailableCopies(db *gorm.DB, id uuid.UUID, available int) error {
	if db == nil {
		db = r.db
	}
	return errors.Wrapf(db.Model(&models.Book{}).
		Where("id = ?", id).
		UpdateColumn("available_copies", available).Error, "set available copies of book %s", id)
}

func (r *bookRepository) UpdateStatus(db *gorm.DB, id uuid.UUID, status models.BookStatus) error {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.Book{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update book %s status", id)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(gorm.ErrRecordNotFound, "update book %s status", id)
	}
	return nil
}

type borrowRecordRepository struct {
	db *gorm.DB
}

func NewBorrowRecordRepository(db *gorm.DB) BorrowRecordRepository {
	return &borrowRecordRepository{db: db}
}

func (r *borrowRecordRepository) Create(db *gorm.DB, record *models.BorrowRecord) error {
	if db == nil {
		db = r.db
	}
	return errors.Wrap(db.Create(record).Error, "create borrow record")
}

func (r *borrowRecordRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.BorrowRecord, error) {
	if db == nil {
		db = r.db
	}
	var record models.BorrowRecord
	if err := db.First(&record, "id = ?", id).Error; err != nil {
		return nil, errors.Wrapf(err, "get borrow record %s", id)
	}
	return &record, nil
}

func (r *borrowRecordRepository) GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.BorrowRecord, error) {
	if db == nil {
		db = r.db
	}
	var record models.BorrowRecord
	err := db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&record, "id = ?", id).Error
	if err != nil {
		return nil, errors.Wrapf(err, "lock borrow record %s", id)
	}
	return &record, nil
}

// MarkReturned closes an open record. It reports false when the record was
// already closed.
func (r *borrowRecordRepository) MarkReturned(db *gorm.DB, id uuid.UUID, returnedOn time.Time, fine decimal.Decimal) (bool, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.BorrowRecord{}).
		Where("id = ? AND return_date IS NULL", id).
		Updates(map[string]interface{}{
			"return_date": returnedOn,
			"fine_amount": fine,
			"status":      models.BorrowStatusReturned,
		})
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "mark borrow record %s returned", id)
	}
	return res.RowsAffected == 1, nil
}

func (r *borrowRecordRepository) ListByMember(db *gorm.DB, memberID uuid.UUID) ([]models.BorrowRecord, error) {
	if db == nil {
		db = r.db
	}
	var records []models.BorrowRecord
	err := db.Preload("Book").
		Where("member_id = ?", memberID).
		Order("borrow_date DESC").
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrapf(err, "list borrow records of member %s", memberID)
	}
	return records, nil
}

func (r *borrowRecordRepository) ListOpen(db *gorm.DB) ([]models.BorrowRecord, error) {
	if db == nil {
		db = r.db
	}
	var records []models.BorrowRecord
	err := db.Preload("Book").Preload("Member.User").
		Where("return_date IS NULL").
		Order("due_date").
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(err, "list open borrow records")
	}
	return records, nil
}

// ListOpenDueBefore returns open records whose due date is strictly before cutoff.
func (r *borrowRecordRepository) ListOpenDueBefore(db *gorm.DB, cutoff time.Time) ([]models.BorrowRecord, error) {
	if db == nil {
		db = r.db
	}
	var records []models.BorrowRecord
	err := db.Preload("Book").Preload("Member.User").
		Where("return_date IS NULL AND due_date < ?", cutoff).
		Order("due_date").
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(err, "list open borrow records due before cutoff")
	}
	return records, nil
}

type openCount struct {
	ID uuid.UUID
	N  int
}

func (r *borrowRecordRepository) countOpenBy(db *gorm.DB, column string) (map[uuid.UUID]int, error) {
	if db == nil {
		db = r.db
	}
	var rows []openCount
	err := db.Model(&models.BorrowRecord{}).
		Select(column + " AS id, COUNT(*) AS n").
		Where("return_date IS NULL").
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(err, "count open borrow records by %s", column)
	}
	counts := make(map[uuid.UUID]int, len(rows))
	for _, row := range rows {
		counts[row.ID] = row.N
	}
	return counts, nil
}

func (r *borrowRecordRepository) CountOpenByBook(db *gorm.DB) (map[uuid.UUID]int, error) {
	return r.countOpenBy(db, "book_id")
}

func (r *borrowRecordRepository) CountOpenByMember(db *gorm.DB) (map[uuid.UUID]int, error) {
	return r.countOpenBy(db, "member_id")
}

type reservationRepository struct {
	db *gorm.DB
}

func NewReservationRepository(db *gorm.DB) ReservationRepository {
	return &reservationRepository{db: db}
}

func (r *reservationRepository) Create(db *gorm.DB, reservation *models.Reservation) error {
	if db == nil {
		db = r.db
	}
	return errors.Wrap(db.Create(reservation).Error, "create reservation")
}

func (r *reservationRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.Reservation, error) {
	if db == nil {
		db = r.db
	}
	var res models.Reservation
	if err := db.First(&res, "id = ?", id).Error; err != nil {
		return nil, errors.Wrapf(err, "get reservation %s", id)
	}
	return &res, nil
}

func (r *reservationRepository) GetActiveByBookAndMember(db *gorm.DB, bookID, memberID uuid.UUID) (*models.Reservation, error) {
	if db == nil {
		db = r.db
	}
	var res models.Reservation
	err := db.Where("book_id = ? AND member_id = ? AND status = ?", bookID, memberID, models.ReservationStatusActive).
		First(&res).Error
	if err != nil {
		return nil, errors.Wrap(err, "get active reservation")
	}
	return &res, nil
}

func (r *reservationRepository) GetNextActiveForBook(db *gorm.DB, bookID uuid.UUID) (*models.Reservation, error) {
	if db == nil {
		db = r.db
	}
	var res models.Reservation
	err := db.Preload("Member.User").
		Where("book_id = ? AND status = ?", bookID, models.ReservationStatusActive).
		Order("queue_position ASC, created_at ASC").
		First(&res).Error
	if err != nil {
		return nil, errors.Wrapf(err, "get next reservation for book %s", bookID)
	}
	return &res, nil
}

func (r *reservationRepository) UpdateStatus(db *gorm.DB, id uuid.UUID, status models.ReservationStatus) error {
	if db == nil {
		db = r.db
	}
	return errors.Wrapf(db.Model(&models.Reservation{}).
		Where("id = ?", id).
		Update("status", status).Error, "update reservation %s status", id)
}

func (r *reservationRepository) GetNextQueuePosition(db *gorm.DB, bookID uuid.UUID) (int, error) {
	if db == nil {
		db = r.db
	}
	// Lock reservation rows for this book so MAX(queue_position) is stable under concurrency.
	var ids []uuid.UUID
	if err := db.Model(&models.Reservation{}).
		Where("book_id = ?", bookID).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Pluck("id", &ids).Error; err != nil {
		return 0, errors.Wrap(err, "lock reservations")
	}
	var maxPos int
	if err := db.Model(&models.Reservation{}).
		Where("book_id = ?", bookID).
		Select("COALESCE(MAX(queue_position), 0)").
		Scan(&maxPos).Error; err != nil {
		return 0, errors.Wrap(err, "max queue position")
	}
	return maxPos + 1, nil
}

func (r *reservationRepository) ListByBook(db *gorm.DB, bookID uuid.UUID) ([]models.Reservation, error) {
	if db == nil {
		db = r.db
	}
	var res []models.Reservation
	if err := db.Where("book_id = ? AND status = ?", bookID, models.ReservationStatusActive).
		Order("queue_position ASC").
		Find(&res).Error; err != nil {
		return nil, errors.Wrapf(err, "list reservations for book %s", bookID)
	}
	return res, nil
}

type referenceRepository struct {
	db *gorm.DB
}

func NewReferenceRepository(db *gorm.DB) ReferenceRepository {
	return &referenceRepository{db: db}
}

func (r *referenceRepository) CreateCategory(db *gorm.DB, category *models.Category) error {
	if db == nil {
		db = r.db
	}
	return errors.Wrap(db.Create(category).Error, "create category")
}

func (r *referenceRepository) ListCategories(db *gorm.DB) ([]models.Category, error) {
	if db == nil {
		db = r.db
	}
	var categories []models.Category
	if err := db.Order("name").Find(&categories).Error; err != nil {
		return nil, errors.Wrap(err, "list categories")
	}
	return categories, nil
}

func (r *referenceRepository) FindCategories(db *gorm.DB, ids []uuid.UUID) ([]models.Category, error) {
	if db == nil {
		db = r.db
	}
	var categories []models.Category
	if len(ids) == 0 {
		return categories, nil
	}
	if err := db.Where("id IN ?", ids).Find(&categories).Error; err != nil {
		return nil, errors.Wrap(err, "find categories")
	}
	return categories, nil
}

func (r *referenceRepository) CreateAuthor(db *gorm.DB, author *models.Author) error {
	if db == nil {
		db = r.db
	}
	return errors.Wrap(db.Create(author).Error, "create author")
}

func (r *referenceRepository) ListAuthors(db *gorm.DB) ([]models.Author, error) {
	if db == nil {
		db = r.db
	}
	var authors []models.Author
	if err := db.Order("name").Find(&authors).Error; err != nil {
		return nil, errors.Wrap(err, "list authors")
	}
	return authors, nil
}

func (r *referenceRepository) FindAuthors(db *gorm.DB, ids []uuid.UUID) ([]models.Author, error) {
	if db == nil {
		db = r.db
	}
	var authors []models.Author
	if len(ids) == 0 {
		return authors, nil
	}
	if err := db.Where("id IN ?", ids).Find(&authors).Error; err != nil {
		return nil, errors.Wrap(err, "find authors")
	}
	return authors, nil
}

func (r *referenceRepository) CreatePublisher(db *gorm.DB, publisher *models.Publisher) error {
	if db == nil {
		db = r.db
	}
	return errors.Wrap(db.Create(publisher).Error, "create publisher")
}

func (r *referenceRepository) ListPublishers(db *gorm.DB) ([]models.Publisher, error) {
	if db == nil {
		db = r.db
	}
	var publishers []models.Publisher
	if err := db.Order("name").Find(&publishers).Error; err != nil {
		return nil, errors.Wrap(err, "list publishers")
	}
	return publishers, nil
}

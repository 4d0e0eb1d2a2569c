package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"libraryledger/internal/models"
	"libraryledger/internal/repositories"
)

// CatalogService manages books, members and the reference tables around them.
type CatalogService interface {
	CreateBook(ctx context.Context, in CreateBookInput) (*models.Book, error)
	AddCopies(ctx context.Context, bookID uuid.UUID, copies int) (*models.Book, error)
	SetBookStatus(ctx context.Context, bookID uuid.UUID, status models.BookStatus) (*models.Book, error)
	GetBook(ctx context.Context, bookID uuid.UUID) (*models.Book, error)
	FindBookByCode(ctx context.Context, code string) (*models.Book, error)
	ListBooks(ctx context.Context, query string) ([]models.Book, error)

	CreateMember(ctx context.Context, in CreateMemberInput) (*models.Member, error)
	SetMemberStatus(ctx context.Context, memberID uuid.UUID, status models.MemberStatus) (*models.Member, error)
	GetMember(ctx context.Context, memberID uuid.UUID) (*models.Member, error)
	ListMembers(ctx context.Context) ([]models.Member, error)

	CreateCategory(ctx context.Context, category models.Category) (*models.Category, error)
	ListCategories(ctx context.Context) ([]models.Category, error)
	CreateAuthor(ctx context.Context, author models.Author) (*models.Author, error)
	ListAuthors(ctx context.Context) ([]models.Author, error)
	CreatePublisher(ctx context.Context, publisher models.Publisher) (*models.Publisher, error)
	ListPublishers(ctx context.Context) ([]models.Publisher, error)
}

type CreateBookInput struct {
	Title       string
	Subtitle    string
	ISBN        string
	PublisherID *uuid.UUID
	AuthorIDs   []uuid.UUID
	CategoryIDs []uuid.UUID
	Copies      int
}

type CreateMemberInput struct {
	Name  string
	Email string
	Role  models.UserRole
}

type catalogService struct {
	db         *gorm.DB
	userRepo   repositories.UserRepository
	memberRepo repositories.MemberRepository
	bookRepo   repositories.BookRepository
	refRepo    repositories.ReferenceRepository
}

func NewCatalogService(
	db *gorm.DB,
	userRepo repositories.UserRepository,
	memberRepo repositories.MemberRepository,
	bookRepo repositories.BookRepository,
	refRepo repositories.ReferenceRepository,
) CatalogService {
	return &catalogService{
		db:         db,
		userRepo:   userRepo,
		memberRepo: memberRepo,
		bookRepo:   bookRepo,
		refRepo:    refRepo,
	}
}

// ─── Book Management ──────────────────────────────────────────────────────────

// CreateBook creates a book with the requested number of copies, all available.
// Authors and categories must already exist.
func (s *catalogService) CreateBook(ctx context.Context, in CreateBookInput) (*models.Book, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.ISBN = normalizeISBN(in.ISBN)
	if in.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if len(in.ISBN) < 10 || len(in.ISBN) > 13 {
		return nil, fmt.Errorf("%w: isbn must have 10 to 13 characters", ErrInvalidInput)
	}
	if in.Copies < 0 {
		return nil, ErrInvalidCopies
	}

	book := &models.Book{
		Title:           in.Title,
		Subtitle:        strings.TrimSpace(in.Subtitle),
		ISBN:            in.ISBN,
		PublisherID:     in.PublisherID,
		TotalCopies:     in.Copies,
		AvailableCopies: in.Copies,
		Status:          models.BookStatusActive,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		authors, err := s.refRepo.FindAuthors(tx, in.AuthorIDs)
		if err != nil {
			return err
		}
		categories, err := s.refRepo.FindCategories(tx, in.CategoryIDs)
		if err != nil {
			return err
		}
		if len(authors) != len(uniqueIDs(in.AuthorIDs)) || len(categories) != len(uniqueIDs(in.CategoryIDs)) {
			return ErrReferenceNotFound
		}
		book.Authors = authors
		book.Categories = categories

		if err := s.bookRepo.Create(tx, book); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("book with isbn %s: %w", in.ISBN, ErrDuplicate)
			}
			if isForeignKeyViolation(err) {
				return ErrReferenceNotFound
			}
			return err
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("op", "CreateBook").Str("isbn", in.ISBN).Msg("failed to create book")
		return nil, err
	}
	log.Info().Str("op", "CreateBook").
		Str("book", book.ID.String()).Str("title", book.Title).Str("barcode", book.Barcode).Int("copies", in.Copies).
		Msg("book created")
	return book, nil
}

// AddCopies adds physical copies to an existing book, growing total and
// available counts together.
func (s *catalogService) AddCopies(ctx context.Context, bookID uuid.UUID, copies int) (*models.Book, error) {
	if copies <= 0 {
		return nil, ErrInvalidCopies
	}
	var book *models.Book
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.bookRepo.GetByIDForUpdate(tx, bookID); err != nil {
			return err
		}
		if err := s.bookRepo.AddCopies(tx, bookID, copies); err != nil {
			return err
		}
		var err error
		book, err = s.bookRepo.GetByID(tx, bookID)
		return err
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookNotFound
		}
		log.Error().Err(err).Str("op", "AddCopies").Str("book", bookID.String()).Msg("failed to add copies")
		return nil, err
	}
	log.Info().Str("op", "AddCopies").Str("book", bookID.String()).Int("added", copies).Int("total", book.TotalCopies).
		Msg("copies added")
	return book, nil
}

// SetBookStatus withdraws or reinstates a book. Open loans are unaffected; a
// withdrawn book simply cannot be borrowed again.
func (s *catalogService) SetBookStatus(ctx context.Context, bookID uuid.UUID, status models.BookStatus) (*models.Book, error) {
	if status != models.BookStatusActive && status != models.BookStatusWithdrawn {
		return nil, fmt.Errorf("%w: unknown book status %q", ErrInvalidInput, status)
	}
	db := s.db.WithContext(ctx)
	if err := s.bookRepo.UpdateStatus(db, bookID, status); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, err
	}
	log.Info().Str("op", "SetBookStatus").Str("book", bookID.String()).Str("status", string(status)).Msg("book status changed")
	return s.GetBook(ctx, bookID)
}

func (s *catalogService) GetBook(ctx context.Context, bookID uuid.UUID) (*models.Book, error) {
	book, err := s.bookRepo.GetByID(s.db.WithContext(ctx), bookID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, err
	}
	return book, nil
}

// FindBookByCode looks a book up by barcode, falling back to ISBN.
func (s *catalogService) FindBookByCode(ctx context.Context, code string) (*models.Book, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidInput)
	}
	book, err := s.bookRepo.GetByCode(s.db.WithContext(ctx), code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, err
	}
	return book, nil
}

// ListBooks returns the catalogue, optionally filtered by title or author.
func (s *catalogService) ListBooks(ctx context.Context, query string) ([]models.Book, error) {
	return s.bookRepo.List(s.db.WithContext(ctx), query)
}

// ─── Member Management ────────────────────────────────────────────────────────

// CreateMember registers a user identity and its library membership together.
func (s *catalogService) CreateMember(ctx context.Context, in CreateMemberInput) (*models.Member, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if !strings.Contains(in.Email, "@") {
		return nil, fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	if in.Role == "" {
		in.Role = models.UserRoleMember
	}

	var member *models.Member
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user := &models.User{Name: in.Name, Email: in.Email, Role: in.Role}
		if err := s.userRepo.Create(tx, user); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("user with email %s: %w", in.Email, ErrDuplicate)
			}
			return err
		}
		member = &models.Member{UserID: user.ID, Status: models.MemberStatusActive}
		if err := s.memberRepo.Create(tx, member); err != nil {
			return err
		}
		member.User = *user
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("op", "CreateMember").Msg("failed to create member")
		return nil, err
	}
	log.Info().Str("op", "CreateMember").Str("member", member.ID.String()).Str("number", member.MemberNumber).
		Msg("member created")
	return member, nil
}

// SetMemberStatus suspends or reactivates a membership.
func (s *catalogService) SetMemberStatus(ctx context.Context, memberID uuid.UUID, status models.MemberStatus) (*models.Member, error) {
	if status != models.MemberStatusActive && status != models.MemberStatusSuspended {
		return nil, fmt.Errorf("%w: unknown member status %q", ErrInvalidInput, status)
	}
	if err := s.memberRepo.UpdateStatus(s.db.WithContext(ctx), memberID, status); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	log.Info().Str("op", "SetMemberStatus").Str("member", memberID.String()).Str("status", string(status)).
		Msg("member status changed")
	return s.GetMember(ctx, memberID)
}

func (s *catalogService) GetMember(ctx context.Context, memberID uuid.UUID) (*models.Member, error) {
	member, err := s.memberRepo.GetByID(s.db.WithContext(ctx), memberID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return member, nil
}

func (s *catalogService) ListMembers(ctx context.Context) ([]models.Member, error) {
	return s.memberRepo.List(s.db.WithContext(ctx))
}

// ─── Reference Tables ─────────────────────────────────────────────────────────

func (s *catalogService) CreateCategory(ctx context.Context, category models.Category) (*models.Category, error) {
	category.Name = strings.TrimSpace(category.Name)
	if category.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if err := s.refRepo.CreateCategory(s.db.WithContext(ctx), &category); err != nil {
		return nil, translateCreateErr("category", category.Name, err)
	}
	return &category, nil
}

func (s *catalogService) ListCategories(ctx context.Context) ([]models.Category, error) {
	return s.refRepo.ListCategories(s.db.WithContext(ctx))
}

func (s *catalogService) CreateAuthor(ctx context.Context, author models.Author) (*models.Author, error) {
	author.Name = strings.TrimSpace(author.Name)
	if author.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if err := s.refRepo.CreateAuthor(s.db.WithContext(ctx), &author); err != nil {
		return nil, translateCreateErr("author", author.Name, err)
	}
	return &author, nil
}

func (s *catalogService) ListAuthors(ctx context.Context) ([]models.Author, error) {
	return s.refRepo.ListAuthors(s.db.WithContext(ctx))
}

func (s *catalogService) CreatePublisher(ctx context.Context, publisher models.Publisher) (*models.Publisher, error) {
	publisher.Name = strings.TrimSpace(publisher.Name)
	if publisher.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if err := s.refRepo.CreatePublisher(s.db.WithContext(ctx), &publisher); err != nil {
		return nil, translateCreateErr("publisher", publisher.Name, err)
	}
	return &publisher, nil
}

func (s *catalogService) ListPublishers(ctx context.Context) ([]models.Publisher, error) {
	return s.refRepo.ListPublishers(s.db.WithContext(ctx))
}

// ─── Internal Helpers ─────────────────────────────────────────────────────────

func translateCreateErr(kind, name string, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%s %q: %w", kind, name, ErrDuplicate)
	}
	return err
}

// isUniqueViolation checks for a unique-constraint error. PostgreSQL reports
// SQLSTATE 23505, SQLite "UNIQUE constraint failed".
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "UNIQUE constraint failed")
}

// isForeignKeyViolation checks for SQLSTATE 23503 or the SQLite equivalent.
func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23503") || strings.Contains(msg, "FOREIGN KEY constraint failed")
}

func normalizeISBN(isbn string) string {
	isbn = strings.ToUpper(strings.TrimSpace(isbn))
	return strings.NewReplacer("-", "", " ", "").Replace(isbn)
}

func uniqueIDs(ids []uuid.UUID) map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

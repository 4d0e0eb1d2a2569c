package services

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"libraryledger/internal/config"
	"libraryledger/internal/database"
	"libraryledger/internal/models"
	"libraryledger/internal/notify"
	"libraryledger/internal/repositories"
)

var day0 = time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(config.Config{
		DBDriver:    config.DriverSQLite,
		DatabaseURL: filepath.Join(t.TempDir(), "library.db"),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

type fixture struct {
	db      *gorm.DB
	lending LendingService
	catalog CatalogService
	events  *notify.MemoryPublisher
	seq     int
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithThreshold(t, decimal.Zero)
}

func newFixtureWithThreshold(t *testing.T, threshold decimal.Decimal) *fixture {
	t.Helper()
	db := newTestDB(t)
	events := &notify.MemoryPublisher{}

	userRepo := repositories.NewUserRepository(db)
	memberRepo := repositories.NewMemberRepository(db)
	bookRepo := repositories.NewBookRepository(db)
	recordRepo := repositories.NewBorrowRecordRepository(db)
	reservationRepo := repositories.NewReservationRepository(db)
	refRepo := repositories.NewReferenceRepository(db)

	return &fixture{
		db:      db,
		lending: NewLendingService(db, memberRepo, bookRepo, recordRepo, reservationRepo, events, threshold),
		catalog: NewCatalogService(db, userRepo, memberRepo, bookRepo, refRepo),
		events:  events,
	}
}

func (f *fixture) book(t *testing.T, copies int) *models.Book {
	t.Helper()
	f.seq++
	book, err := f.catalog.CreateBook(context.Background(), CreateBookInput{
		Title:  fmt.Sprintf("Book %d", f.seq),
		ISBN:   fmt.Sprintf("978%010d", f.seq),
		Copies: copies,
	})
	require.NoError(t, err)
	return book
}

func (f *fixture) member(t *testing.T) *models.Member {
	t.Helper()
	f.seq++
	member, err := f.catalog.CreateMember(context.Background(), CreateMemberInput{
		Name:  fmt.Sprintf("Reader %d", f.seq),
		Email: fmt.Sprintf("reader%d@example.org", f.seq),
	})
	require.NoError(t, err)
	return member
}

func (f *fixture) reloadBook(t *testing.T, id interface{}) models.Book {
	t.Helper()
	var book models.Book
	require.NoError(t, f.db.First(&book, "id = ?", id).Error)
	return book
}

func (f *fixture) reloadMember(t *testing.T, id interface{}) models.Member {
	t.Helper()
	var member models.Member
	require.NoError(t, f.db.First(&member, "id = ?", id).Error)
	return member
}

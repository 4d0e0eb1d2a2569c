package reports

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"libraryledger/internal/config"
	"libraryledger/internal/database"
	"libraryledger/internal/models"
	"libraryledger/internal/notify"
	"libraryledger/internal/repositories"
	"libraryledger/internal/services"
)

var day0 = time.Date(2026, time.April, 6, 0, 0, 0, 0, time.UTC)

type library struct {
	db      *gorm.DB
	lending services.LendingService
	catalog services.CatalogService
}

func newLibrary(t *testing.T, opts ...services.Option) *library {
	t.Helper()
	db, err := database.Open(config.Config{
		DBDriver:    config.DriverSQLite,
		DatabaseURL: filepath.Join(t.TempDir(), "reports.db"),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	memberRepo := repositories.NewMemberRepository(db)
	bookRepo := repositories.NewBookRepository(db)
	return &library{
		db: db,
		lending: services.NewLendingService(db, memberRepo, bookRepo,
			repositories.NewBorrowRecordRepository(db), repositories.NewReservationRepository(db),
			&notify.MemoryPublisher{}, decimal.NewFromInt(100), opts...),
		catalog: services.NewCatalogService(db, repositories.NewUserRepository(db), memberRepo, bookRepo,
			repositories.NewReferenceRepository(db)),
	}
}

func (l *library) book(t *testing.T, title, isbn string, copies int) *models.Book {
	t.Helper()
	book, err := l.catalog.CreateBook(context.Background(), services.CreateBookInput{Title: title, ISBN: isbn, Copies: copies})
	require.NoError(t, err)
	return book
}

func (l *library) member(t *testing.T, name, email string) *models.Member {
	t.Helper()
	member, err := l.catalog.CreateMember(context.Background(), services.CreateMemberInput{Name: name, Email: email})
	require.NoError(t, err)
	return member
}

func (l *library) borrow(t *testing.T, m *models.Member, b *models.Book, on time.Time) *models.BorrowRecord {
	t.Helper()
	record, err := l.lending.BorrowBook(context.Background(), m.ID, b.ID, on)
	require.NoError(t, err)
	return record
}

func Test_Dashboard(t *testing.T) {
	lib := newLibrary(t)
	ctx := context.Background()

	alpha := lib.book(t, "Alpha", "9780000000001", 3)
	bravo := lib.book(t, "Bravo", "9780000000002", 1)
	charlie := lib.book(t, "Charlie", "9780000000003", 2)
	ann := lib.member(t, "Ann", "ann@example.org")
	bob := lib.member(t, "Bob", "bob@example.org")

	late := lib.borrow(t, bob, charlie, day0.AddDate(0, 0, -30))
	_, err := lib.lending.ReturnBook(ctx, late.ID, day0.AddDate(0, 0, -10))
	require.NoError(t, err)
	lib.borrow(t, ann, bravo, day0.AddDate(0, 0, -20))
	lib.borrow(t, ann, alpha, day0)
	lib.borrow(t, bob, alpha, day0)

	d, err := NewService(lib.db, 0).Dashboard(ctx, day0.AddDate(0, 0, 1).Add(10*time.Hour))

	require.NoError(t, err)
	assert.Equal(t, day0.AddDate(0, 0, 1), d.AsOf)
	assert.Equal(t, int64(3), d.TotalBooks)
	assert.Equal(t, int64(2), d.TotalMembers)
	assert.Equal(t, int64(3), d.OpenLoans)
	assert.Equal(t, int64(1), d.OverdueLoans)
	assert.Equal(t, "12.00", d.OutstandingFines.StringFixed(2))

	require.Len(t, d.PopularBooks, 3)
	assert.Equal(t, PopularBook{BookID: alpha.ID, Title: "Alpha", BorrowCount: 2}, d.PopularBooks[0])
	assert.Equal(t, "Bravo", d.PopularBooks[1].Title)
	assert.Equal(t, "Charlie", d.PopularBooks[2].Title)

	require.Len(t, d.LowStockBooks, 2)
	assert.Equal(t, LowStockBook{BookID: alpha.ID, Title: "Alpha", AvailableCopies: 1, TotalCopies: 3}, d.LowStockBooks[0])
	assert.Equal(t, charlie.ID, d.LowStockBooks[1].BookID)

	require.Len(t, d.RecentActivity, 5)
	assert.Equal(t, ActivityBorrow, d.RecentActivity[0].Kind)
	assert.Contains(t, d.RecentActivity[0].TimeAgo, "ago")
	var returns []Activity
	for _, a := range d.RecentActivity {
		if a.Kind == ActivityReturn {
			returns = append(returns, a)
		}
	}
	require.Len(t, returns, 1)
	assert.Equal(t, "Charlie", returns[0].BookTitle)
	assert.Equal(t, "Bob", returns[0].MemberName)
	assert.Equal(t, "12.00", returns[0].Fine.StringFixed(2))
	for i := 1; i < len(d.RecentActivity); i++ {
		assert.False(t, d.RecentActivity[i].At.After(d.RecentActivity[i-1].At), "activity not newest first")
	}
}

func Test_Dashboard_EmptyLibrary(t *testing.T) {
	lib := newLibrary(t)

	d, err := NewService(lib.db, 0).Dashboard(context.Background(), day0)

	require.NoError(t, err)
	assert.Zero(t, d.TotalBooks)
	assert.True(t, d.OutstandingFines.IsZero())
	assert.Empty(t, d.PopularBooks)
	assert.Empty(t, d.LowStockBooks)
	assert.Empty(t, d.RecentActivity)
}

func Test_Dashboard_CachedPerDay(t *testing.T) {
	lib := newLibrary(t)
	ctx := context.Background()
	svc := NewService(lib.db, time.Minute)
	book := lib.book(t, "Alpha", "9780000000001", 2)
	ann := lib.member(t, "Ann", "ann@example.org")

	first, err := svc.Dashboard(ctx, day0)
	require.NoError(t, err)
	assert.Zero(t, first.OpenLoans)

	lib.borrow(t, ann, book, day0)

	cached, err := svc.Dashboard(ctx, day0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, cached.OpenLoans)

	nextDay, err := svc.Dashboard(ctx, day0.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), nextDay.OpenLoans)

	svc.Invalidate()
	fresh, err := svc.Dashboard(ctx, day0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fresh.OpenLoans)
}

func Test_Dashboard_InvalidatedByLending(t *testing.T) {
	var svc *Service
	lib := newLibrary(t, services.WithAfterCommit(func() { svc.Invalidate() }))
	svc = NewService(lib.db, time.Hour)
	ctx := context.Background()
	book := lib.book(t, "Alpha", "9780000000001", 2)
	ann := lib.member(t, "Ann", "ann@example.org")

	before, err := svc.Dashboard(ctx, day0)
	require.NoError(t, err)
	assert.Zero(t, before.OpenLoans)

	record := lib.borrow(t, ann, book, day0)

	afterBorrow, err := svc.Dashboard(ctx, day0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), afterBorrow.OpenLoans)

	_, err = lib.lending.ReturnBook(ctx, record.ID, day0.AddDate(0, 0, 20))
	require.NoError(t, err)

	afterReturn, err := svc.Dashboard(ctx, day0)
	require.NoError(t, err)
	assert.Zero(t, afterReturn.OpenLoans)
	assert.Equal(t, "12.00", afterReturn.OutstandingFines.StringFixed(2))
}

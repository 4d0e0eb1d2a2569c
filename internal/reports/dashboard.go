// Package reports computes the read-only dashboard statistics.
package reports

import (
	"context"
	"sort"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"libraryledger/internal/models"
	"libraryledger/internal/services"
)

const (
	popularLimit  = 5
	lowStockLimit = 5
	lowStockMax   = 2
	recentPerKind = 5
	recentLimit   = 10
)

// The default dialect quotes identifiers with double quotes and binds with "?",
// which gorm rewrites for postgres and passes through for sqlite.
var dialect = goqu.Dialect("default")

type Dashboard struct {
	AsOf             time.Time       `json:"as_of"`
	TotalBooks       int64           `json:"total_books"`
	TotalMembers     int64           `json:"total_members"`
	OpenLoans        int64           `json:"open_loans"`
	OverdueLoans     int64           `json:"overdue_loans"`
	OutstandingFines decimal.Decimal `json:"outstanding_fines"`
	PopularBooks     []PopularBook   `json:"popular_books"`
	LowStockBooks    []LowStockBook  `json:"low_stock_books"`
	RecentActivity   []Activity      `json:"recent_activity"`
}

type PopularBook struct {
	BookID      uuid.UUID `json:"book_id"`
	Title       string    `json:"title"`
	BorrowCount int64     `json:"borrow_count"`
}

type LowStockBook struct {
	BookID          uuid.UUID `json:"book_id"`
	Title           string    `json:"title"`
	AvailableCopies int       `json:"available_copies"`
	TotalCopies     int       `json:"total_copies"`
}

type ActivityKind string

const (
	ActivityBorrow ActivityKind = "borrow"
	ActivityReturn ActivityKind = "return"
)

type Activity struct {
	Kind       ActivityKind    `json:"kind"`
	BookTitle  string          `json:"book_title"`
	MemberName string          `json:"member_name"`
	At         time.Time       `json:"at"`
	TimeAgo    string          `json:"time_ago"`
	Fine       decimal.Decimal `json:"fine"`
}

type activityRow struct {
	BookTitle  string
	MemberName string
	At         time.Time
	Fine       decimal.Decimal
}

type countRow struct {
	N int64
}

type totalRow struct {
	Total decimal.Decimal
}

type Service struct {
	db    *gorm.DB
	cache *expirable.LRU[string, Dashboard]
}

// NewService returns a dashboard service. Results are cached per day for ttl;
// a zero ttl disables caching.
func NewService(db *gorm.DB, ttl time.Duration) *Service {
	s := &Service{db: db}
	if ttl > 0 {
		s.cache = expirable.NewLRU[string, Dashboard](32, nil, ttl)
	}
	return s
}

// Dashboard returns the library statistics evaluated on asOf's calendar day.
func (s *Service) Dashboard(ctx context.Context, asOf time.Time) (Dashboard, error) {
	day := services.DateOf(asOf)
	key := day.Format("2006-01-02")
	if s.cache != nil {
		if d, ok := s.cache.Get(key); ok {
			return d, nil
		}
	}

	d := Dashboard{AsOf: day}
	var err error

	if d.TotalBooks, err = s.count(ctx, dialect.From("books")); err != nil {
		return Dashboard{}, err
	}
	if d.TotalMembers, err = s.count(ctx, dialect.From("members")); err != nil {
		return Dashboard{}, err
	}
	open := dialect.From("borrow_records").Where(goqu.C("return_date").IsNull())
	if d.OpenLoans, err = s.count(ctx, open); err != nil {
		return Dashboard{}, err
	}
	if d.OverdueLoans, err = s.count(ctx, open.Where(goqu.C("due_date").Lt(day))); err != nil {
		return Dashboard{}, err
	}

	var fines totalRow
	if err := s.scan(ctx, dialect.From("members").
		Select(goqu.COALESCE(goqu.SUM("outstanding_fine"), goqu.L("0")).As("total")), &fines); err != nil {
		return Dashboard{}, err
	}
	d.OutstandingFines = fines.Total

	if d.PopularBooks, err = s.popularBooks(ctx); err != nil {
		return Dashboard{}, err
	}
	if d.LowStockBooks, err = s.lowStockBooks(ctx); err != nil {
		return Dashboard{}, err
	}
	if d.RecentActivity, err = s.recentActivity(ctx, day); err != nil {
		return Dashboard{}, err
	}

	if s.cache != nil {
		s.cache.Add(key, d)
	}
	return d, nil
}

// Invalidate drops every cached dashboard.
func (s *Service) Invalidate() {
	if s.cache != nil {
		s.cache.Purge()
	}
}

func (s *Service) popularBooks(ctx context.Context) ([]PopularBook, error) {
	ds := dialect.From(goqu.T("books").As("b")).
		Join(goqu.T("borrow_records").As("r"), goqu.On(goqu.I("r.book_id").Eq(goqu.I("b.id")))).
		Select(
			goqu.I("b.id").As("book_id"),
			goqu.I("b.title").As("title"),
			goqu.COUNT(goqu.I("r.id")).As("borrow_count"),
		).
		GroupBy(goqu.I("b.id"), goqu.I("b.title")).
		Order(goqu.I("borrow_count").Desc(), goqu.I("title").Asc()).
		Limit(popularLimit)
	books := []PopularBook{}
	return books, s.scan(ctx, ds, &books)
}

func (s *Service) lowStockBooks(ctx context.Context) ([]LowStockBook, error) {
	ds := dialect.From("books").
		Select(
			goqu.C("id").As("book_id"),
			goqu.C("title"),
			goqu.C("available_copies"),
			goqu.C("total_copies"),
		).
		Where(
			goqu.C("status").Eq(string(models.BookStatusActive)),
			goqu.C("available_copies").Gt(0),
			goqu.C("available_copies").Lte(lowStockMax),
		).
		Order(goqu.C("available_copies").Asc(), goqu.C("title").Asc()).
		Limit(lowStockLimit)
	books := []LowStockBook{}
	return books, s.scan(ctx, ds, &books)
}

func (s *Service) recentActivity(ctx context.Context, day time.Time) ([]Activity, error) {
	base := dialect.From(goqu.T("borrow_records").As("r")).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("r.book_id")))).
		Join(goqu.T("members").As("m"), goqu.On(goqu.I("m.id").Eq(goqu.I("r.member_id")))).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("m.user_id"))))

	var borrows, returns []activityRow
	err := s.scan(ctx, base.
		Select(
			goqu.I("b.title").As("book_title"),
			goqu.I("u.name").As("member_name"),
			goqu.I("r.borrow_date").As("at"),
			goqu.L("0").As("fine"),
		).
		Order(goqu.I("r.borrow_date").Desc()).
		Limit(recentPerKind), &borrows)
	if err != nil {
		return nil, err
	}
	err = s.scan(ctx, base.
		Select(
			goqu.I("b.title").As("book_title"),
			goqu.I("u.name").As("member_name"),
			goqu.I("r.return_date").As("at"),
			goqu.I("r.fine_amount").As("fine"),
		).
		Where(goqu.I("r.return_date").IsNotNull()).
		Order(goqu.I("r.return_date").Desc()).
		Limit(recentPerKind), &returns)
	if err != nil {
		return nil, err
	}

	activity := make([]Activity, 0, len(borrows)+len(returns))
	for _, row := range borrows {
		activity = append(activity, newActivity(ActivityBorrow, row, day))
	}
	for _, row := range returns {
		activity = append(activity, newActivity(ActivityReturn, row, day))
	}
	sort.SliceStable(activity, func(i, j int) bool { return activity[i].At.After(activity[j].At) })
	if len(activity) > recentLimit {
		activity = activity[:recentLimit]
	}
	return activity, nil
}

func newActivity(kind ActivityKind, row activityRow, day time.Time) Activity {
	at := row.At.UTC()
	timeAgo := "today"
	if at.Before(day) {
		timeAgo = humanize.RelTime(at, day, "ago", "from now")
	}
	return Activity{
		Kind:       kind,
		BookTitle:  row.BookTitle,
		MemberName: row.MemberName,
		At:         at,
		TimeAgo:    timeAgo,
		Fine:       row.Fine,
	}
}

func (s *Service) count(ctx context.Context, ds *goqu.SelectDataset) (int64, error) {
	var row countRow
	if err := s.scan(ctx, ds.Select(goqu.COUNT(goqu.Star()).As("n")), &row); err != nil {
		return 0, err
	}
	return row.N, nil
}

func (s *Service) scan(ctx context.Context, ds *goqu.SelectDataset, dest interface{}) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return errors.Wrap(err, "build report query")
	}
	return errors.Wrapf(s.db.WithContext(ctx).Raw(query, args...).Scan(dest).Error, "report query %q", query)
}

package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libraryledger/internal/config"
	"libraryledger/internal/database"
	"libraryledger/internal/notify"
	"libraryledger/internal/reports"
	"libraryledger/internal/repositories"
	"libraryledger/internal/services"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var today = time.Date(2026, time.May, 4, 0, 0, 0, 0, time.UTC)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(config.Config{
		DBDriver:    config.DriverSQLite,
		DatabaseURL: filepath.Join(t.TempDir(), "api.db"),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	memberRepo := repositories.NewMemberRepository(db)
	bookRepo := repositories.NewBookRepository(db)
	lending := services.NewLendingService(db, memberRepo, bookRepo,
		repositories.NewBorrowRecordRepository(db), repositories.NewReservationRepository(db),
		&notify.MemoryPublisher{}, decimal.Zero)
	catalog := services.NewCatalogService(db, repositories.NewUserRepository(db), memberRepo, bookRepo,
		repositories.NewReferenceRepository(db))

	h := NewLibraryHandler(lending, catalog, reports.NewService(db, 0))
	h.now = func() time.Time { return today }

	r := gin.New()
	RegisterRoutes(r, h)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	out := map[string]interface{}{}
	if w.Body.Len() > 0 && w.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w.Code, out
}

func createBook(t *testing.T, r http.Handler, isbn string, copies int) string {
	t.Helper()
	code, body := do(t, r, http.MethodPost, "/books", gin.H{"title": "Book " + isbn, "isbn": isbn, "copies": copies})
	require.Equal(t, http.StatusCreated, code, body)
	return body["id"].(string)
}

func createMember(t *testing.T, r http.Handler, name string) string {
	t.Helper()
	code, body := do(t, r, http.MethodPost, "/members", gin.H{"name": name, "email": name + "@example.org"})
	require.Equal(t, http.StatusCreated, code, body)
	return body["id"].(string)
}

func Test_BorrowAndReturnOverHTTP(t *testing.T) {
	r := newRouter(t)
	bookID := createBook(t, r, "9781111111111", 1)
	ann := createMember(t, r, "ann")
	bob := createMember(t, r, "bob")

	code, loan := do(t, r, http.MethodPost, "/books/"+bookID+"/borrow", gin.H{"member_id": ann})
	require.Equal(t, http.StatusCreated, code, loan)
	assert.Equal(t, "BORROWED", loan["status"])
	assert.Equal(t, "2026-05-18T00:00:00Z", loan["due_date"])
	loanID := loan["id"].(string)

	code, body := do(t, r, http.MethodPost, "/books/"+bookID+"/borrow", gin.H{"member_id": bob})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, services.ErrBookUnavailable.Error(), body["error"])

	code, body = do(t, r, http.MethodGet, "/books/"+bookID+"/availability", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["available"])

	code, body = do(t, r, http.MethodGet, "/loans/"+loanID+"/fine?as_of=2026-05-21", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OVERDUE", body["status"])
	assert.EqualValues(t, 3, body["overdue_days"])
	assert.Equal(t, "6", body["current_fine"])

	code, body = do(t, r, http.MethodPost, "/loans/"+loanID+"/return", gin.H{"date": "2026-05-23"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "RETURNED", body["status"])
	assert.Equal(t, "10", body["fine_amount"])

	code, _ = do(t, r, http.MethodPost, "/loans/"+loanID+"/return", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, body = do(t, r, http.MethodGet, "/members/"+ann, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "10", body["outstanding_fine"])

	code, body = do(t, r, http.MethodPost, "/books/"+bookID+"/borrow", gin.H{"member_id": ann})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, services.ErrOutstandingFineBlock.Error(), body["error"])

	code, body = do(t, r, http.MethodPost, "/members/"+ann+"/payments", gin.H{"amount": "10"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "0", body["outstanding_fine"])
}

func Test_BorrowLimitOverHTTP(t *testing.T) {
	r := newRouter(t)
	member := createMember(t, r, "carol")

	for i := 0; i < services.MaxActiveLoans; i++ {
		book := createBook(t, r, fmt.Sprintf("978222222222%d", i), 1)
		code, body := do(t, r, http.MethodPost, "/books/"+book+"/borrow", gin.H{"member_id": member})
		require.Equal(t, http.StatusCreated, code, body)
	}
	book := createBook(t, r, "9782222222229", 1)

	code, body := do(t, r, http.MethodPost, "/books/"+book+"/borrow", gin.H{"member_id": member})

	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, services.ErrBorrowLimitExceeded.Error(), body["error"])
}

func Test_SuspendedMemberOverHTTP(t *testing.T) {
	r := newRouter(t)
	book := createBook(t, r, "9783333333333", 1)
	member := createMember(t, r, "dave")

	code, _ := do(t, r, http.MethodPatch, "/members/"+member+"/status", gin.H{"status": "SUSPENDED"})
	require.Equal(t, http.StatusOK, code)

	code, body := do(t, r, http.MethodPost, "/books/"+book+"/borrow", gin.H{"member_id": member})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, services.ErrMembershipInactive.Error(), body["error"])
}

func Test_BadRequests(t *testing.T) {
	r := newRouter(t)
	book := createBook(t, r, "9784444444444", 1)
	member := createMember(t, r, "erin")

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"malformed book id", http.MethodPost, "/books/not-a-uuid/borrow", gin.H{"member_id": member}, http.StatusBadRequest},
		{"missing member id", http.MethodPost, "/books/" + book + "/borrow", gin.H{}, http.StatusBadRequest},
		{"bad date", http.MethodPost, "/books/" + book + "/borrow", gin.H{"member_id": member, "date": "04/05/2026"}, http.StatusBadRequest},
		{"unknown book", http.MethodPost, "/books/6f1c9e8a-2b7d-4c3e-9a1f-0d2e3b4c5d6e/borrow", gin.H{"member_id": member}, http.StatusNotFound},
		{"unknown loan", http.MethodPost, "/loans/6f1c9e8a-2b7d-4c3e-9a1f-0d2e3b4c5d6e/return", nil, http.StatusNotFound},
		{"unknown member loans", http.MethodGet, "/members/6f1c9e8a-2b7d-4c3e-9a1f-0d2e3b4c5d6e/loans", nil, http.StatusNotFound},
		{"unknown loan fine", http.MethodGet, "/loans/6f1c9e8a-2b7d-4c3e-9a1f-0d2e3b4c5d6e/fine", nil, http.StatusNotFound},
		{"bad loan filter", http.MethodGet, "/loans?status=lost", nil, http.StatusBadRequest},
		{"duplicate isbn", http.MethodPost, "/books", gin.H{"title": "Again", "isbn": "9784444444444"}, http.StatusConflict},
		{"invalid payment", http.MethodPost, "/members/" + member + "/payments", gin.H{"amount": "-1"}, http.StatusBadRequest},
		{"reserve available book", http.MethodPost, "/books/" + book + "/reservations", gin.H{"member_id": member}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := do(t, r, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, code, body)
		})
	}
}

func Test_LoanListsAndDashboard(t *testing.T) {
	r := newRouter(t)
	book := createBook(t, r, "9785555555555", 2)
	member := createMember(t, r, "fay")

	code, _ := do(t, r, http.MethodPost, "/books/"+book+"/borrow", gin.H{"member_id": member, "date": "2026-04-01"})
	require.Equal(t, http.StatusCreated, code)
	code, _ = do(t, r, http.MethodPost, "/books/"+book+"/borrow", gin.H{"member_id": member})
	require.Equal(t, http.StatusCreated, code)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/loans?status=overdue", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var overdue []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &overdue))
	require.Len(t, overdue, 1)
	assert.EqualValues(t, 19, overdue[0]["overdue_days"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/members/"+member+"/loans", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var loans []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &loans))
	assert.Len(t, loans, 2)

	code, body := do(t, r, http.MethodGet, "/dashboard", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["open_loans"])
	assert.EqualValues(t, 1, body["overdue_loans"])
}

func Test_StatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(services.ErrRecordNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(services.ErrRecordAlreadyReturned))
	assert.Equal(t, http.StatusConflict, statusFor(fmt.Errorf("book x: %w", services.ErrDuplicate)))
	assert.Equal(t, http.StatusForbidden, statusFor(services.ErrOutstandingFineBlock))
	assert.Equal(t, http.StatusBadRequest, statusFor(services.ErrInvalidAmount))
	assert.Equal(t, http.StatusInternalServerError, statusFor(services.ErrCounterDrift))
}

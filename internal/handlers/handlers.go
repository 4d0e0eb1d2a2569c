package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"libraryledger/internal/reports"
	"libraryledger/internal/services"
)

const dateLayout = "2006-01-02"

// DashboardSource supplies the statistics served by GET /dashboard.
type DashboardSource interface {
	Dashboard(ctx context.Context, asOf time.Time) (reports.Dashboard, error)
}

type LibraryHandler struct {
	lending services.LendingService
	catalog services.CatalogService
	reports DashboardSource
	now     func() time.Time
}

func NewLibraryHandler(lending services.LendingService, catalog services.CatalogService, dash DashboardSource) *LibraryHandler {
	return &LibraryHandler{
		lending: lending,
		catalog: catalog,
		reports: dash,
		now:     time.Now,
	}
}

func RegisterRoutes(r gin.IRouter, h *LibraryHandler) {
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Catalogue
	r.POST("/books", h.createBook)
	r.GET("/books", h.listBooks)
	r.GET("/books/:id", h.getBook)
	r.POST("/books/:id/copies", h.addCopies)
	r.PATCH("/books/:id/status", h.setBookStatus)

	r.POST("/members", h.createMember)
	r.GET("/members", h.listMembers)
	r.GET("/members/:id", h.getMember)
	r.PATCH("/members/:id/status", h.setMemberStatus)

	r.POST("/categories", h.createCategory)
	r.GET("/categories", h.listCategories)
	r.POST("/authors", h.createAuthor)
	r.GET("/authors", h.listAuthors)
	r.POST("/publishers", h.createPublisher)
	r.GET("/publishers", h.listPublishers)

	// Lending
	r.GET("/books/:id/availability", h.checkAvailability)
	r.POST("/books/:id/borrow", h.borrowBook)
	r.POST("/loans/:id/return", h.returnBook)
	r.GET("/loans/:id/fine", h.loanFine)
	r.GET("/loans", h.listLoans)
	r.GET("/members/:id/loans", h.listMemberLoans)
	r.POST("/members/:id/payments", h.payFine)

	// Reservations
	r.POST("/books/:id/reservations", h.reserveBook)
	r.GET("/books/:id/reservations", h.listReservationsForBook)
	r.DELETE("/reservations/:id", h.cancelReservation)

	// Reports
	r.GET("/dashboard", h.dashboard)
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrBookNotFound),
		errors.Is(err, services.ErrMemberNotFound),
		errors.Is(err, services.ErrRecordNotFound),
		errors.Is(err, services.ErrReservationNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrBookUnavailable),
		errors.Is(err, services.ErrBorrowLimitExceeded),
		errors.Is(err, services.ErrRecordAlreadyReturned),
		errors.Is(err, services.ErrDuplicateReservation),
		errors.Is(err, services.ErrBookAvailable),
		errors.Is(err, services.ErrReservationClosed),
		errors.Is(err, services.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, services.ErrMembershipInactive),
		errors.Is(err, services.ErrOutstandingFineBlock):
		return http.StatusForbidden
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrOverpayment),
		errors.Is(err, services.ErrReturnBeforeBorrow),
		errors.Is(err, services.ErrInvalidCopies),
		errors.Is(err, services.ErrReferenceNotFound):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseID(c *gin.Context, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + what + " id"})
		return uuid.Nil, false
	}
	return id, true
}

// dayOrToday parses a YYYY-MM-DD date, falling back to the handler's clock when
// the value is empty.
func (h *LibraryHandler) dayOrToday(c *gin.Context, value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return services.DateOf(h.now()), true
	}
	day, err := time.Parse(dateLayout, value)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be formatted as YYYY-MM-DD"})
		return time.Time{}, false
	}
	return day, true
}

func (h *LibraryHandler) asOf(c *gin.Context) (time.Time, bool) {
	return h.dayOrToday(c, c.Query("as_of"))
}

// ─── Reports ──────────────────────────────────────────────────────────────────

func (h *LibraryHandler) dashboard(c *gin.Context) {
	day, ok := h.asOf(c)
	if !ok {
		return
	}
	d, err := h.reports.Dashboard(c.Request.Context(), day)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"libraryledger/internal/models"
	"libraryledger/internal/services"
)

type borrowRequest struct {
	MemberID string `json:"member_id" binding:"required,uuid"`
	Date     string `json:"date"`
}

func (h *LibraryHandler) borrowBook(c *gin.Context) {
	bookID, ok := parseID(c, "book")
	if !ok {
		return
	}
	var req borrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	memberID, err := uuid.Parse(req.MemberID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member id"})
		return
	}
	day, ok := h.dayOrToday(c, req.Date)
	if !ok {
		return
	}

	record, err := h.lending.BorrowBook(c.Request.Context(), memberID, bookID, day)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, services.DescribeLoan(*record, day))
}

type returnRequest struct {
	Date string `json:"date"`
}

func (h *LibraryHandler) returnBook(c *gin.Context) {
	recordID, ok := parseID(c, "borrow record")
	if !ok {
		return
	}
	var req returnRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	day, ok := h.dayOrToday(c, req.Date)
	if !ok {
		return
	}

	record, err := h.lending.ReturnBook(c.Request.Context(), recordID, day)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, services.DescribeLoan(*record, day))
}

func (h *LibraryHandler) checkAvailability(c *gin.Context) {
	bookID, ok := parseID(c, "book")
	if !ok {
		return
	}
	available, err := h.lending.CheckAvailability(c.Request.Context(), bookID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"book_id": bookID, "available": available})
}

// loanFine reports the fine a loan has accrued as of the requested day without
// changing anything.
func (h *LibraryHandler) loanFine(c *gin.Context) {
	recordID, ok := parseID(c, "borrow record")
	if !ok {
		return
	}
	day, ok := h.asOf(c)
	if !ok {
		return
	}
	record, err := h.lending.GetLoan(c.Request.Context(), recordID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, services.DescribeLoan(*record, day))
}

// listLoans returns open loans; ?status=overdue or ?status=due_soon narrows the list.
func (h *LibraryHandler) listLoans(c *gin.Context) {
	day, ok := h.asOf(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var (
		records []models.BorrowRecord
		err     error
	)
	switch c.Query("status") {
	case "":
		records, err = h.lending.ListOpenLoans(ctx)
	case "overdue":
		records, err = h.lending.Overdue(ctx, day)
	case "due_soon":
		window, convErr := strconv.Atoi(c.DefaultQuery("window", "2"))
		if convErr != nil || window < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "window must be a non-negative number of days"})
			return
		}
		records, err = h.lending.DueSoon(ctx, day, window)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be overdue or due_soon"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, describeAll(records, day))
}

func (h *LibraryHandler) listMemberLoans(c *gin.Context) {
	memberID, ok := parseID(c, "member")
	if !ok {
		return
	}
	day, ok := h.asOf(c)
	if !ok {
		return
	}
	records, err := h.lending.ListMemberLoans(c.Request.Context(), memberID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, describeAll(records, day))
}

type payFineRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *LibraryHandler) payFine(c *gin.Context) {
	memberID, ok := parseID(c, "member")
	if !ok {
		return
	}
	var req payFineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	member, err := h.lending.PayFine(c.Request.Context(), memberID, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

// ─── Reservations ─────────────────────────────────────────────────────────────

type reserveRequest struct {
	MemberID string `json:"member_id" binding:"required,uuid"`
}

func (h *LibraryHandler) reserveBook(c *gin.Context) {
	bookID, ok := parseID(c, "book")
	if !ok {
		return
	}
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	memberID, err := uuid.Parse(req.MemberID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member id"})
		return
	}
	reservation, err := h.lending.ReserveBook(c.Request.Context(), memberID, bookID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, reservation)
}

func (h *LibraryHandler) listReservationsForBook(c *gin.Context) {
	bookID, ok := parseID(c, "book")
	if !ok {
		return
	}
	reservations, err := h.lending.ListReservationsForBook(c.Request.Context(), bookID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservations)
}

func (h *LibraryHandler) cancelReservation(c *gin.Context) {
	reservationID, ok := parseID(c, "reservation")
	if !ok {
		return
	}
	if err := h.lending.CancelReservation(c.Request.Context(), reservationID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func describeAll(records []models.BorrowRecord, day time.Time) []services.LoanView {
	views := make([]services.LoanView, 0, len(records))
	for _, record := range records {
		views = append(views, services.DescribeLoan(record, day))
	}
	return views
}

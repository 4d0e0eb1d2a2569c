package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"libraryledger/internal/models"
	"libraryledger/internal/services"
)

type createBookRequest struct {
	Title       string      `json:"title" binding:"required"`
	Subtitle    string      `json:"subtitle"`
	ISBN        string      `json:"isbn" binding:"required"`
	PublisherID *uuid.UUID  `json:"publisher_id"`
	AuthorIDs   []uuid.UUID `json:"author_ids"`
	CategoryIDs []uuid.UUID `json:"category_ids"`
	Copies      int         `json:"copies" binding:"min=0"`
}

func (h *LibraryHandler) createBook(c *gin.Context) {
	var req createBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	book, err := h.catalog.CreateBook(c.Request.Context(), services.CreateBookInput{
		Title:       req.Title,
		Subtitle:    req.Subtitle,
		ISBN:        req.ISBN,
		PublisherID: req.PublisherID,
		AuthorIDs:   req.AuthorIDs,
		CategoryIDs: req.CategoryIDs,
		Copies:      req.Copies,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, book)
}

// listBooks serves the catalogue. ?code= looks up a single book by barcode or
// ISBN, ?q= searches titles and authors.
func (h *LibraryHandler) listBooks(c *gin.Context) {
	if code := c.Query("code"); code != "" {
		book, err := h.catalog.FindBookByCode(c.Request.Context(), code)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, book)
		return
	}

	books, err := h.catalog.ListBooks(c.Request.Context(), c.Query("q"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, books)
}

func (h *LibraryHandler) getBook(c *gin.Context) {
	bookID, ok := parseID(c, "book")
	if !ok {
		return
	}
	book, err := h.catalog.GetBook(c.Request.Context(), bookID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

type addCopiesRequest struct {
	Copies int `json:"copies" binding:"required,min=1"`
}

func (h *LibraryHandler) addCopies(c *gin.Context) {
	bookID, ok := parseID(c, "book")
	if !ok {
		return
	}
	var req addCopiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	book, err := h.catalog.AddCopies(c.Request.Context(), bookID, req.Copies)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *LibraryHandler) setBookStatus(c *gin.Context) {
	bookID, ok := parseID(c, "book")
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	book, err := h.catalog.SetBookStatus(c.Request.Context(), bookID, models.BookStatus(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

// ─── Members ──────────────────────────────────────────────────────────────────

type createMemberRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role"`
}

func (h *LibraryHandler) createMember(c *gin.Context) {
	var req createMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	member, err := h.catalog.CreateMember(c.Request.Context(), services.CreateMemberInput{
		Name:  req.Name,
		Email: req.Email,
		Role:  models.UserRole(req.Role),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, member)
}

func (h *LibraryHandler) listMembers(c *gin.Context) {
	members, err := h.catalog.ListMembers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, members)
}

func (h *LibraryHandler) getMember(c *gin.Context) {
	memberID, ok := parseID(c, "member")
	if !ok {
		return
	}
	member, err := h.catalog.GetMember(c.Request.Context(), memberID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

func (h *LibraryHandler) setMemberStatus(c *gin.Context) {
	memberID, ok := parseID(c, "member")
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	member, err := h.catalog.SetMemberStatus(c.Request.Context(), memberID, models.MemberStatus(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

// ─── Reference Tables ─────────────────────────────────────────────────────────

type nameRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Bio         string `json:"bio"`
	Nationality string `json:"nationality"`
	Address     string `json:"address"`
	Website     string `json:"website"`
}

func (h *LibraryHandler) createCategory(c *gin.Context) {
	var req nameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	category, err := h.catalog.CreateCategory(c.Request.Context(), models.Category{Name: req.Name, Description: req.Description})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, category)
}

func (h *LibraryHandler) listCategories(c *gin.Context) {
	categories, err := h.catalog.ListCategories(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, categories)
}

func (h *LibraryHandler) createAuthor(c *gin.Context) {
	var req nameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	author, err := h.catalog.CreateAuthor(c.Request.Context(), models.Author{Name: req.Name, Bio: req.Bio, Nationality: req.Nationality})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, author)
}

func (h *LibraryHandler) listAuthors(c *gin.Context) {
	authors, err := h.catalog.ListAuthors(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, authors)
}

func (h *LibraryHandler) createPublisher(c *gin.Context) {
	var req nameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	publisher, err := h.catalog.CreatePublisher(c.Request.Context(), models.Publisher{Name: req.Name, Address: req.Address, Website: req.Website})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, publisher)
}

func (h *LibraryHandler) listPublishers(c *gin.Context) {
	publishers, err := h.catalog.ListPublishers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, publishers)
}

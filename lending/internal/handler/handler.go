package handler

import (
	"net/http"
	"strconv"

	md "github.com/Astemirdum/lending-service/pkg/middleware"

	"github.com/Astemirdum/lending-service/lending/internal/errs"
	"github.com/Astemirdum/lending-service/lending/internal/model"
	"github.com/Astemirdum/lending-service/pkg/validate"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Handler struct {
	lendingSvc LendingService
	log        *zap.Logger
}

func New(lendingSvc LendingService, log *zap.Logger) *Handler {
	h := &Handler{
		lendingSvc: lendingSvc,
		log:        log,
	}
	return h
}

func (h *Handler) NewRouter() *echo.Echo {
	e := echo.New()
	const (
		baseRPS = 10
		apiRPS  = 100
	)
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 << 10, // 4 KB
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodOptions, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodPost, http.MethodDelete},
		AllowCredentials: true,
	}))

	base := e.Group("", md.NewRateLimiter(baseRPS))
	base.GET("/manage/health", h.Health)

	e.Validator = validate.NewCustomValidator()
	api := e.Group("/api/v1",
		middleware.RequestLoggerWithConfig(md.RequestLoggerConfig()),
		middleware.RequestID(),
		md.NewRateLimiter(apiRPS),
		md.AuthContext,
	)

	api.POST("/borrow/:bookId", h.Borrow)
	api.PUT("/borrow/return/:bookId", h.Return)
	api.GET("/users/:userId/loans", h.ListUserLoans)
	api.GET("/borrow", h.ListBorrowRecords, md.AdminOnly)

	api.GET("/books", h.ListBooks)
	api.POST("/books", h.AddBook, md.AdminOnly)
	api.DELETE("/books/:id", h.DeleteBook, md.AdminOnly)

	return e
}

func (h *Handler) Health(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (h *Handler) Borrow(c echo.Context) error {
	bookID, err := strconv.Atoi(c.Param("bookId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid bookId")
	}
	var req model.BorrowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		return err
	}

	dueDate, err := h.lendingSvc.Borrow(c.Request().Context(), bookID, req.Email)
	if err != nil {
		return lendingHTTPError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message": "Borrowed book recorded successfully.",
		"dueDate": dueDate,
	})
}

func (h *Handler) Return(c echo.Context) error {
	bookID, err := strconv.Atoi(c.Param("bookId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid bookId")
	}
	var req model.BorrowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		return err
	}

	receipt, err := h.lendingSvc.Return(c.Request().Context(), bookID, req.Email)
	if err != nil {
		return lendingHTTPError(err)
	}
	message := "The book has been returned successfully. The total charges are $" + receipt.TotalCharge.String() + "."
	if !receipt.Fine.IsZero() {
		message = "The book has been returned successfully. The total charges, including a fine, are $" + receipt.TotalCharge.String() + "."
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message":     message,
		"fine":        receipt.Fine,
		"totalCharge": receipt.TotalCharge,
	})
}

func (h *Handler) ListUserLoans(c echo.Context) error {
	userID, err := strconv.Atoi(c.Param("userId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid userId")
	}
	loans, err := h.lendingSvc.ListUserLoans(c.Request().Context(), userID)
	if err != nil {
		return lendingHTTPError(err)
	}
	return c.JSON(http.StatusOK, loans)
}

func (h *Handler) ListBorrowRecords(c echo.Context) error {
	recs, err := h.lendingSvc.ListBorrowRecords(c.Request().Context())
	if err != nil {
		return lendingHTTPError(err)
	}
	return c.JSON(http.StatusOK, recs)
}

func (h *Handler) AddBook(c echo.Context) error {
	var req model.AddBookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		return err
	}
	if req.Price.IsNegative() {
		return echo.NewHTTPError(http.StatusBadRequest, errs.ErrInvalidInput.Error())
	}
	book, err := h.lendingSvc.AddBook(c.Request().Context(), req)
	if err != nil {
		return lendingHTTPError(err)
	}
	return c.JSON(http.StatusCreated, book)
}

func (h *Handler) ListBooks(c echo.Context) error {
	books, err := h.lendingSvc.ListBooks(c.Request().Context())
	if err != nil {
		return lendingHTTPError(err)
	}
	return c.JSON(http.StatusOK, books)
}

func (h *Handler) DeleteBook(c echo.Context) error {
	bookID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.lendingSvc.DeleteBook(c.Request().Context(), bookID); err != nil {
		return lendingHTTPError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Book deleted successfully."})
}

func lendingHTTPError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, errs.ErrOutOfStock),
		errors.Is(err, errs.ErrAlreadyBorrowed),
		errors.Is(err, errs.ErrNotBorrowed),
		errors.Is(err, errs.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

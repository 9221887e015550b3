package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/librarydesk/circulation/internal/metrics"
	"github.com/librarydesk/circulation/internal/services"
)

// Deps is everything the HTTP layer needs.
type Deps struct {
	Library services.LibraryService
	Catalog services.CatalogService
	Users   services.UserService
	Reports services.ReportService

	Tokens       TokenParser
	LoginLimiter *RateLimiter
	Health       func(ctx context.Context) error
	Log          logrus.FieldLogger
}

type LibraryHandler struct {
	library services.LibraryService
	catalog services.CatalogService
	users   services.UserService
	reports services.ReportService
	health  func(ctx context.Context) error
	log     logrus.FieldLogger
}

func RegisterRoutes(r *gin.Engine, deps Deps) {
	h := &LibraryHandler{
		library: deps.Library,
		catalog: deps.Catalog,
		users:   deps.Users,
		reports: deps.Reports,
		health:  deps.Health,
		log:     deps.Log,
	}

	r.GET("/healthz", h.healthz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")

	// Public endpoints
	api.POST("/register", h.register)
	login := api.Group("/login")
	if deps.LoginLimiter != nil {
		login.Use(deps.LoginLimiter.Handler())
	}
	login.POST("", h.login)

	authed := api.Group("", Authenticate(deps.Tokens))

	// Catalogue
	authed.GET("/books", h.listBooks)
	authed.POST("/books", h.addBook)
	authed.GET("/books/:id", h.getBook)
	authed.PUT("/books/:id", h.updateBook)
	authed.DELETE("/books/:id", h.deleteBook)

	// Circulation
	authed.GET("/dashboard", h.dashboard)
	authed.POST("/hold/:id", h.placeHold)
	authed.POST("/borrow/:id", h.borrow)
	authed.POST("/return/:id", h.returnLoan)
	authed.POST("/payfine/:id", h.payFine)

	// Librarian endpoints
	authed.GET("/reports", h.report)
	authed.GET("/users", h.listUsers)
	authed.GET("/users/:id", h.getUser)
	authed.PUT("/users/:id", h.updateUser)
	authed.DELETE("/users/:id", h.deleteUser)
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// statusFor maps a service error onto its HTTP status.
func statusFor(err error) int {
	switch services.KindOf(err) {
	case services.KindValidation, services.KindInvalidState:
		return http.StatusBadRequest
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindConflict:
		return http.StatusConflict
	case services.KindAccessDenied:
		return http.StatusForbidden
	case services.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (h *LibraryHandler) respondError(c *gin.Context, err error) {
	status := statusFor(err)

	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(status, gin.H{"error": "validation failed", "errors": verr.Fields})
	case status == http.StatusInternalServerError:
		h.log.WithError(err).WithField("path", c.Request.URL.Path).Error("request failed")
		c.JSON(status, gin.H{"error": "internal server error"})
	default:
		c.JSON(status, gin.H{"error": err.Error()})
	}
}

func parseID(c *gin.Context, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + what + " id"})
		return uuid.Nil, false
	}
	return id, true
}

// bindJSON decodes the request body. A value of the wrong JSON type is
// reported against its field like any other validation failure.
func (h *LibraryHandler) bindJSON(c *gin.Context, dst interface{}) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return true
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		verr := &services.ValidationError{}
		verr.Add(typeErr.Field, typeMessage(typeErr.Type))
		h.respondError(c, verr)
		return false
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
	return false
}

func typeMessage(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "Not a valid integer"
	case reflect.Float32, reflect.Float64:
		return "Not a valid number"
	case reflect.String:
		return "Not a valid string"
	case reflect.Bool:
		return "Not a valid boolean"
	default:
		return "Invalid value"
	}
}

func (h *LibraryHandler) healthz(c *gin.Context) {
	if h.health != nil {
		if err := h.health(c.Request.Context()); err != nil {
			h.log.WithError(err).Error("healthz: database unreachable")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ─── Accounts ─────────────────────────────────────────────────────────────────

func (h *LibraryHandler) register(c *gin.Context) {
	var req services.RegisterInput
	if !h.bindJSON(c, &req) {
		return
	}
	user, err := h.users.Register(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *LibraryHandler) login(c *gin.Context) {
	var req services.LoginInput
	if !h.bindJSON(c, &req) {
		return
	}
	session, err := h.users.Login(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// ─── Catalogue ────────────────────────────────────────────────────────────────

func (h *LibraryHandler) listBooks(c *gin.Context) {
	books, err := h.catalog.ListBooks(c.Request.Context(), c.Query("search"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, books)
}

func (h *LibraryHandler) getBook(c *gin.Context) {
	id, ok := parseID(c, "book")
	if !ok {
		return
	}
	book, err := h.catalog.GetBook(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (h *LibraryHandler) addBook(c *gin.Context) {
	var req services.BookInput
	if !h.bindJSON(c, &req) {
		return
	}
	book, err := h.catalog.AddBook(c.Request.Context(), identityFrom(c), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, book)
}

func (h *LibraryHandler) updateBook(c *gin.Context) {
	id, ok := parseID(c, "book")
	if !ok {
		return
	}
	var req services.BookInput
	if !h.bindJSON(c, &req) {
		return
	}
	book, err := h.catalog.UpdateBook(c.Request.Context(), identityFrom(c), id, req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (h *LibraryHandler) deleteBook(c *gin.Context) {
	id, ok := parseID(c, "book")
	if !ok {
		return
	}
	if err := h.catalog.DeleteBook(c.Request.Context(), identityFrom(c), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ─── Circulation ──────────────────────────────────────────────────────────────

func (h *LibraryHandler) dashboard(c *gin.Context) {
	dash, err := h.library.Dashboard(c.Request.Context(), identityFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dash)
}

func (h *LibraryHandler) placeHold(c *gin.Context) {
	id, ok := parseID(c, "book")
	if !ok {
		return
	}
	hold, err := h.library.PlaceHold(c.Request.Context(), identityFrom(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, hold)
}

func (h *LibraryHandler) borrow(c *gin.Context) {
	id, ok := parseID(c, "book")
	if !ok {
		return
	}
	loan, err := h.library.Borrow(c.Request.Context(), identityFrom(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, loan)
}

func (h *LibraryHandler) returnLoan(c *gin.Context) {
	id, ok := parseID(c, "loan")
	if !ok {
		return
	}
	result, err := h.library.Return(c.Request.Context(), identityFrom(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *LibraryHandler) payFine(c *gin.Context) {
	id, ok := parseID(c, "fine")
	if !ok {
		return
	}
	fine, err := h.library.PayFine(c.Request.Context(), identityFrom(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, fine)
}

// ─── Administration ───────────────────────────────────────────────────────────

func (h *LibraryHandler) report(c *gin.Context) {
	report, err := h.reports.GenerateReport(c.Request.Context(), identityFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *LibraryHandler) listUsers(c *gin.Context) {
	users, err := h.users.ListUsers(c.Request.Context(), identityFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *LibraryHandler) getUser(c *gin.Context) {
	id, ok := parseID(c, "user")
	if !ok {
		return
	}
	user, err := h.users.GetUser(c.Request.Context(), identityFrom(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *LibraryHandler) updateUser(c *gin.Context) {
	id, ok := parseID(c, "user")
	if !ok {
		return
	}
	var req services.UpdateUserInput
	if !h.bindJSON(c, &req) {
		return
	}
	user, err := h.users.UpdateUser(c.Request.Context(), identityFrom(c), id, req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *LibraryHandler) deleteUser(c *gin.Context) {
	id, ok := parseID(c, "user")
	if !ok {
		return
	}
	if err := h.users.DeleteUser(c.Request.Context(), identityFrom(c), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

package httpx

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/asiradnan/musical-bassoon/pkg/auth"
	"github.com/asiradnan/musical-bassoon/services/booking-service/internal/domain"
	"github.com/asiradnan/musical-bassoon/services/booking-service/internal/service"
)

type BookingHandler struct {
	svc *service.BookingSvc
	log *logrus.Logger
}

func NewBookingHandler(svc *service.BookingSvc, log *logrus.Logger) *BookingHandler {
	return &BookingHandler{svc: svc, log: log}
}

// Register mounts the booking API on r.
func Register(r *gin.Engine, h *BookingHandler, jwtSecret []byte) {
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/api")
	api.Use(Tracing("booking-service"))
	api.GET("/rooms", h.Rooms)

	b := api.Group("/bookings")
	b.GET("/availability", h.Availability)

	secured := b.Group("")
	secured.Use(JWTAuth(jwtSecret))
	{
		secured.POST("", h.Create)
		secured.GET("/mybookings", h.Mine)
		secured.GET("/:id", h.Get)
		secured.PUT("/:id/pay", h.Pay)
		secured.PUT("/:id/cancel", h.Cancel)

		admin := secured.Group("")
		admin.Use(RequireRole(auth.RoleAdmin))
		admin.GET("", h.List)
	}
}

// GET /api/rooms
func (h *BookingHandler) Rooms(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Rooms())
}

// GET /api/bookings/availability?room=Studio%20A&date=2026-10-20
func (h *BookingHandler) Availability(c *gin.Context) {
	out, err := h.svc.Availability(c.Request.Context(), c.Query("room"), c.Query("date"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// POST /api/bookings
func (h *BookingHandler) Create(c *gin.Context) {
	var in service.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, domain.BadRequest(err.Error()))
		return
	}
	b, err := h.svc.Create(c.Request.Context(), actorFrom(c), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// GET /api/bookings/mybookings
func (h *BookingHandler) Mine(c *gin.Context) {
	list, err := h.svc.ListForUser(c.Request.Context(), actorFrom(c).UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(list))
}

// GET /api/bookings (ADMIN)
func (h *BookingHandler) List(c *gin.Context) {
	list, err := h.svc.ListAll(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(list))
}

// GET /api/bookings/:id
func (h *BookingHandler) Get(c *gin.Context) {
	b, err := h.svc.Get(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// payBody mirrors the payment widget's callback payload.
type payBody struct {
	ID         string `json:"id" binding:"required"`
	Status     string `json:"status"`
	UpdateTime string `json:"update_time"`
	Payer      struct {
		EmailAddress string `json:"email_address"`
	} `json:"payer"`
}

// PUT /api/bookings/:id/pay
func (h *BookingHandler) Pay(c *gin.Context) {
	var in payBody
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, domain.BadRequest(err.Error()))
		return
	}
	pr := domain.PaymentResult{
		ID:           in.ID,
		Status:       in.Status,
		UpdateTime:   in.UpdateTime,
		EmailAddress: in.Payer.EmailAddress,
	}
	b, err := h.svc.Pay(c.Request.Context(), actorFrom(c), c.Param("id"), pr)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// PUT /api/bookings/:id/cancel
func (h *BookingHandler) Cancel(c *gin.Context) {
	b, err := h.svc.Cancel(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *BookingHandler) fail(c *gin.Context, err error) {
	var de *domain.Error
	if errors.As(err, &de) {
		c.JSON(de.Status(), gin.H{"error": de.Kind, "message": de.Message})
		return
	}
	h.log.WithFields(logrus.Fields{"path": c.FullPath(), "method": c.Request.Method}).WithError(err).Error("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal", "message": "internal server error"})
}

func nonNil(list []domain.Booking) []domain.Booking {
	if list == nil {
		return []domain.Booking{}
	}
	return list
}

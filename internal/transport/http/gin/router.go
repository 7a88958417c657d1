package httpgin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kirinyoku/tix-checkin/internal/repository"
	redisrepo "github.com/kirinyoku/tix-checkin/internal/repository/redis"
	"github.com/kirinyoku/tix-checkin/internal/service"
	"github.com/kirinyoku/tix-checkin/internal/service/admission"
	"github.com/kirinyoku/tix-checkin/internal/service/events"
	"github.com/kirinyoku/tix-checkin/internal/service/metrics"
	"github.com/kirinyoku/tix-checkin/internal/service/tickets"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const (
	idemLockTTL = 60 * time.Second

	// statusClientClosedRequest is logged when the caller hung up before the
	// scan entered its gate section. Nothing was recorded.
	statusClientClosedRequest = 499
)

// NewRouter builds the HTTP API. idem and limiter may be nil; the
// Idempotency-Key header and per-gate rate limiting are then ignored.
func NewRouter(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	limiter *redisrepo.SlidingWindowLimiter,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Gate API
	r.POST("/checkin", handleCheckIn(svcs, idem, limiter, logger))
	r.GET("/events/:id/checkin-metrics", handleGetCheckInMetrics(svcs))
	r.GET("/tickets/:id/checkins", handleListTicketCheckIns(svcs))
	r.GET("/tickets/:id/qr.png", handleTicketQRCode(svcs))

	// Admin-API
	admin := r.Group("/admin")
	{
		admin.POST("/events/:id/checkin", handleOpenCheckIn(svcs))
		admin.GET("/events/:id/checkin", handleGetCheckInWindow(svcs))
		admin.POST("/events/:id/checkin-metrics/rebuild", handleRebuildMetrics(svcs))
		admin.POST("/tickets", handleIssueTicket(svcs))
		admin.POST("/tickets/:id/cancel", handleCancelTicket(svcs))
	}

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  Check in a scanned ticket
// @Description Every classified scan answers 200; outcome tells the gate what to do.
// @Param    req             body    CheckInRequest true  "scan"
// @Param    Idempotency-Key header  string         false "replays the first committed response"
// @Success  200 {object} CheckInResponse
// @Failure  400 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse
// @Failure  429 {object} ErrorResponse
// @Failure  499 {object} ErrorResponse
// @Failure  503 {object} ErrorResponse
// @Router   /checkin [post]
func handleCheckIn(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	limiter *redisrepo.SlidingWindowLimiter,
	logger *slog.Logger,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CheckInRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		if limiter != nil {
			allowed, _, retryAfter, err := limiter.Allow(c.Request.Context(), "gate:"+req.ScannedBy)
			switch {
			case err != nil:
				// Admission must not depend on the limiter being reachable.
				logger.Warn("checkin rate limiter unavailable", slog.Any("err", err))
			case !allowed:
				c.Header("Retry-After", retryAfterSeconds(retryAfter))
				c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limited"})
				return
			}
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemCheckIn(req.EventID, idemKey)

			if replayIdempotent(c, idem, idemStorageKey, idemKey) {
				return
			}

			locked, err := idem.AcquireLock(c.Request.Context(), idemStorageKey, idemLockTTL)
			if err != nil {
				logger.Warn("idempotency store unavailable", slog.Any("err", err))
				idemStorageKey = ""
			} else if !locked {
				if replayIdempotent(c, idem, idemStorageKey, idemKey) {
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress"})
				return
			}
		}

		v, err := svcs.CheckIn(c.Request.Context(), admission.Scan{
			EventID:   req.EventID,
			Payload:   req.ScannedPayload,
			ScannedBy: req.ScannedBy,
		})
		if err != nil || v.Outcome.Retryable() {
			if idemStorageKey != "" {
				// The caller may be gone; the key must still be freed.
				_ = idem.Release(context.WithoutCancel(c.Request.Context()), idemStorageKey)
			}
		}
		if err != nil {
			respondErr(c, err)
			return
		}

		resp := newCheckInResponse(v)

		if idemStorageKey != "" && !v.Outcome.Retryable() {
			b, _ := json.Marshal(resp)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(b))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusOK, resp)
	}
}

// @Summary  Get check-in metrics
// @Param    id  path  int  true  "Event ID"
// @Success  200  {object}  domain.CheckInMetrics
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id}/checkin-metrics [get]
func handleGetCheckInMetrics(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		m, err := svcs.Metrics.Snapshot(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		// ETag + Cache-Control 2s
		writeJSONWithCache(c, http.StatusOK, m, "public, max-age=2", true)
	}
}

// @Summary  List the scans recorded for a ticket
// @Param    id  path  string  true  "Ticket ID (uuid)"
// @Success  200 {array}  CheckInRecordResponse
// @Failure  404 {object} ErrorResponse
// @Router   /tickets/{id}/checkins [get]
func handleListTicketCheckIns(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		ticketID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		recs, err := svcs.Admission.History(c.Request.Context(), ticketID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, newCheckInRecordResponses(recs))
	}
}

// @Summary  Render a ticket's credential as a QR code
// @Param    id    path   string  true   "Ticket ID (uuid)"
// @Param    size  query  int     false  "edge length in pixels"
// @Produce  png
// @Success  200
// @Failure  404 {object} ErrorResponse
// @Router   /tickets/{id}/qr.png [get]
func handleTicketQRCode(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		ticketID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		size := parseIntDefault(c.Query("size"), tickets.DefaultQRSize)
		png, err := svcs.Tickets.QRCodePNG(c.Request.Context(), ticketID, size)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.Header("Cache-Control", "private, no-store")
		c.Data(http.StatusOK, "image/png", png)
	}
}

// @Summary  Open check-in for an event
// @Param    id  path  int  true  "Event ID"
// @Param    req body  OpenCheckInRequest true "payload"
// @Success  201 {object} CheckInWindowResponse
// @Failure  400 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse
// @Router   /admin/events/{id}/checkin [post]
func handleOpenCheckIn(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req OpenCheckInRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		w, err := svcs.Events.OpenCheckIn(c.Request.Context(), eventID, req.Capacity)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, newCheckInWindowResponse(w))
	}
}

// @Summary  Get the check-in window of an event
// @Param    id  path  int  true  "Event ID"
// @Success  200 {object} CheckInWindowResponse
// @Failure  404 {object} ErrorResponse
// @Router   /admin/events/{id}/checkin [get]
func handleGetCheckInWindow(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		w, err := svcs.Events.Window(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, newCheckInWindowResponse(w))
	}
}

// @Summary  Recount check-in metrics from the ticket store
// @Param    id  path  int  true  "Event ID"
// @Success  200 {object} RebuildMetricsResponse
// @Router   /admin/events/{id}/checkin-metrics/rebuild [post]
func handleRebuildMetrics(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		n, err := svcs.Metrics.Rebuild(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, RebuildMetricsResponse{EventID: eventID, TotalCheckedIn: n})
	}
}

// @Summary  Issue a ticket
// @Param    req body  IssueTicketRequest true "payload"
// @Success  201 {object} TicketResponse
// @Failure  409 {object} ErrorResponse
// @Router   /admin/tickets [post]
func handleIssueTicket(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req IssueTicketRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		t, err := svcs.Tickets.Issue(
			c.Request.Context(),
			req.EventID,
			req.UserID,
			req.AttendeeName,
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, newTicketResponse(t, true))
	}
}

// @Summary  Cancel a ticket
// @Param    id  path  string  true  "Ticket ID (uuid)"
// @Success  200 {object} TicketResponse
// @Failure  404 {object} ErrorResponse
// @Router   /admin/tickets/{id}/cancel [post]
func handleCancelTicket(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		ticketID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		t, err := svcs.Tickets.Cancel(c.Request.Context(), ticketID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, newTicketResponse(t, false))
	}
}

// --- Helpers ---

func replayIdempotent(c *gin.Context, idem *redisrepo.IdempotencyStore, storageKey, idemKey string) bool {
	payload, ok, _ := idem.GetResult(c.Request.Context(), storageKey)
	if !ok {
		return false
	}
	c.Header("Idempotency-Key", idemKey)
	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(payload))
	return true
}

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	v, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return v, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func retryAfterSeconds(d time.Duration) string {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	_ = c.Error(err)

	switch {
	// admission
	case errors.Is(err, admission.ErrIntegrity):
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "integrity error"})
	case errors.Is(err, admission.ErrStoreUnavailable),
		errors.Is(err, repository.ErrUnavailable):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "storage unavailable, retry the same scan"})
	case errors.Is(err, admission.ErrTicketNotFound),
		errors.Is(err, tickets.ErrTicketNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "ticket not found"})
	// tickets
	case errors.Is(err, tickets.ErrCapacityExhausted):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "event capacity exhausted"})
	case errors.Is(err, tickets.ErrCodeExhausted):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "could not allocate ticket code"})
	// events
	case errors.Is(err, events.ErrInvalidCapacity):
		badRequest(c, "capacity must be positive")
	case errors.Is(err, events.ErrAlreadyOpen):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "check-in already open"})
	case errors.Is(err, events.ErrCapacityTooSmall):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "capacity below valid and used tickets"})
	case errors.Is(err, events.ErrWindowNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "check-in not open"})
	// metrics
	case errors.Is(err, metrics.ErrCheckInNotOpen):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "check-in not open"})
	// caller gave up
	case errors.Is(err, context.Canceled):
		c.JSON(statusClientClosedRequest, ErrorResponse{Error: "request cancelled"})
	case errors.Is(err, context.DeadlineExceeded):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "request timed out, retry the same scan"})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/recircle/config"
	"github.com/example/recircle/internal/auth"
	"github.com/example/recircle/internal/usecase"
	"github.com/example/recircle/internal/voucher"
)

// maxImageBytes caps the uploaded camera frame size.
const maxImageBytes = 8 << 20

// Handler bundles the HTTP endpoints with their dependencies.
type Handler struct {
	uc       *usecase.VerificationUseCase
	vouchers *voucher.Service
	logger   *zap.Logger
}

// New constructs the HTTP handler set.
func New(uc *usecase.VerificationUseCase, vouchers *voucher.Service, logger *zap.Logger) *Handler {
	return &Handler{uc: uc, vouchers: vouchers, logger: logger.Named("handlers")}
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, h *Handler, cfg *config.Config) {
	router.Use(CORSMiddleware(cfg.Server.AllowedOrigins))

	router.GET("/health", h.Health)

	optional := auth.OptionalJWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience)
	required := auth.JWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience)

	router.POST("/verify", optional, h.Verify)
	router.GET("/verify/:id", optional, h.GetResult)
	router.GET("/scans", optional, h.History)
	router.GET("/points", optional, h.GetBalance)
	router.GET("/community", h.Community)

	router.POST("/vouchers", required, h.IssueVoucher)
	router.POST("/vouchers/validate", h.ValidateVoucher)
}

// Health reports service liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Verify runs one verification for a scanned barcode. The barcode arrives as a
// form value; a live camera frame may accompany it as a multipart file.
func (h *Handler) Verify(c *gin.Context) {
	barcode := c.PostForm("barcode")
	if barcode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "barcode is required"})
		return
	}

	subject := auth.ResolveSubject(c)

	if h.uc.InCooldown(c.Request.Context(), subject, barcode) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "scan already in progress, please wait"})
		return
	}

	liveImage, ok := h.readLiveImage(c)
	if !ok {
		return
	}

	result, err := h.uc.Verify(c.Request.Context(), subject, barcode, liveImage)
	if err != nil {
		if errors.Is(err, usecase.ErrEmptyBarcode) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("verification failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		return
	}

	c.Header(auth.SessionHeader, subject.ID)
	c.JSON(http.StatusOK, result)
}

// readLiveImage extracts the optional camera frame from the multipart form.
// The second return is false when a response has already been written.
func (h *Handler) readLiveImage(c *gin.Context) ([]byte, bool) {
	file, err := c.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, true
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image upload"})
		return nil, false
	}
	if file.Size > maxImageBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return nil, false
	}
	if ct := file.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported image type"})
		return nil, false
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return nil, false
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, maxImageBytes))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return nil, false
	}
	return data, true
}

// GetResult retrieves a recent verification outcome by scan id.
func (h *Handler) GetResult(c *gin.Context) {
	scanID := c.Param("id")
	if scanID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}

	subject := auth.ResolveSubject(c)
	result, err := h.uc.GetResult(c.Request.Context(), subject, scanID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// History lists recent scans for the requesting subject, newest first.
func (h *Handler) History(c *gin.Context) {
	subject := auth.ResolveSubject(c)

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	records, err := h.uc.History(c.Request.Context(), subject, limit)
	if err != nil {
		h.logger.Error("failed to list scans", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load scan history"})
		return
	}

	scans := make([]gin.H, 0, len(records))
	for _, record := range records {
		scans = append(scans, gin.H{
			"scan_id":       record.ScanID,
			"barcode":       record.Barcode,
			"outcome":       record.Outcome,
			"reason":        record.Reason,
			"points_earned": record.PointsEarned,
			"created_at":    record.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"scans": scans})
}

// GetBalance returns the point balance for the requesting subject.
func (h *Handler) GetBalance(c *gin.Context) {
	subject := auth.ResolveSubject(c)

	balance, err := h.uc.GetBalance(c.Request.Context(), subject)
	if err != nil {
		h.logger.Error("failed to load balance", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load balance"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"points": balance, "anonymous": subject.Anonymous})
}

// Community exposes community-wide recycling stats.
func (h *Handler) Community(c *gin.Context) {
	summary, err := h.uc.GetCommunitySummary(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to load community summary", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load community stats"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

type issueVoucherRequest struct {
	Points int64 `json:"points" binding:"required"`
}

// IssueVoucher exchanges earned points for a signed voucher. Requires an
// authenticated user; anonymous session points cannot be cashed out.
func (h *Handler) IssueVoucher(c *gin.Context) {
	var req issueVoucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "points is required"})
		return
	}

	userID, ok := auth.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	issued, err := h.vouchers.Issue(c.Request.Context(), userID, req.Points)
	if err != nil {
		switch {
		case errors.Is(err, voucher.ErrInsufficientPoints):
			c.JSON(http.StatusConflict, gin.H{"error": "insufficient points"})
		default:
			h.logger.Error("voucher issue failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue voucher"})
		}
		return
	}
	c.JSON(http.StatusCreated, issued)
}

type validateVoucherRequest struct {
	Token string `json:"token" binding:"required"`
}

// ValidateVoucher verifies a voucher token and redeems the voucher. Called by
// the partner point of sale, not by the scanning UI.
func (h *Handler) ValidateVoucher(c *gin.Context) {
	var req validateVoucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}

	redeemed, err := h.vouchers.Redeem(c.Request.Context(), req.Token)
	if err != nil {
		switch {
		case errors.Is(err, voucher.ErrInvalidToken):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid voucher token"})
		case errors.Is(err, voucher.ErrAlreadyRedeemed):
			c.JSON(http.StatusConflict, gin.H{"error": "voucher already redeemed"})
		case errors.Is(err, voucher.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "voucher not found"})
		default:
			h.logger.Error("voucher redemption failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to redeem voucher"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"voucher_id":  redeemed.ID,
		"amount":      redeemed.Amount,
		"status":      redeemed.Status,
		"redeemed_at": redeemed.RedeemedAt,
	})
}

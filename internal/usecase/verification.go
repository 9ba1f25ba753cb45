package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/recircle/internal/auth"
	"github.com/example/recircle/internal/classifier"
	"github.com/example/recircle/internal/conveyor"
	"github.com/example/recircle/internal/logging"
	"github.com/example/recircle/internal/product"
	"github.com/example/recircle/internal/repository"
	"github.com/example/recircle/internal/vision"
)

// ErrEmptyBarcode is returned before any network call when the barcode is
// blank.
var ErrEmptyBarcode = errors.New("barcode is required")

const (
	communityBottlesKey = "community:total_bottles"
	sessionPointsKeyFmt = "session:%s:points"
	scanResultKeyFmt    = "scan:%s"
	cooldownKeyFmt      = "cooldown:%s:%s"

	scanResultTTL    = 5 * time.Minute
	sessionPointsTTL = 24 * time.Hour
)

// Status is the terminal, user-facing outcome of one verification.
type Status string

const (
	// StatusAccepted means the item was verified as a plastic bottle and
	// points were awarded.
	StatusAccepted Status = "accepted"
	// StatusRejected means verification completed with a negative
	// determination.
	StatusRejected Status = "rejected"
	// StatusError means verification could not be completed at all.
	StatusError Status = "error"
)

// Result is the terminal outcome returned to the scanning UI. Reason is
// always populated and suitable for direct display.
type Result struct {
	ScanID       string  `json:"scan_id"`
	Status       Status  `json:"status"`
	Reason       string  `json:"reason"`
	PointsEarned int     `json:"points_earned"`
	ProductImage string  `json:"product_image,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
}

// ProductLookup fetches product metadata for a barcode.
type ProductLookup interface {
	Lookup(ctx context.Context, barcode string) (*product.Record, error)
}

// ImageFetcher downloads a product stock photo for image analysis.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Repository defines the persistence operations needed by the use case.
type Repository interface {
	CreditPoints(ctx context.Context, userID string, amount int64) error
	GetPoints(ctx context.Context, userID string) (int64, error)
	AppendScan(ctx context.Context, record *repository.ScanRecord) error
	ListScans(ctx context.Context, subjectID string, limit int) ([]*repository.ScanRecord, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// VerificationUseCase coordinates the lookup, classification, and fallback
// stages of one scan and fires the downstream side effects.
type VerificationUseCase struct {
	lookup          ProductLookup
	detector        vision.Detector
	images          ImageFetcher
	repo            Repository
	cache           Cache
	signaler        conveyor.Signaler
	logger          *zap.Logger
	pointsPerBottle int
	scanCooldown    time.Duration
}

// NewVerificationUseCase constructs a new use case instance.
func NewVerificationUseCase(
	lookup ProductLookup,
	detector vision.Detector,
	images ImageFetcher,
	repo Repository,
	cache Cache,
	signaler conveyor.Signaler,
	pointsPerBottle int,
	scanCooldown time.Duration,
	logger *zap.Logger,
) *VerificationUseCase {
	if pointsPerBottle <= 0 {
		pointsPerBottle = 10
	}
	return &VerificationUseCase{
		lookup:          lookup,
		detector:        detector,
		images:          images,
		repo:            repo,
		cache:           cache,
		signaler:        signaler,
		logger:          logger.Named("verification_usecase"),
		pointsPerBottle: pointsPerBottle,
		scanCooldown:    scanCooldown,
	}
}

// Verify runs one verification for a barcode on behalf of a subject. Each
// call is independent: the use case performs no deduplication of its own.
//
// The stages are sequential: product lookup, text classification, then the
// image fallback only when the text stage is inconclusive. Image-stage
// failures resolve to a rejection (fail closed) rather than an error, since
// at that point the user already expects a verdict.
func (uc *VerificationUseCase) Verify(ctx context.Context, subject auth.Subject, barcode string, liveImage []byte) (*Result, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, ErrEmptyBarcode
	}

	scanID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.verify", scanID).
		With(zap.String("barcode", barcode), zap.Bool("anonymous", subject.Anonymous))

	record, err := uc.lookup.Lookup(ctx, barcode)
	switch {
	case errors.Is(err, product.ErrNotFound):
		// Unknown products default to accepted: the database is far from
		// exhaustive and the kiosk should not punish obscure brands.
		opLogger.Info("product not in database, accepting by default")
		return uc.finalizeAccepted(ctx, opLogger, subject, scanID, barcode,
			"not in database, accepted by default", "", 0)
	case err != nil:
		opLogger.Error("product lookup failed", zap.Error(err))
		result := &Result{
			ScanID: scanID,
			Status: StatusError,
			Reason: "could not reach the product database, please try again",
		}
		uc.cacheResult(ctx, opLogger, result)
		return result, nil
	}

	verdict := classifier.ClassifyText(record)
	opLogger.Info("text classification complete",
		zap.String("outcome", string(verdict.Outcome)),
		zap.String("reason", verdict.Reason))

	switch verdict.Outcome {
	case classifier.Accepted:
		return uc.finalizeAccepted(ctx, opLogger, subject, scanID, barcode, verdict.Reason, record.ImageURL, 0)
	case classifier.Rejected:
		return uc.finalizeRejected(ctx, opLogger, subject, scanID, barcode, verdict.Reason, record.ImageURL, 0)
	}

	return uc.verifyByImage(ctx, opLogger, subject, scanID, barcode, record, liveImage)
}

// verifyByImage resolves an inconclusive text verdict through image analysis,
// preferring the live camera frame over the product stock photo.
func (uc *VerificationUseCase) verifyByImage(ctx context.Context, opLogger *zap.Logger, subject auth.Subject, scanID, barcode string, record *product.Record, liveImage []byte) (*Result, error) {
	imageBytes := liveImage
	if len(imageBytes) == 0 {
		if record.ImageURL == "" {
			return uc.finalizeRejected(ctx, opLogger, subject, scanID, barcode,
				"could not identify the product and no image is available", "", 0)
		}
		fetched, err := uc.images.Fetch(ctx, record.ImageURL)
		if err != nil {
			opLogger.Warn("stock photo fetch failed, rejecting", zap.Error(err))
			return uc.finalizeRejected(ctx, opLogger, subject, scanID, barcode,
				"image analysis failed, item not accepted", record.ImageURL, 0)
		}
		imageBytes = fetched
	}

	detection, err := uc.detector.Detect(ctx, imageBytes)
	if err != nil {
		// Fail closed: an unreachable analysis service must not hand out
		// points for unverified items.
		opLogger.Warn("image analysis failed, rejecting", zap.Error(err))
		return uc.finalizeRejected(ctx, opLogger, subject, scanID, barcode,
			"image analysis failed, item not accepted", record.ImageURL, 0)
	}

	if detection.IsMatch {
		reason := "plastic bottle recognized in image"
		if detection.Evidence != "" {
			reason = fmt.Sprintf("plastic bottle recognized in image (%s)", detection.Evidence)
		}
		return uc.finalizeAccepted(ctx, opLogger, subject, scanID, barcode, reason, record.ImageURL, detection.Confidence)
	}
	return uc.finalizeRejected(ctx, opLogger, subject, scanID, barcode,
		"no plastic bottle detected in image", record.ImageURL, detection.Confidence)
}

// finalizeAccepted awards points and fires the downstream effects in order:
// point credit, scan history, community counter, conveyor signal. Failures
// past the decision never change the returned result.
func (uc *VerificationUseCase) finalizeAccepted(ctx context.Context, opLogger *zap.Logger, subject auth.Subject, scanID, barcode, reason, imageURL string, confidence float64) (*Result, error) {
	if err := uc.creditPoints(ctx, subject); err != nil {
		opLogger.Error("point credit failed", zap.Error(err))
	}

	uc.appendScan(ctx, opLogger, subject, scanID, barcode, StatusAccepted, reason, uc.pointsPerBottle, confidence)

	if _, err := uc.cache.IncrBy(ctx, communityBottlesKey, 1); err != nil {
		opLogger.Warn("community counter increment failed", zap.Error(err))
	}

	uc.signaler.Send(ctx, conveyor.DecisionAccepted)

	result := &Result{
		ScanID:       scanID,
		Status:       StatusAccepted,
		Reason:       reason,
		PointsEarned: uc.pointsPerBottle,
		ProductImage: imageURL,
		Confidence:   confidence,
	}
	uc.cacheResult(ctx, opLogger, result)
	return result, nil
}

func (uc *VerificationUseCase) finalizeRejected(ctx context.Context, opLogger *zap.Logger, subject auth.Subject, scanID, barcode, reason, imageURL string, confidence float64) (*Result, error) {
	uc.appendScan(ctx, opLogger, subject, scanID, barcode, StatusRejected, reason, 0, confidence)

	uc.signaler.Send(ctx, conveyor.DecisionRejected)

	result := &Result{
		ScanID:       scanID,
		Status:       StatusRejected,
		Reason:       reason,
		ProductImage: imageURL,
		Confidence:   confidence,
	}
	uc.cacheResult(ctx, opLogger, result)
	return result, nil
}

// creditPoints credits exactly once per accepted verification: registered
// users get a durable profile credit, anonymous sessions an expiring counter
// they can merge at signup.
func (uc *VerificationUseCase) creditPoints(ctx context.Context, subject auth.Subject) error {
	if subject.Anonymous {
		key := fmt.Sprintf(sessionPointsKeyFmt, subject.ID)
		if _, err := uc.cache.IncrBy(ctx, key, int64(uc.pointsPerBottle)); err != nil {
			return logging.NewOperationError("usecase.credit_session_points", subject.ID, err)
		}
		// Refresh the expiry window on every credit.
		return uc.cache.Expire(ctx, key, sessionPointsTTL)
	}
	return uc.repo.CreditPoints(ctx, subject.ID, int64(uc.pointsPerBottle))
}

func (uc *VerificationUseCase) appendScan(ctx context.Context, opLogger *zap.Logger, subject auth.Subject, scanID, barcode string, status Status, reason string, points int, confidence float64) {
	record := &repository.ScanRecord{
		ScanID:       scanID,
		SubjectID:    subject.ID,
		Anonymous:    subject.Anonymous,
		Barcode:      barcode,
		Outcome:      string(status),
		Reason:       reason,
		PointsEarned: points,
		Confidence:   confidence,
		CreatedAt:    time.Now().UTC(),
	}
	if err := uc.repo.AppendScan(ctx, record); err != nil {
		opLogger.Error("failed to persist scan record", zap.Error(err))
	}
}

func (uc *VerificationUseCase) cacheResult(ctx context.Context, opLogger *zap.Logger, result *Result) {
	serialized, err := json.Marshal(result)
	if err != nil {
		opLogger.Error("failed to serialize scan result", zap.Error(err))
		return
	}
	key := fmt.Sprintf(scanResultKeyFmt, result.ScanID)
	if err := uc.cache.Set(ctx, key, string(serialized), scanResultTTL); err != nil {
		opLogger.Warn("failed to cache scan result", zap.Error(err))
	}
}

// GetResult retrieves a recent verification outcome by scan id, falling back
// to scan history when the cache entry has expired.
func (uc *VerificationUseCase) GetResult(ctx context.Context, subject auth.Subject, scanID string) (*Result, error) {
	key := fmt.Sprintf(scanResultKeyFmt, scanID)
	if cached, err := uc.cache.Get(ctx, key); err == nil {
		var result Result
		if err := json.Unmarshal([]byte(cached), &result); err == nil {
			return &result, nil
		}
		logging.WithOperation(uc.logger, "usecase.get_result", scanID).Warn("failed to decode cached result")
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_result", scanID).Warn("failed to read cache", zap.Error(err))
	}

	records, err := uc.repo.ListScans(ctx, subject.ID, 100)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if record.ScanID == scanID {
			return &Result{
				ScanID:       record.ScanID,
				Status:       Status(record.Outcome),
				Reason:       record.Reason,
				PointsEarned: record.PointsEarned,
				Confidence:   record.Confidence,
			}, nil
		}
	}
	return nil, fmt.Errorf("scan %s not found", scanID)
}

// InCooldown reports whether the same subject re-submitted the same barcode
// within the cooldown window, and arms the window as a side effect. This is a
// UX debounce at the API boundary, not a correctness guarantee: Verify itself
// never deduplicates.
func (uc *VerificationUseCase) InCooldown(ctx context.Context, subject auth.Subject, barcode string) bool {
	if uc.scanCooldown <= 0 {
		return false
	}
	key := fmt.Sprintf(cooldownKeyFmt, subject.ID, barcode)
	armed, err := uc.cache.SetNX(ctx, key, "1", uc.scanCooldown)
	if err != nil {
		// Cooldown is advisory; when Redis is unreachable the scan goes
		// through.
		uc.logger.Warn("cooldown check failed", zap.Error(err))
		return false
	}
	return !armed
}

// GetBalance returns the current point balance for a subject.
func (uc *VerificationUseCase) GetBalance(ctx context.Context, subject auth.Subject) (int64, error) {
	if subject.Anonymous {
		return uc.cache.GetInt(ctx, fmt.Sprintf(sessionPointsKeyFmt, subject.ID))
	}
	return uc.repo.GetPoints(ctx, subject.ID)
}

// History returns recent scans for a subject, newest first.
func (uc *VerificationUseCase) History(ctx context.Context, subject auth.Subject, limit int) ([]*repository.ScanRecord, error) {
	return uc.repo.ListScans(ctx, subject.ID, limit)
}

package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/recircle/internal/logging"
)

var (
	// ErrInsufficientPoints is returned when a deduction exceeds the balance.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrVoucherNotFound is returned when a voucher id is unknown.
	ErrVoucherNotFound = errors.New("voucher not found")

	// ErrVoucherRedeemed is returned when a voucher was already used.
	ErrVoucherRedeemed = errors.New("voucher already redeemed")
)

// Repository provides persistence for profiles, scan history, and vouchers.
type Repository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// New creates a repository instance.
func New(db *gorm.DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:             db,
		logger:         logger.Named("repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *Repository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Profile{}, &ScanRecord{}, &Voucher{})
}

// CreditPoints adds points to a user balance, creating the profile row on
// first credit. The balance update is a single atomic statement.
func (r *Repository) CreditPoints(ctx context.Context, userID string, amount int64) error {
	return r.executeWithRetry(ctx, "repository.credit_points", userID, func() error {
		res := r.db.WithContext(ctx).Model(&Profile{}).
			Where("id = ?", userID).
			UpdateColumn("points", gorm.Expr("points + ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			err := r.db.WithContext(ctx).Create(&Profile{ID: userID, Points: amount}).Error
			if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
				// Lost the race against a concurrent first credit.
				return r.db.WithContext(ctx).Model(&Profile{}).
					Where("id = ?", userID).
					UpdateColumn("points", gorm.Expr("points + ?", amount)).Error
			}
			return err
		}
		return nil
	})
}

// DeductPoints removes points from a balance, refusing to go negative.
func (r *Repository) DeductPoints(ctx context.Context, userID string, amount int64) error {
	res := r.db.WithContext(ctx).Model(&Profile{}).
		Where("id = ? AND points >= ?", userID, amount).
		UpdateColumn("points", gorm.Expr("points - ?", amount))
	if res.Error != nil {
		return logging.NewOperationError("repository.deduct_points", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientPoints
	}
	return nil
}

// GetPoints returns the current balance for a user, zero if no profile exists.
func (r *Repository) GetPoints(ctx context.Context, userID string) (int64, error) {
	var profile Profile
	err := r.db.WithContext(ctx).First(&profile, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return profile.Points, nil
}

// AppendScan persists one scan history record.
func (r *Repository) AppendScan(ctx context.Context, record *ScanRecord) error {
	return r.executeWithRetry(ctx, "repository.append_scan", record.ScanID, func() error {
		return r.db.WithContext(ctx).Create(record).Error
	})
}

// ListScans returns the most recent scans for a subject, newest first.
func (r *Repository) ListScans(ctx context.Context, subjectID string, limit int) ([]*ScanRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var records []*ScanRecord
	err := r.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// AggregateMetrics computes scan totals for the community summary.
func (r *Repository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation

	if err := r.db.WithContext(ctx).Model(&ScanRecord{}).Count(&agg.TotalScans).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Model(&ScanRecord{}).
		Where("outcome = ?", "accepted").
		Count(&agg.AcceptedScans).Error; err != nil {
		return nil, err
	}

	var totals struct {
		Points     int64
		Confidence float64
	}
	if err := r.db.WithContext(ctx).Model(&ScanRecord{}).
		Select("COALESCE(SUM(points_earned), 0) AS points, COALESCE(AVG(confidence), 0) AS confidence").
		Scan(&totals).Error; err != nil {
		return nil, err
	}
	agg.PointsAwarded = totals.Points
	agg.AvgConfidence = totals.Confidence

	return &agg, nil
}

// CreateVoucher persists a new active voucher.
func (r *Repository) CreateVoucher(ctx context.Context, voucher *Voucher) error {
	if voucher.Status == "" {
		voucher.Status = VoucherStatusActive
	}
	return r.executeWithRetry(ctx, "repository.create_voucher", voucher.ID, func() error {
		return r.db.WithContext(ctx).Create(voucher).Error
	})
}

// GetVoucher loads a voucher by id.
func (r *Repository) GetVoucher(ctx context.Context, id string) (*Voucher, error) {
	var voucher Voucher
	err := r.db.WithContext(ctx).First(&voucher, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVoucherNotFound
	}
	if err != nil {
		return nil, err
	}
	return &voucher, nil
}

// RedeemVoucher moves a voucher from active to redeemed. The guarded update
// makes the transition single-use under concurrent validation attempts.
func (r *Repository) RedeemVoucher(ctx context.Context, id string) (*Voucher, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&Voucher{}).
		Where("id = ? AND status = ?", id, VoucherStatusActive).
		Updates(map[string]interface{}{"status": VoucherStatusRedeemed, "redeemed_at": now})
	if res.Error != nil {
		return nil, logging.NewOperationError("repository.redeem_voucher", id, res.Error)
	}
	if res.RowsAffected == 0 {
		voucher, err := r.GetVoucher(ctx, id)
		if err != nil {
			return nil, err
		}
		if voucher.Status != VoucherStatusActive {
			return nil, ErrVoucherRedeemed
		}
		return nil, ErrVoucherNotFound
	}
	return r.GetVoucher(ctx, id)
}

func (r *Repository) executeWithRetry(ctx context.Context, operation, scanID string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, scanID, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, scanID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, scanID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, scanID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, scanID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}

package voucher

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/recircle/internal/logging"
	"github.com/example/recircle/internal/repository"
)

// Service errors surfaced to the handler layer.
var (
	ErrInvalidToken       = errors.New("invalid voucher token")
	ErrInsufficientPoints = repository.ErrInsufficientPoints
	ErrAlreadyRedeemed    = repository.ErrVoucherRedeemed
	ErrNotFound           = repository.ErrVoucherNotFound
)

const voucherTokenTTL = 30 * 24 * time.Hour

// Store is the persistence surface the service needs.
type Store interface {
	DeductPoints(ctx context.Context, userID string, amount int64) error
	CreateVoucher(ctx context.Context, voucher *repository.Voucher) error
	RedeemVoucher(ctx context.Context, id string) (*repository.Voucher, error)
	GetVoucher(ctx context.Context, id string) (*repository.Voucher, error)
}

// Issued is a freshly created voucher together with its signed bearer token.
type Issued struct {
	ID     string  `json:"voucher_id"`
	Amount float64 `json:"amount"`
	Token  string  `json:"token"`
}

// Service exchanges earned points for signed vouchers and redeems them. The
// token is self-describing, but redemption always goes through the database so
// a voucher cashes out exactly once.
type Service struct {
	store        Store
	secret       []byte
	cashPerPoint float64
	logger       *zap.Logger
}

// New constructs a voucher service. cashPerPoint converts points to currency
// units when a voucher is issued.
func New(store Store, secret string, cashPerPoint float64, logger *zap.Logger) *Service {
	if cashPerPoint <= 0 {
		cashPerPoint = 0.01
	}
	return &Service{
		store:        store,
		secret:       []byte(secret),
		cashPerPoint: cashPerPoint,
		logger:       logger.Named("voucher_service"),
	}
}

type voucherClaims struct {
	VoucherID string  `json:"voucher_id"`
	Amount    float64 `json:"amount"`
	jwt.RegisteredClaims
}

// Issue deducts points from the user's balance and creates a voucher worth
// points times the configured rate. The deduction happens first; a voucher is
// never issued against points the user does not have.
func (s *Service) Issue(ctx context.Context, userID string, points int64) (*Issued, error) {
	if points <= 0 {
		return nil, errors.New("points must be positive")
	}

	if err := s.store.DeductPoints(ctx, userID, points); err != nil {
		return nil, err
	}

	voucher := &repository.Voucher{
		ID:         uuid.NewString(),
		SubjectID:  userID,
		PointsCost: points,
		Amount:     float64(points) * s.cashPerPoint,
		Status:     repository.VoucherStatusActive,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.CreateVoucher(ctx, voucher); err != nil {
		return nil, logging.NewOperationError("voucher.issue", voucher.ID, err)
	}

	token, err := s.signToken(voucher)
	if err != nil {
		return nil, logging.NewOperationError("voucher.issue", voucher.ID, err)
	}

	s.logger.Info("voucher issued",
		zap.String("voucher_id", voucher.ID),
		zap.Int64("points", points),
		zap.Float64("amount", voucher.Amount))

	return &Issued{ID: voucher.ID, Amount: voucher.Amount, Token: token}, nil
}

// Redeem verifies a voucher token and marks the voucher redeemed. A voucher
// already cashed out returns ErrAlreadyRedeemed.
func (s *Service) Redeem(ctx context.Context, token string) (*repository.Voucher, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		return nil, ErrInvalidToken
	}

	voucher, err := s.store.RedeemVoucher(ctx, claims.VoucherID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("voucher redeemed",
		zap.String("voucher_id", voucher.ID),
		zap.Float64("amount", voucher.Amount))
	return voucher, nil
}

// Status returns the current state of a voucher identified by its token
// without redeeming it.
func (s *Service) Status(ctx context.Context, token string) (*repository.Voucher, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return s.store.GetVoucher(ctx, claims.VoucherID)
}

func (s *Service) signToken(voucher *repository.Voucher) (string, error) {
	now := time.Now()
	claims := voucherClaims{
		VoucherID: voucher.ID,
		Amount:    voucher.Amount,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   voucher.SubjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(voucherTokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Service) parseToken(tokenString string) (*voucherClaims, error) {
	claims := &voucherClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.VoucherID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

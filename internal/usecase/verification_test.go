package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/recircle/internal/auth"
	"github.com/example/recircle/internal/conveyor"
	"github.com/example/recircle/internal/product"
	"github.com/example/recircle/internal/repository"
	"github.com/example/recircle/internal/vision"
)

type stubLookup struct {
	record *product.Record
	err    error
	calls  int
}

func (s *stubLookup) Lookup(ctx context.Context, barcode string) (*product.Record, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.record, nil
}

type stubDetector struct {
	detection *vision.Detection
	err       error
	calls     int
	lastImage []byte
}

func (s *stubDetector) Detect(ctx context.Context, imageBytes []byte) (*vision.Detection, error) {
	s.calls++
	s.lastImage = imageBytes
	if s.err != nil {
		return nil, s.err
	}
	return s.detection, nil
}

type stubFetcher struct {
	data    []byte
	err     error
	calls   int
	lastURL string
}

func (s *stubFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	s.calls++
	s.lastURL = url
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

type creditCall struct {
	userID string
	amount int64
}

type stubRepository struct {
	credits     []creditCall
	creditErr   error
	scans       []*repository.ScanRecord
	scanErr     error
	points      int64
	aggregation *repository.MetricsAggregation
}

func (s *stubRepository) CreditPoints(ctx context.Context, userID string, amount int64) error {
	s.credits = append(s.credits, creditCall{userID: userID, amount: amount})
	return s.creditErr
}

func (s *stubRepository) GetPoints(ctx context.Context, userID string) (int64, error) {
	return s.points, nil
}

func (s *stubRepository) AppendScan(ctx context.Context, record *repository.ScanRecord) error {
	s.scans = append(s.scans, record)
	return s.scanErr
}

func (s *stubRepository) ListScans(ctx context.Context, subjectID string, limit int) ([]*repository.ScanRecord, error) {
	return s.scans, nil
}

func (s *stubRepository) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	if s.aggregation == nil {
		return &repository.MetricsAggregation{}, nil
	}
	return s.aggregation, nil
}

type stubCache struct {
	values   map[string]string
	counters map[string]int64
	incrErr  error
	setNXOK  bool
	setNXErr error
}

func newStubCache() *stubCache {
	return &stubCache{values: map[string]string{}, counters: map[string]int64{}, setNXOK: true}
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.values[key] = fmt.Sprint(value)
	return nil
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	value, ok := s.values[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (s *stubCache) IncrBy(ctx context.Context, key string, amount int64) (int64, error) {
	if s.incrErr != nil {
		return 0, s.incrErr
	}
	s.counters[key] += amount
	return s.counters[key], nil
}

func (s *stubCache) GetInt(ctx context.Context, key string) (int64, error) {
	return s.counters[key], nil
}

func (s *stubCache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	if s.setNXErr != nil {
		return false, s.setNXErr
	}
	return s.setNXOK, nil
}

func (s *stubCache) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return nil
}

type stubSignaler struct {
	decisions []conveyor.Decision
}

func (s *stubSignaler) Send(ctx context.Context, decision conveyor.Decision) {
	s.decisions = append(s.decisions, decision)
}

type fixture struct {
	lookup   *stubLookup
	detector *stubDetector
	fetcher  *stubFetcher
	repo     *stubRepository
	cache    *stubCache
	signaler *stubSignaler
	uc       *VerificationUseCase
}

func newFixture() *fixture {
	f := &fixture{
		lookup:   &stubLookup{},
		detector: &stubDetector{detection: &vision.Detection{}},
		fetcher:  &stubFetcher{data: []byte("stock-photo")},
		repo:     &stubRepository{},
		cache:    newStubCache(),
		signaler: &stubSignaler{},
	}
	f.uc = NewVerificationUseCase(
		f.lookup, f.detector, f.fetcher, f.repo, f.cache, f.signaler,
		10, 3*time.Second, zap.NewNop())
	return f
}

var user = auth.UserSubject("user-1")

func TestVerifyEmptyBarcode(t *testing.T) {
	f := newFixture()

	_, err := f.uc.Verify(context.Background(), user, "   ", nil)
	if !errors.Is(err, ErrEmptyBarcode) {
		t.Fatalf("error = %v, want ErrEmptyBarcode", err)
	}
	if f.lookup.calls != 0 {
		t.Error("lookup must not be called for an empty barcode")
	}
}

func TestVerifyNotFoundDefaultsToAccept(t *testing.T) {
	f := newFixture()
	f.lookup.err = product.ErrNotFound

	result, err := f.uc.Verify(context.Background(), user, "0000000000000", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusAccepted {
		t.Fatalf("Status = %v, want accepted", result.Status)
	}
	if !strings.Contains(result.Reason, "accepted by default") {
		t.Errorf("Reason = %q", result.Reason)
	}
	if len(f.repo.credits) != 1 {
		t.Fatalf("credits = %d, want exactly 1", len(f.repo.credits))
	}
	if f.repo.credits[0].amount != 10 {
		t.Errorf("credit amount = %d, want 10", f.repo.credits[0].amount)
	}
	if len(f.signaler.decisions) != 1 || f.signaler.decisions[0] != conveyor.DecisionAccepted {
		t.Errorf("conveyor decisions = %v, want [accepted]", f.signaler.decisions)
	}
	if f.cache.counters["community:total_bottles"] != 1 {
		t.Error("community counter must be incremented")
	}
}

func TestVerifyLookupFailureIsTerminalError(t *testing.T) {
	f := newFixture()
	f.lookup.err = product.ErrUnavailable

	result, err := f.uc.Verify(context.Background(), user, "3068320115167", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusError {
		t.Fatalf("Status = %v, want error", result.Status)
	}
	if result.Reason == "" {
		t.Error("error result must carry a displayable reason")
	}
	if len(f.repo.credits) != 0 {
		t.Error("no points on lookup failure")
	}
	if len(f.repo.scans) != 0 {
		t.Error("no scan record on lookup failure")
	}
	if len(f.signaler.decisions) != 0 {
		t.Error("no conveyor signal on lookup failure")
	}
	if f.detector.calls != 0 {
		t.Error("image analysis must not run on lookup failure")
	}
}

func TestVerifyTextAccepted(t *testing.T) {
	f := newFixture()
	f.lookup.record = &product.Record{
		Barcode:   "3068320115167",
		Name:      "Evian Natural Spring Water",
		Packaging: "Plastic Bottle",
		ImageURL:  "https://images.example/evian.jpg",
	}

	result, err := f.uc.Verify(context.Background(), user, "3068320115167", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusAccepted {
		t.Fatalf("Status = %v, want accepted", result.Status)
	}
	if result.PointsEarned != 10 {
		t.Errorf("PointsEarned = %d, want 10", result.PointsEarned)
	}
	if result.ProductImage != "https://images.example/evian.jpg" {
		t.Errorf("ProductImage = %q", result.ProductImage)
	}
	if len(f.repo.credits) != 1 {
		t.Fatalf("credits = %d, want exactly 1", len(f.repo.credits))
	}
	if f.detector.calls != 0 {
		t.Error("conclusive text verdict must not trigger image analysis")
	}
	if len(f.signaler.decisions) != 1 || f.signaler.decisions[0] != conveyor.DecisionAccepted {
		t.Errorf("conveyor decisions = %v", f.signaler.decisions)
	}
	if len(f.repo.scans) != 1 || f.repo.scans[0].Outcome != "accepted" {
		t.Errorf("scan history = %+v", f.repo.scans)
	}
}

func TestVerifyTextRejected(t *testing.T) {
	f := newFixture()
	f.lookup.record = &product.Record{
		Name:          "Heineken",
		PackagingTags: []string{"aluminium-can"},
	}

	result, err := f.uc.Verify(context.Background(), user, "8712000030766", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusRejected {
		t.Fatalf("Status = %v, want rejected", result.Status)
	}
	if result.Reason == "" {
		t.Error("rejected result must carry a reason")
	}
	if len(f.repo.credits) != 0 {
		t.Error("no points on rejection")
	}
	if len(f.signaler.decisions) != 1 || f.signaler.decisions[0] != conveyor.DecisionRejected {
		t.Errorf("conveyor decisions = %v, want [rejected]", f.signaler.decisions)
	}
	if f.cache.counters["community:total_bottles"] != 0 {
		t.Error("community counter must not move on rejection")
	}
}

func TestVerifyInconclusiveWithoutImageRejects(t *testing.T) {
	f := newFixture()
	f.lookup.record = &product.Record{Name: "Generic Snack Bar"}

	result, err := f.uc.Verify(context.Background(), user, "1234567890128", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusRejected {
		t.Fatalf("Status = %v, want rejected", result.Status)
	}
	if !strings.Contains(result.Reason, "no image") {
		t.Errorf("Reason = %q, want inconclusive-no-image wording", result.Reason)
	}
	if len(f.repo.credits) != 0 {
		t.Error("no points without image confirmation")
	}
	if f.detector.calls != 0 {
		t.Error("detector must not be called without an image")
	}
	if len(f.signaler.decisions) != 1 || f.signaler.decisions[0] != conveyor.DecisionRejected {
		t.Errorf("conveyor decisions = %v", f.signaler.decisions)
	}
}

func TestVerifyInconclusiveLiveImageMatch(t *testing.T) {
	f := newFixture()
	f.lookup.record = &product.Record{Name: "Mystery Drink"}
	f.detector.detection = &vision.Detection{IsMatch: true, Confidence: 0.88, Evidence: "plastic bottle"}

	live := []byte("camera-frame")
	result, err := f.uc.Verify(context.Background(), user, "1234567890128", live)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusAccepted {
		t.Fatalf("Status = %v, want accepted", result.Status)
	}
	if result.Confidence != 0.88 {
		t.Errorf("Confidence = %v, want 0.88", result.Confidence)
	}
	if string(f.detector.lastImage) != "camera-frame" {
		t.Error("live frame must be preferred over stock photo")
	}
	if f.fetcher.calls != 0 {
		t.Error("stock photo must not be fetched when a live frame exists")
	}
	if len(f.repo.credits) != 1 {
		t.Errorf("credits = %d, want exactly 1", len(f.repo.credits))
	}
}

func TestVerifyInconclusiveStockPhotoFallback(t *testing.T) {
	f := newFixture()
	f.lookup.record = &product.Record{
		Name:     "Mystery Drink",
		ImageURL: "https://images.example/mystery.jpg",
	}
	f.detector.detection = &vision.Detection{IsMatch: false, Confidence: 0.4}

	result, err := f.uc.Verify(context.Background(), user, "1234567890128", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.fetcher.lastURL != "https://images.example/mystery.jpg" {
		t.Errorf("fetched URL = %q", f.fetcher.lastURL)
	}
	if string(f.detector.lastImage) != "stock-photo" {
		t.Error("detector must receive the fetched stock photo")
	}
	if result.Status != StatusRejected {
		t.Fatalf("Status = %v, want rejected on no-match", result.Status)
	}
}

func TestVerifyFailsClosedOnDetectorError(t *testing.T) {
	f := newFixture()
	f.lookup.record = &product.Record{Name: "Mystery Drink"}
	f.detector.err = vision.ErrUnavailable

	result, err := f.uc.Verify(context.Background(), user, "1234567890128", []byte("frame"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusRejected {
		t.Fatalf("Status = %v, want rejected (fail closed), not error", result.Status)
	}
	if len(f.repo.credits) != 0 {
		t.Error("no points when image analysis fails")
	}
}

func TestVerifyFailsClosedOnStockPhotoFetchError(t *testing.T) {
	f := newFixture()
	f.lookup.record = &product.Record{
		Name:     "Mystery Drink",
		ImageURL: "https://images.example/mystery.jpg",
	}
	f.fetcher.err = vision.ErrUnavailable

	result, err := f.uc.Verify(context.Background(), user, "1234567890128", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusRejected {
		t.Fatalf("Status = %v, want rejected", result.Status)
	}
	if f.detector.calls != 0 {
		t.Error("detector must not run without an image")
	}
}

func TestVerifyAnonymousSessionCredit(t *testing.T) {
	f := newFixture()
	f.lookup.err = product.ErrNotFound
	session := auth.SessionSubject("kiosk-42")

	result, err := f.uc.Verify(context.Background(), session, "0000000000000", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusAccepted {
		t.Fatalf("Status = %v, want accepted", result.Status)
	}
	if len(f.repo.credits) != 0 {
		t.Error("anonymous scans must not touch the profile table")
	}
	if f.cache.counters["session:kiosk-42:points"] != 10 {
		t.Errorf("session points = %d, want 10", f.cache.counters["session:kiosk-42:points"])
	}

	balance, err := f.uc.GetBalance(context.Background(), session)
	if err != nil {
		t.Fatalf("balance error: %v", err)
	}
	if balance != 10 {
		t.Errorf("balance = %d, want 10", balance)
	}
}

func TestVerifyOutcomeSurvivesCreditFailure(t *testing.T) {
	f := newFixture()
	f.lookup.err = product.ErrNotFound
	f.repo.creditErr = errors.New("ledger down")

	result, err := f.uc.Verify(context.Background(), user, "0000000000000", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusAccepted {
		t.Errorf("Status = %v, want accepted despite credit failure", result.Status)
	}
}

func TestVerifyOutcomeSurvivesCounterFailure(t *testing.T) {
	f := newFixture()
	f.lookup.record = &product.Record{Packaging: "Plastic Bottle"}
	f.cache.incrErr = errors.New("redis down")

	result, err := f.uc.Verify(context.Background(), user, "3068320115167", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusAccepted {
		t.Errorf("Status = %v, want accepted despite counter failure", result.Status)
	}
}

func TestInCooldown(t *testing.T) {
	f := newFixture()

	if f.uc.InCooldown(context.Background(), user, "123") {
		t.Error("first scan must not be in cooldown")
	}
	f.cache.setNXOK = false
	if !f.uc.InCooldown(context.Background(), user, "123") {
		t.Error("repeat scan within the window must be in cooldown")
	}
}

func TestInCooldownFailsOpen(t *testing.T) {
	f := newFixture()
	f.cache.setNXErr = errors.New("redis down")

	if f.uc.InCooldown(context.Background(), user, "123") {
		t.Error("cooldown must fail open when the cache is unreachable")
	}
}

func TestGetResultFromCacheThenHistory(t *testing.T) {
	f := newFixture()
	f.lookup.record = &product.Record{Packaging: "Plastic Bottle"}

	result, err := f.uc.Verify(context.Background(), user, "3068320115167", nil)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	cached, err := f.uc.GetResult(context.Background(), user, result.ScanID)
	if err != nil {
		t.Fatalf("get result failed: %v", err)
	}
	if cached.Status != StatusAccepted || cached.ScanID != result.ScanID {
		t.Errorf("cached result = %+v", cached)
	}

	// Drop the cache entry; history must still answer.
	delete(f.cache.values, "scan:"+result.ScanID)
	fromHistory, err := f.uc.GetResult(context.Background(), user, result.ScanID)
	if err != nil {
		t.Fatalf("history fallback failed: %v", err)
	}
	if fromHistory.Status != StatusAccepted {
		t.Errorf("history result = %+v", fromHistory)
	}
}

func TestGetCommunitySummary(t *testing.T) {
	f := newFixture()
	f.repo.aggregation = &repository.MetricsAggregation{TotalScans: 10, AcceptedScans: 7, PointsAwarded: 70}
	f.cache.counters["community:total_bottles"] = 9

	summary, err := f.uc.GetCommunitySummary(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.TotalBottlesRecycled != 9 {
		t.Errorf("TotalBottlesRecycled = %d, want 9", summary.TotalBottlesRecycled)
	}
	if summary.AcceptanceRate != 0.7 {
		t.Errorf("AcceptanceRate = %v, want 0.7", summary.AcceptanceRate)
	}
}

package usecase

import (
	"context"

	"go.uber.org/zap"
)

// CommunitySummary aggregates community-wide recycling stats for the
// dashboard.
type CommunitySummary struct {
	TotalBottlesRecycled int64   `json:"total_bottles_recycled"`
	TotalScans           int64   `json:"total_scans"`
	AcceptedScans        int64   `json:"accepted_scans"`
	AcceptanceRate       float64 `json:"acceptance_rate"`
	PointsAwarded        int64   `json:"points_awarded"`
	AvgConfidence        float64 `json:"avg_confidence"`
}

// GetCommunitySummary combines the live bottle counter with scan history
// aggregates. The counter and the history are updated independently, so the
// two figures can drift slightly during bursts; the counter is authoritative
// for the headline number.
func (uc *VerificationUseCase) GetCommunitySummary(ctx context.Context) (*CommunitySummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	bottles, err := uc.cache.GetInt(ctx, communityBottlesKey)
	if err != nil {
		uc.logger.Warn("community counter read failed, falling back to history", zap.Error(err))
		bottles = aggregation.AcceptedScans
	}

	summary := &CommunitySummary{
		TotalBottlesRecycled: bottles,
		TotalScans:           aggregation.TotalScans,
		AcceptedScans:        aggregation.AcceptedScans,
		PointsAwarded:        aggregation.PointsAwarded,
		AvgConfidence:        aggregation.AvgConfidence,
	}
	if aggregation.TotalScans > 0 {
		summary.AcceptanceRate = float64(aggregation.AcceptedScans) / float64(aggregation.TotalScans)
	}
	return summary, nil
}

package repository

import "time"

// Profile tracks the durable point balance for a registered user.
type Profile struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Points    int64     `gorm:"column:points;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName overrides the default table name.
func (Profile) TableName() string {
	return "profiles"
}

// ScanRecord is one verification attempt, accepted or not.
type ScanRecord struct {
	ID           uint      `gorm:"primaryKey"`
	ScanID       string    `gorm:"column:scan_id;uniqueIndex;size:64"`
	SubjectID    string    `gorm:"column:subject_id;index;size:64"`
	Anonymous    bool      `gorm:"column:anonymous"`
	Barcode      string    `gorm:"column:barcode;size:64"`
	Outcome      string    `gorm:"column:outcome;size:16"`
	Reason       string    `gorm:"column:reason;type:text"`
	PointsEarned int       `gorm:"column:points_earned"`
	Confidence   float64   `gorm:"column:confidence"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (ScanRecord) TableName() string {
	return "scan_history"
}

// Voucher is a redeemable reward ticket. Status moves active -> redeemed
// exactly once.
type Voucher struct {
	ID         string     `gorm:"primaryKey;size:64"`
	SubjectID  string     `gorm:"column:subject_id;index;size:64"`
	PointsCost int64      `gorm:"column:points_cost"`
	Amount     float64    `gorm:"column:amount"`
	Status     string     `gorm:"column:status;size:16;default:active"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
	RedeemedAt *time.Time `gorm:"column:redeemed_at"`
}

// TableName overrides the default table name.
func (Voucher) TableName() string {
	return "vouchers"
}

// Voucher status values.
const (
	VoucherStatusActive   = "active"
	VoucherStatusRedeemed = "redeemed"
)

// MetricsAggregation holds raw aggregates over scan history.
type MetricsAggregation struct {
	TotalScans    int64
	AcceptedScans int64
	PointsAwarded int64
	AvgConfidence float64
}

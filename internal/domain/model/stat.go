package model

import (
	"database/sql"
	"time"
)

// GlobalPrior is the platform-wide baseline every segment is shrunk toward.
// There is one; Version increases with each recompute.
type GlobalPrior struct {
	InterestRate   float64
	BookingRate    float64
	CompletionRate float64
	SampleSize     int
	CalculatedAt   time.Time
	Version        int64
}

// Segment is the aggregate of one SegmentKey before scoring.
type Segment struct {
	Key                     SegmentKey
	LeadsSent               int
	LeadsInterested         int
	LeadsBooked             int
	LeadsCompleted          int
	AvgFirstResponseMinutes sql.NullFloat64
}

// PerformanceStat is one materialized stats row.
type PerformanceStat struct {
	Key                     SegmentKey
	LeadsSent               int
	LeadsInterested         int
	LeadsBooked             int
	LeadsCompleted          int
	InterestRate            float64
	BookingRate             float64
	CompletionRate          float64
	AvgFirstResponseMinutes sql.NullFloat64
	BayesianScore           float64
	ConfidenceLevel         float64
	SampleSize              int
	ComputedAt              time.Time
}

// RankedStat is a stats row placed in an ordered result.
type RankedStat struct {
	PerformanceStat
	Rank int
	Tier Tier
}

// Tier is the recommendation label derived from score and sample size.
type Tier string

const (
	TierStronglyRecommended Tier = "strongly_recommended"
	TierRecommended         Tier = "recommended"
	TierConsiderable        Tier = "considerable"
	TierInsufficientData    Tier = "insufficient_data"
)

// Grade is the coarse label shown on a hospital's performance card.
type Grade string

const (
	GradeExcellent    Grade = "Excellent"
	GradeGood         Grade = "Good"
	GradeAverage      Grade = "Average"
	GradeBelowAverage Grade = "Below Average"
)

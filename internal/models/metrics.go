package models

import "time"

// SystemMetrics is a lightweight aggregate snapshot of instrumentation,
// served on the admin metrics endpoint.
type SystemMetrics struct {
	RotationTicks            uint64    `json:"rotation_ticks"`
	NoEligibleTicks          uint64    `json:"no_eligible_ticks"`
	InvariantViolations      uint64    `json:"invariant_violations"`
	VersionCommits           uint64    `json:"version_commits"`
	ProposalsRejected        uint64    `json:"proposals_rejected"`
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

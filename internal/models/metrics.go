package models

import "time"

// SystemMetrics is a JSON snapshot of the process counters.
type SystemMetrics struct {
	RequestsTotal            uint64            `json:"requestsTotal"`
	AverageRequestDurationMs float64           `json:"averageRequestDurationMs"`
	CacheHitRatio            float64           `json:"cacheHitRatio"`
	Scans                    map[string]uint64 `json:"scans"`
	ConsistencyWarnings      uint64            `json:"consistencyWarnings"`
	LedgerRepairs            uint64            `json:"ledgerRepairs"`
	Goroutines               int               `json:"goroutines"`
	GeneratedAt              time.Time         `json:"generatedAt"`
}

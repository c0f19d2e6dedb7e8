package database

import (
	"context"
	"database/sql"
	"time"
)

// HealthStatus summarizes store reachability for the health endpoint.
type HealthStatus struct {
	Status         string `json:"status"`
	ResponseTimeMS int64  `json:"response_time_ms"`
	InUse          int    `json:"in_use"`
	Idle           int    `json:"idle"`
}

// Health pings the store and reports connection stats.
func Health(ctx context.Context, db *sql.DB) (*HealthStatus, error) {
	start := time.Now()
	if err := db.PingContext(ctx); err != nil {
		return &HealthStatus{
			Status:         "unhealthy",
			ResponseTimeMS: time.Since(start).Milliseconds(),
		}, err
	}
	stats := db.Stats()
	return &HealthStatus{
		Status:         "healthy",
		ResponseTimeMS: time.Since(start).Milliseconds(),
		InUse:          stats.InUse,
		Idle:           stats.Idle,
	}, nil
}

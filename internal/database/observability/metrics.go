// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package observability

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/qolzam/entitystore/internal/database/interfaces"
	"github.com/qolzam/entitystore/internal/pkg/log"
)

// Check statuses
const (
	StatusActive   = "active"
	StatusPassed   = "passed"
	StatusRejected = "rejected"
	StatusFailed   = "failed"
)

// CheckMetrics describes one limit or uniqueness check run.
type CheckMetrics struct {
	CheckID      string
	Kind         string
	Operation    string
	StartTime    time.Time
	Duration     time.Duration
	Queries      int64
	Status       string
	ErrorCode    string
	ErrorMessage string
}

// MetricsCollector handles check metrics collection and reporting
type MetricsCollector struct {
	activeChecks   int64
	totalChecks    int64
	passedChecks   int64
	rejectedChecks int64
	failedChecks   int64
	totalQueries   int64
	totalDuration  int64 // nanoseconds
	mu             sync.RWMutex
	checkMetrics   map[string]*CheckMetrics
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		checkMetrics: make(map[string]*CheckMetrics),
	}
}

// Global metrics collector instance
var globalMetrics = NewMetricsCollector()

// GetGlobalMetrics returns the global metrics collector
func GetGlobalMetrics() *MetricsCollector {
	return globalMetrics
}

// StartCheck records the start of a new check
func (mc *MetricsCollector) StartCheck(checkID, kind, operation string) *CheckMetrics {
	atomic.AddInt64(&mc.activeChecks, 1)
	atomic.AddInt64(&mc.totalChecks, 1)

	metrics := &CheckMetrics{
		CheckID:   checkID,
		Kind:      kind,
		Operation: operation,
		StartTime: time.Now(),
		Status:    StatusActive,
	}

	mc.mu.Lock()
	mc.checkMetrics[checkID] = metrics
	mc.mu.Unlock()

	log.Debug("Check started: %s (%s %s)", checkID, kind, operation)
	return metrics
}

// IncrementQueries counts one store query issued by a check
func (mc *MetricsCollector) IncrementQueries(checkID string) {
	atomic.AddInt64(&mc.totalQueries, 1)
	mc.mu.RLock()
	if metrics, exists := mc.checkMetrics[checkID]; exists {
		atomic.AddInt64(&metrics.Queries, 1)
	}
	mc.mu.RUnlock()
}

// PassCheck records a check that allowed the write
func (mc *MetricsCollector) PassCheck(checkID string) {
	atomic.AddInt64(&mc.passedChecks, 1)
	mc.finish(checkID, StatusPassed, "", nil)
}

// RejectCheck records a check that refused the write with the given code
func (mc *MetricsCollector) RejectCheck(checkID, code string) {
	atomic.AddInt64(&mc.rejectedChecks, 1)
	mc.finish(checkID, StatusRejected, code, nil)
}

// FailCheck records a check that could not complete
func (mc *MetricsCollector) FailCheck(checkID string, err error) {
	atomic.AddInt64(&mc.failedChecks, 1)
	code := ""
	if repoErr, ok := err.(*interfaces.RepositoryError); ok {
		code = repoErr.Code
	}
	mc.finish(checkID, StatusFailed, code, err)
}

func (mc *MetricsCollector) finish(checkID, status, code string, err error) {
	atomic.AddInt64(&mc.activeChecks, -1)

	mc.mu.Lock()
	defer mc.mu.Unlock()

	metrics, exists := mc.checkMetrics[checkID]
	if !exists {
		return
	}
	metrics.Status = status
	metrics.ErrorCode = code
	metrics.Duration = time.Since(metrics.StartTime)
	atomic.AddInt64(&mc.totalDuration, int64(metrics.Duration))
	if err != nil {
		metrics.ErrorMessage = err.Error()
		log.Error("Check failed: %s (duration: %v, error: %v)", checkID, metrics.Duration, err)
		return
	}
	log.Debug("Check %s: %s (duration: %v, queries: %d)", status, checkID, metrics.Duration, metrics.Queries)
}

// GetCheckMetrics returns metrics for a specific check
func (mc *MetricsCollector) GetCheckMetrics(checkID string) *CheckMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if metrics, exists := mc.checkMetrics[checkID]; exists {
		// Return a copy to prevent concurrent access issues
		copy := *metrics
		copy.Queries = atomic.LoadInt64(&metrics.Queries)
		return &copy
	}
	return nil
}

// GetGlobalStats returns global check statistics
func (mc *MetricsCollector) GetGlobalStats() map[string]interface{} {
	active := atomic.LoadInt64(&mc.activeChecks)
	total := atomic.LoadInt64(&mc.totalChecks)
	passed := atomic.LoadInt64(&mc.passedChecks)
	rejected := atomic.LoadInt64(&mc.rejectedChecks)
	failed := atomic.LoadInt64(&mc.failedChecks)
	queries := atomic.LoadInt64(&mc.totalQueries)
	totalDur := atomic.LoadInt64(&mc.totalDuration)

	var avgDuration time.Duration
	if completed := passed + rejected + failed; completed > 0 {
		avgDuration = time.Duration(totalDur / completed)
	}
	var rejectionRate float64
	if total > 0 {
		rejectionRate = float64(rejected) / float64(total) * 100
	}

	return map[string]interface{}{
		"active_checks":    active,
		"total_checks":     total,
		"passed_checks":    passed,
		"rejected_checks":  rejected,
		"failed_checks":    failed,
		"total_queries":    queries,
		"average_duration": avgDuration,
		"rejection_rate":   rejectionRate,
	}
}

// CleanupCompletedChecks removes metrics for completed checks older than the specified duration
func (mc *MetricsCollector) CleanupCompletedChecks(olderThan time.Duration) {
	cutoff := time.Now().Add(-olderThan)

	mc.mu.Lock()
	defer mc.mu.Unlock()

	for checkID, metrics := range mc.checkMetrics {
		if metrics.Status != StatusActive && metrics.StartTime.Before(cutoff) {
			delete(mc.checkMetrics, checkID)
		}
	}
}

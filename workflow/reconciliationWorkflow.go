package workflow

import (
	"context"
	"time"

	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/models"
	"github.com/sirupsen/logrus"
)

// ReconciliationSummary counts the divergences of one run by check type.
type ReconciliationSummary struct {
	RunId      string         `json:"run_id"`
	Total      int            `json:"total"`
	ByCheck    map[string]int `json:"by_check"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// RunReconciliation compares every cached value with its ledger and logs a summary.
// Divergences are reported, never repaired.
func RunReconciliation(ctx context.Context, logger *logrus.Logger, runId string) (*ReconciliationSummary, []*models.ReconciliationReport, error) {
	summary := &ReconciliationSummary{ByCheck: map[string]int{}, StartedAt: time.Now().UTC()}
	reports, err := models.ReconcileLedgers(ctx, runId)
	if err != nil {
		config.LogError(logger, "ReconciliationWorkflow", "RunReconciliation", "reconcile ledgers", runId, err)
		return nil, nil, err
	}
	summary.FinishedAt = time.Now().UTC()
	summary.Total = len(reports)
	for _, r := range reports {
		summary.ByCheck[r.CheckType]++
		summary.RunId = r.RunId
	}
	if summary.RunId == "" {
		summary.RunId = runId
	}

	if logger != nil {
		entry := logger.WithFields(logrus.Fields{
			"field":       "ReconciliationWorkflow",
			"run_id":      summary.RunId,
			"divergences": summary.Total,
			"by_check":    summary.ByCheck,
			"duration_ms": summary.FinishedAt.Sub(summary.StartedAt).Milliseconds(),
		})
		if summary.Total > 0 {
			entry.Warn("ledger reconciliation found divergences")
		} else {
			entry.Info("ledger reconciliation clean")
		}
	}
	return summary, reports, nil
}

// StartReconciliationLoop runs a reconciliation every interval until ctx is done.
func StartReconciliationLoop(ctx context.Context, logger *logrus.Logger, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _, _ = RunReconciliation(ctx, logger, "")
		}
	}
}

// Package wip computes the work-in-progress financial aggregate for a
// project from its task estimates. The computation is a pure transform; it
// holds no state and writes nothing.
package wip

import (
	"time"

	"wiptrack/internal/config"
	"wiptrack/internal/domain"
)

// Options tune a recalculation.
type Options struct {
	// InProgressFactor is the share of estimated hours/cost credited for an
	// in-progress task without recorded actuals. Zero is a valid value and
	// credits nothing; DefaultOptions supplies the configured or built-in
	// default.
	InProgressFactor float64
	// Now stamps the snapshot's updated_at.
	Now time.Time
}

// DefaultOptions applies the configured factor, or the built-in default when
// cfg is nil or leaves the factor unset.
func DefaultOptions(cfg *config.Config, now time.Time) Options {
	factor := config.DefaultInProgressFactor
	if cfg != nil && cfg.Recalc.InProgressFactor != nil {
		factor = *cfg.Recalc.InProgressFactor
	}
	return Options{InProgressFactor: factor, Now: now}
}

// Recalculate derives the WIP snapshot for a project from its current task
// estimate set. Completed tasks contribute their recorded actuals (missing
// figures count as zero). In-progress tasks without actuals contribute the
// in-progress factor times their estimate. Actual hours are billed at the
// project's blended rate, not the task-level hourly rate; a project with zero
// estimated hours has no defined rate and bills zero.
func Recalculate(p domain.Project, tasks []domain.TaskEstimate, opts Options) domain.WIPSnapshot {
	factor := opts.InProgressFactor

	var totalHours, totalCost, totalEstimatedHours float64
	for _, t := range tasks {
		totalEstimatedHours += t.EstimatedHours
		switch t.Status {
		case domain.StatusCompleted:
			if t.ActualHours != nil {
				totalHours += *t.ActualHours
			}
			if t.ActualCost != nil {
				totalCost += *t.ActualCost
			}
		case domain.StatusInProgress:
			if t.HasActuals() {
				if t.ActualHours != nil {
					totalHours += *t.ActualHours
				}
				if t.ActualCost != nil {
					totalCost += *t.ActualCost
				}
			} else {
				totalHours += factor * t.EstimatedHours
				totalCost += factor * t.EstimatedCost
			}
		}
	}

	completion := 0.0
	if totalEstimatedHours > 0 {
		completion = clamp(totalHours/totalEstimatedHours*100, 0, 100)
	}
	billable := totalHours * p.BlendedRate()

	return domain.WIPSnapshot{
		ProjectID:            p.ID,
		ActualHoursWorked:    totalHours,
		ActualLaborCost:      totalCost,
		ActualBillableAmount: billable,
		ActualGrossMargin:    billable - totalCost,
		CompletionPercentage: completion,
		UpdatedAt:            opts.Now.UTC().Format(time.RFC3339),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"cryptoexecutor/src/metrics"
	"cryptoexecutor/src/model"
)

const (
	AuditPass = "PASS"
	AuditFail = "FAIL"
)

// AuditResult is the operator-facing health verdict.
type AuditResult struct {
	Status           string                     `json:"status"`
	Orphans          int                        `json:"orphaned_legs"`
	IncompleteGroups int                        `json:"incomplete_groups"`
	StaleIntents     int                        `json:"stale_intents"`
	DriftPct         decimal.Decimal            `json:"drift_pct"`
	RollingDriftPct  decimal.Decimal            `json:"rolling_drift_pct"`
	DriftExceeded    bool                       `json:"drift_exceeded"`
	RealizedPnL      map[string]decimal.Decimal `json:"realized_pnl"`
	Problems         []string                   `json:"problems,omitempty"`
	CheckedAt        time.Time                  `json:"checked_at"`
}

// RunAudit runs the stale-intent and OCO audit passes on their own and
// reports drift from the latest snapshot. Any problem fails the audit.
func (s *Service) RunAudit(ctx context.Context) (AuditResult, error) {
	start := time.Now()
	defer metrics.ObserveCycle("audit", start)

	res := AuditResult{
		Status:      AuditPass,
		RealizedPnL: map[string]decimal.Decimal{},
		CheckedAt:   s.now(),
	}
	var errs []error

	failed, _, err := s.resolveStaleIntents(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	res.StaleIntents = failed
	if failed > 0 {
		res.Problems = append(res.Problems, fmt.Sprintf("%d stale intents", failed))
	}

	audit, err := s.oco.Audit(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	res.Orphans = len(audit.Orphans)
	res.IncompleteGroups = len(audit.Incomplete)
	for _, id := range audit.Orphans {
		res.Problems = append(res.Problems, "orphaned leg "+id)
	}
	for _, g := range audit.Incomplete {
		res.Problems = append(res.Problems, fmt.Sprintf("group %s has only %v", g.GroupID, g.Roles))
	}

	snap, err := s.balances.GetSnapshot(ctx)
	if err != nil {
		errs = append(errs, err)
	} else if snap != nil {
		res.DriftPct = snap.DriftPct
		res.RollingDriftPct = snap.RollingDriftPct
		res.DriftExceeded = ExceedsThreshold(snap.DriftPct, s.cfg.DriftThreshold)
		if res.DriftExceeded {
			res.Problems = append(res.Problems, "drift "+snap.DriftPct.String()+" above threshold")
		}
	}

	for _, symbol := range s.cfg.Symbols {
		filled, err := s.orders.ListFilled(ctx, symbol)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res.RealizedPnL[symbol] = RealizedPnL(filled)
	}

	if len(res.Problems) > 0 || len(errs) > 0 {
		res.Status = AuditFail
		metrics.IncAuditFailure()
	}
	if len(res.Problems) > 0 && s.publisher != nil {
		if err := s.publisher.Publish(ctx, &model.NotificationEvent{
			Kind:     model.EventKindAudit,
			Severity: model.SeverityWarn,
			Message:  fmt.Sprintf("%s: %v", res.Status, res.Problems),
		}); err != nil {
			errs = append(errs, err)
		}
	}

	logger.WithFields(map[string]interface{}{
		"worker":   "audit",
		"status":   res.Status,
		"problems": len(res.Problems),
		"drift":    res.DriftPct.String(),
	}).Info("Audit finished")
	return res, errors.Join(errs...)
}

package engine

import (
	"context"

	"beacon/internal/rules"
)

// Typed entry points shaping domain signals into the generic engine
// input. Producers should call these rather than building Input by hand.

// ScanSummary is the severity tally of a finished competitive scan.
type ScanSummary struct {
	CriticalCount int `json:"critical_count"`
	WarningCount  int `json:"warning_count"`
	InfoCount     int `json:"info_count"`
}

// EvaluateScanAlerts runs rule evaluation after a competitive scan
// completes.
func EvaluateScanAlerts(ctx context.Context, e Engine, clientID, scanID int64, summary ScanSummary) (*Result, error) {
	return e.Evaluate(ctx, Input{
		SourceType: rules.SourceCompetitiveScan,
		SourceID:   scanID,
		ClientID:   clientID,
		Data: map[string]interface{}{
			"criticalCount": summary.CriticalCount,
			"warningCount":  summary.WarningCount,
			"infoCount":     summary.InfoCount,
			"totalAlerts":   summary.CriticalCount + summary.WarningCount + summary.InfoCount,
			"hasCritical":   summary.CriticalCount > 0,
		},
	})
}

// EvaluatePaymentAlert runs rule evaluation on a payment status
// transition. The previous status is exposed under the previous_ prefix
// so changed_to conditions can observe the transition.
func EvaluatePaymentAlert(ctx context.Context, e Engine, clientID, invoiceID int64, status, previousStatus string) (*Result, error) {
	return e.Evaluate(ctx, Input{
		SourceType: rules.SourcePaymentCheck,
		SourceID:   invoiceID,
		ClientID:   clientID,
		Data: map[string]interface{}{
			"paymentStatus":          status,
			"previous_paymentStatus": previousStatus,
			"isOverdue":              status == "overdue",
		},
	})
}

// EvaluateRankAlert runs rule evaluation on a significant rank movement
// for a tracked keyword. Negative deltas are declines.
func EvaluateRankAlert(ctx context.Context, e Engine, clientID, snapshotID int64, rankDelta int, keyword string) (*Result, error) {
	return e.Evaluate(ctx, Input{
		SourceType: rules.SourceRankTracking,
		SourceID:   snapshotID,
		ClientID:   clientID,
		Data: map[string]interface{}{
			"rankDelta":         rankDelta,
			"keyword":           keyword,
			"isDecline":         rankDelta < 0,
			"isCriticalDecline": rankDelta <= -20,
			"isWarningDecline":  rankDelta <= -10 && rankDelta > -20,
		},
	})
}

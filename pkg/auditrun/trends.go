package auditrun

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/service"
	"github.com/tessera-io/tessera/pkg/store"
)

// WindowStats aggregates one fixed window ending now.
type WindowStats struct {
	Window      string         `json:"window"`
	Total       int            `json:"total"`
	Passed      int            `json:"passed"`
	Failed      int            `json:"failed"`
	Partial     int            `json:"partial"`
	FailureRate float64        `json:"failure_rate"`
	TopFailed   []FailureCount `json:"top_failed_guarantees,omitempty"`
}

// FailureCount is one guarantee's failure tally within a window.
type FailureCount struct {
	Guarantee string `json:"guarantee"`
	Failures  int    `json:"failures"`
}

// Alert is one triggered trend rule.
type Alert struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Trends is the windowed aggregation for one asset.
type Trends struct {
	AssetID string        `json:"asset_id"`
	Windows []WindowStats `json:"windows"`
	Alerts  []Alert       `json:"alerts,omitempty"`
}

var trendWindows = []struct {
	name string
	span time.Duration
}{
	{"24h", 24 * time.Hour},
	{"7d", 7 * 24 * time.Hour},
	{"30d", 30 * 24 * time.Hour},
}

// Trends computes per-window totals, failure rates and top-failed
// guarantees, then evaluates the alert rules.
func (s *Service) Trends(ctx context.Context, assetID string) (*Trends, error) {
	if _, err := s.store.GetAsset(ctx, assetID, true); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, service.E(service.KindNotFound, "asset not found")
		}
		return nil, err
	}

	now := s.now().UTC()
	// One read covers every window; 30d is the widest.
	runs, err := s.store.ListAuditRunsSince(ctx, assetID, now.Add(-trendWindows[2].span))
	if err != nil {
		return nil, err
	}

	trends := &Trends{AssetID: assetID}
	stats := make(map[string]*WindowStats, len(trendWindows))
	failures := make(map[string]map[string]int, len(trendWindows))
	for _, w := range trendWindows {
		ws := &WindowStats{Window: w.name}
		cutoff := now.Add(-w.span)
		counts := map[string]int{}
		for _, run := range runs {
			if run.RunAt.Before(cutoff) {
				continue
			}
			ws.Total++
			switch run.Status {
			case contracts.AuditPassed:
				ws.Passed++
			case contracts.AuditFailed:
				ws.Failed++
			case contracts.AuditPartial:
				ws.Partial++
			}
			for _, g := range failedGuarantees(run) {
				counts[g]++
			}
		}
		if ws.Total > 0 {
			ws.FailureRate = float64(ws.Failed+ws.Partial) / float64(ws.Total)
		}
		ws.TopFailed = topFailures(counts, 10)
		stats[w.name] = ws
		failures[w.name] = counts
		trends.Windows = append(trends.Windows, *ws)
	}

	trends.Alerts = evaluateAlerts(stats, failures["7d"], runs)
	return trends, nil
}

func topFailures(counts map[string]int, limit int) []FailureCount {
	out := make([]FailureCount, 0, len(counts))
	for g, n := range counts {
		out = append(out, FailureCount{Guarantee: g, Failures: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Failures != out[j].Failures {
			return out[i].Failures > out[j].Failures
		}
		return out[i].Guarantee < out[j].Guarantee
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// evaluateAlerts applies the four trend rules. runs is ordered newest first.
func evaluateAlerts(stats map[string]*WindowStats, weekFailures map[string]int, runs []*contracts.AuditRun) []Alert {
	var alerts []Alert
	day, week, month := stats["24h"], stats["7d"], stats["30d"]

	if day.Total >= 3 && day.FailureRate > 0.5 {
		alerts = append(alerts, Alert{
			Rule:    "high_24h_failure_rate",
			Message: fmt.Sprintf("failure rate %.0f%% over the last 24h (%d runs)", day.FailureRate*100, day.Total),
		})
	}
	if week.Total >= 5 && month.Total >= 10 && week.FailureRate > 1.5*month.FailureRate {
		alerts = append(alerts, Alert{
			Rule:    "degrading_weekly_trend",
			Message: fmt.Sprintf("7d failure rate %.0f%% exceeds 1.5x the 30d rate %.0f%%", week.FailureRate*100, month.FailureRate*100),
		})
	}
	for _, fc := range topFailures(weekFailures, len(weekFailures)) {
		if fc.Failures >= 5 {
			alerts = append(alerts, Alert{
				Rule:    "repeated_guarantee_failure",
				Message: fmt.Sprintf("guarantee %q failed %d times in 7d", fc.Guarantee, fc.Failures),
			})
		}
	}
	if len(runs) > 0 && runs[0].Status == contracts.AuditFailed {
		alerts = append(alerts, Alert{
			Rule:    "latest_run_failed",
			Message: "the most recent audit run failed",
		})
	}
	return alerts
}

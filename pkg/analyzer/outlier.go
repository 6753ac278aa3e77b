package analyzer

import (
	"sort"
	"time"

	"github.com/ccollicutt/reqtrace/pkg/config"
)

// Threshold is the span above which a session with the given segment sum is
// an outlier: the larger of the minimum span and factor times the sum.
func Threshold(sum time.Duration, cfg config.OutlierConfig) time.Duration {
	factor := cfg.Factor
	if factor <= 0 {
		factor = config.DefaultOutlierFactor
	}
	scaled := time.Duration(factor * float64(sum))
	if scaled > cfg.MinSpan {
		return scaled
	}
	return cfg.MinSpan
}

// DetectOutliers flags sessions whose timeline span exceeds Threshold. Span
// and sum are taken over the service segments, so time spent between services
// counts toward the span only.
func DetectOutliers(reports []*SessionReport, cfg config.OutlierConfig) []Outlier {
	var out []Outlier
	for _, r := range reports {
		tl := r.Timeline
		if tl == nil || !tl.HasTime {
			continue
		}
		threshold := Threshold(tl.Sum, cfg)
		if tl.Span <= threshold {
			continue
		}
		out = append(out, Outlier{
			ID:         r.ID,
			Span:       tl.Span,
			Sum:        tl.Sum,
			Threshold:  threshold,
			EventCount: len(r.Events),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Span > out[j].Span
	})
	return out
}

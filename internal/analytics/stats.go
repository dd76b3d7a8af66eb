package analytics

import (
	"time"

	"github.com/kalambet/pumpdrive/internal/storage"
)

// Stats is the rolling-window view of served requests.
type Stats struct {
	Window           string         `json:"window"`
	TotalRequests    int            `json:"total_requests"`
	CacheHits        int            `json:"cache_hits"`
	HitRate          float64        `json:"hit_rate"`
	AvgSimilarity    float64        `json:"avg_similarity"`
	EstimatedCost    float64        `json:"estimated_cost_usd"`
	EstimatedSavings float64        `json:"estimated_savings_usd"`
	AvgLatencyMs     float64        `json:"avg_latency_ms"`
	ByKind           map[string]int `json:"by_kind"`
}

// Summarize aggregates recs. AvgSimilarity covers cache hits only, and
// EstimatedSavings prices each hit at one avoided external call.
func Summarize(recs []storage.AnalyticsRecord, window time.Duration) Stats {
	st := Stats{Window: window.String(), ByKind: make(map[string]int)}
	var simSum float64
	var latencySum int64
	for _, r := range recs {
		st.TotalRequests++
		st.ByKind[r.RequestKind]++
		st.EstimatedCost += r.EstimatedCost
		latencySum += r.LatencyMs
		if r.WasCacheHit {
			st.CacheHits++
			simSum += r.SimilarityScore
		}
	}
	if st.TotalRequests > 0 {
		st.HitRate = float64(st.CacheHits) / float64(st.TotalRequests)
		st.AvgLatencyMs = float64(latencySum) / float64(st.TotalRequests)
	}
	if st.CacheHits > 0 {
		st.AvgSimilarity = simSum / float64(st.CacheHits)
	}
	st.EstimatedSavings = float64(st.CacheHits) * EstimatedCallCost
	return st
}

package webhooks

import (
	"sort"
	"time"

	"propvest/internal/platform/repositories"
)

// Bucketing switches from daily to weekly once a range exceeds this many days.
const dailyBucketLimit = 60

type SubscriptionStats struct {
	SubscriptionID string  `json:"subscription_id"`
	Total          int     `json:"total"`
	Succeeded      int     `json:"succeeded"`
	Failed         int     `json:"failed"`
	SuccessRate    float64 `json:"success_rate"`
}

type Bucket struct {
	Date      string `json:"date"` // bucket start, YYYY-MM-DD
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

type Summary struct {
	From            int64               `json:"from"`
	To              int64               `json:"to"`
	Total           int                 `json:"total"`
	Succeeded       int                 `json:"succeeded"`
	Failed          int                 `json:"failed"`
	SuccessRate     float64             `json:"success_rate"`
	BucketSize      string              `json:"bucket_size"` // "day" or "week"
	Buckets         []Bucket            `json:"buckets"`
	PerSubscription []SubscriptionStats `json:"per_subscription"`
	TopFailing      []SubscriptionStats `json:"top_failing"`
}

type StatsService struct {
	deliveries *repositories.DeliveryRepository
}

func NewStatsService(deliveries *repositories.DeliveryRepository) *StatsService {
	return &StatsService{deliveries: deliveries}
}

// Summary aggregates delivery outcomes over [from, to]: overall and
// per-subscription counts, a day- or week-bucketed time series, and the
// top-N subscriptions by failure count for operator triage.
func (s *StatsService) Summary(from, to time.Time, topN int) (*Summary, error) {
	records, err := s.deliveries.ListRange(from.Unix(), to.Unix())
	if err != nil {
		return nil, err
	}

	byDay := to.Sub(from) <= dailyBucketLimit*24*time.Hour

	summary := &Summary{
		From:       from.Unix(),
		To:         to.Unix(),
		BucketSize: "week",
	}
	if byDay {
		summary.BucketSize = "day"
	}

	perSub := make(map[string]*SubscriptionStats)
	buckets := make(map[string]*Bucket)

	for _, rec := range records {
		summary.Total++
		if rec.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}

		st, ok := perSub[rec.SubscriptionID]
		if !ok {
			st = &SubscriptionStats{SubscriptionID: rec.SubscriptionID}
			perSub[rec.SubscriptionID] = st
		}
		st.Total++
		if rec.Success {
			st.Succeeded++
		} else {
			st.Failed++
		}

		key := bucketKey(time.Unix(rec.DeliveredAt, 0).UTC(), byDay)
		b, ok := buckets[key]
		if !ok {
			b = &Bucket{Date: key}
			buckets[key] = b
		}
		b.Total++
		if rec.Success {
			b.Succeeded++
		} else {
			b.Failed++
		}
	}

	if summary.Total > 0 {
		summary.SuccessRate = float64(summary.Succeeded) / float64(summary.Total)
	}

	for _, st := range perSub {
		if st.Total > 0 {
			st.SuccessRate = float64(st.Succeeded) / float64(st.Total)
		}
		summary.PerSubscription = append(summary.PerSubscription, *st)
	}
	sort.Slice(summary.PerSubscription, func(i, j int) bool {
		return summary.PerSubscription[i].SubscriptionID < summary.PerSubscription[j].SubscriptionID
	})

	for _, b := range buckets {
		summary.Buckets = append(summary.Buckets, *b)
	}
	sort.Slice(summary.Buckets, func(i, j int) bool {
		return summary.Buckets[i].Date < summary.Buckets[j].Date
	})

	summary.TopFailing = topFailing(summary.PerSubscription, topN)

	return summary, nil
}

// bucketKey returns the day the record falls in, or the Monday of its week
// for weekly bucketing.
func bucketKey(t time.Time, byDay bool) string {
	if byDay {
		return t.Format("2006-01-02")
	}
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday belongs to the preceding Monday
	}
	monday := t.AddDate(0, 0, 1-weekday)
	return monday.Format("2006-01-02")
}

func topFailing(stats []SubscriptionStats, n int) []SubscriptionStats {
	failing := make([]SubscriptionStats, 0, len(stats))
	for _, st := range stats {
		if st.Failed > 0 {
			failing = append(failing, st)
		}
	}
	sort.Slice(failing, func(i, j int) bool {
		if failing[i].Failed != failing[j].Failed {
			return failing[i].Failed > failing[j].Failed
		}
		return failing[i].SubscriptionID < failing[j].SubscriptionID
	})
	if n > 0 && len(failing) > n {
		failing = failing[:n]
	}
	return failing
}

// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

package snapshot

import (
	"context"
	"time"

	"github.com/tomtom215/livehall/internal/envelope"
)

// charts builds the engagement chart bundle: bucketed series over the
// chart window, newest bucket last.
func (p *Publisher) charts(ctx context.Context, eventID int64) (envelope.ReportsCharts, error) {
	out := envelope.ReportsCharts{Type: envelope.TypeReportsCharts}

	now := p.now()
	since := now.Add(-p.chartWindow)
	buckets := int(p.chartWindow / p.chartBucket)
	labels := make([]string, buckets)
	edges := make([]time.Time, buckets+1)
	for i := 0; i <= buckets; i++ {
		edges[i] = since.Add(time.Duration(i) * p.chartBucket)
		if i < buckets {
			labels[i] = edges[i].Format("15:04")
		}
	}

	chats, err := p.store.ChatTimestamps(ctx, eventID, since)
	if err != nil {
		return out, err
	}
	asked, err := p.store.QuestionTimestamps(ctx, eventID, since)
	if err != nil {
		return out, err
	}
	spans, err := p.store.SessionSpans(ctx, eventID)
	if err != nil {
		return out, err
	}
	statusCounts, err := p.store.QuestionStatusCounts(ctx, eventID)
	if err != nil {
		return out, err
	}

	out.Engagement = envelope.ChartSeries{
		Labels: labels,
		Series: map[string][]int64{
			"chat_messages": bucketCounts(chats, edges),
			"questions":     bucketCounts(asked, edges),
		},
	}

	active := make([]int64, buckets)
	retained := make([]int64, buckets)
	for _, span := range spans {
		start, last := span[0], span[1]
		for i := 0; i < buckets; i++ {
			// Active: the session overlaps the bucket at all.
			if start.Before(edges[i+1]) && !last.Before(edges[i]) {
				active[i]++
			}
			// Retained: the session spans the whole bucket.
			if !start.After(edges[i]) && !last.Before(edges[i+1]) {
				retained[i]++
			}
		}
	}
	out.ActiveParticipants = envelope.ChartSeries{
		Labels: labels,
		Series: map[string][]int64{"participants": active},
	}
	out.Retention = envelope.ChartSeries{
		Labels: labels,
		Series: map[string][]int64{"retained": retained},
	}

	statuses := []string{"pending", "approved", "rejected", "read"}
	counts := make([]int64, len(statuses))
	for i, s := range statuses {
		counts[i] = statusCounts[s]
	}
	out.QuestionStatus = envelope.ChartSeries{
		Labels: statuses,
		Series: map[string][]int64{"questions": counts},
	}

	return out, nil
}

// bucketCounts tallies timestamps into the bucket whose edge interval
// contains them. Timestamps outside the window are dropped.
func bucketCounts(stamps []time.Time, edges []time.Time) []int64 {
	buckets := len(edges) - 1
	counts := make([]int64, buckets)
	for _, ts := range stamps {
		for i := 0; i < buckets; i++ {
			if !ts.Before(edges[i]) && ts.Before(edges[i+1]) {
				counts[i]++
				break
			}
		}
	}
	return counts
}

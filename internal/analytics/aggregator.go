// Package analytics derives campaign performance stats from the event log.
package analytics

import (
	"context"
	"fmt"
	"math"

	"github.com/outboundlab/sequencer/internal/domain"
	"github.com/outboundlab/sequencer/internal/repository"
)

// CampaignStats aggregates the event log for one campaign. Delivered is
// derived as sent minus bounced; there is no separate delivery tracking.
type CampaignStats struct {
	CampaignID   string  `json:"campaign_id"`
	Sent         int     `json:"sent"`
	Delivered    int     `json:"delivered"`
	Opened       int     `json:"opened"`
	Clicked      int     `json:"clicked"`
	Replied      int     `json:"replied"`
	Bounced      int     `json:"bounced"`
	Unsubscribed int     `json:"unsubscribed"`
	OpenRate     float64 `json:"open_rate"`
	ClickRate    float64 `json:"click_rate"`
	ReplyRate    float64 `json:"reply_rate"`
	BounceRate   float64 `json:"bounce_rate"`
}

type Aggregator struct {
	events repository.EventRepository
}

func NewAggregator(events repository.EventRepository) *Aggregator {
	return &Aggregator{events: events}
}

// CampaignStats computes counts per event type and percentage rates. Open,
// click, and reply rates are over delivered; bounce rate is over sent. All
// rates are zero when their denominator is zero.
func (a *Aggregator) CampaignStats(ctx context.Context, campaignID string) (*CampaignStats, error) {
	counts, err := a.events.CountByType(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate events: %w", err)
	}

	stats := &CampaignStats{CampaignID: campaignID}
	for _, c := range counts {
		switch c.Type {
		case domain.EventSent:
			stats.Sent = c.Count
		case domain.EventOpened:
			stats.Opened = c.Count
		case domain.EventClicked:
			stats.Clicked = c.Count
		case domain.EventReplied:
			stats.Replied = c.Count
		case domain.EventBounced:
			stats.Bounced = c.Count
		case domain.EventUnsubscribed:
			stats.Unsubscribed = c.Count
		}
	}

	stats.Delivered = stats.Sent - stats.Bounced
	if stats.Delivered < 0 {
		stats.Delivered = 0
	}

	stats.OpenRate = rate(stats.Opened, stats.Delivered)
	stats.ClickRate = rate(stats.Clicked, stats.Delivered)
	stats.ReplyRate = rate(stats.Replied, stats.Delivered)
	stats.BounceRate = rate(stats.Bounced, stats.Sent)

	return stats, nil
}

func rate(count, denominator int) float64 {
	if denominator <= 0 {
		return 0
	}
	return math.Round(float64(count)/float64(denominator)*10000) / 100
}

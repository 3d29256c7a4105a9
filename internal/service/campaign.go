package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/adprofit/internal/apperror"
	"github.com/sakif/adprofit/internal/decision"
	"github.com/sakif/adprofit/internal/model"
	"github.com/sakif/adprofit/internal/repository"
)

// CampaignService serves campaign records and their decisions.
type CampaignService struct {
	repo          repository.CampaignRepository
	defaultMarket string
	logger        *slog.Logger
}

func NewCampaignService(repo repository.CampaignRepository, defaultMarket string, logger *slog.Logger) *CampaignService {
	return &CampaignService{repo: repo, defaultMarket: defaultMarket, logger: logger}
}

// Records returns a campaign's daily records in date order.
func (s *CampaignService) Records(ctx context.Context, userID, campaignID string) ([]model.DailyCampaignRecord, error) {
	records, err := s.repo.ListRecords(ctx, userID, repository.RecordFilter{CampaignID: campaignID})
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	if len(records) == 0 {
		return nil, apperror.NotFound("campaign", campaignID)
	}
	return records, nil
}

func (s *CampaignService) Campaigns(ctx context.Context, userID string) ([]model.Campaign, error) {
	campaigns, err := s.repo.ListCampaigns(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing campaigns: %w", err)
	}
	return campaigns, nil
}

// Evaluate recomputes a campaign's windows for market and persists the
// verdicts onto the records.
func (s *CampaignService) Evaluate(ctx context.Context, userID, campaignID, market string) ([]decision.Window, error) {
	tier, err := decision.TierFor(market, s.defaultMarket)
	if err != nil {
		return nil, err
	}
	records, err := s.Records(ctx, userID, campaignID)
	if err != nil {
		return nil, err
	}

	windows := decision.Evaluate(records, tier)
	if windows == nil {
		windows = []decision.Window{}
	}
	if decision.Apply(records, windows) > 0 {
		var decided []model.DailyCampaignRecord
		for _, r := range records {
			if r.Decision != nil {
				decided = append(decided, r)
			}
		}
		if err := s.repo.SaveDecisions(ctx, decided); err != nil {
			return nil, fmt.Errorf("saving decisions: %w", err)
		}
	}

	s.logger.Info("campaign evaluated",
		slog.String("campaign_id", campaignID),
		slog.String("market", tier.Name),
		slog.Int("windows", len(windows)),
	)
	return windows, nil
}

// Summary counts campaigns by the verdict of their latest complete window.
type Summary struct {
	Market    string                 `json:"market"`
	Campaigns int                    `json:"campaigns"`
	Counts    map[model.Decision]int `json:"counts"`
	Undecided int                    `json:"undecided"`
}

// Summary evaluates every campaign for market without persisting anything.
func (s *CampaignService) Summary(ctx context.Context, userID, market string) (*Summary, error) {
	tier, err := decision.TierFor(market, s.defaultMarket)
	if err != nil {
		return nil, err
	}
	records, err := s.repo.ListRecords(ctx, userID, repository.RecordFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}

	sum := &Summary{
		Market: tier.Name,
		Counts: map[model.Decision]int{
			model.DecisionKill:     0,
			model.DecisionMaintain: 0,
			model.DecisionScale:    0,
		},
	}

	// Records arrive ordered by campaign, so each campaign is one run.
	for start := 0; start < len(records); {
		end := start
		for end < len(records) && records[end].CampaignID == records[start].CampaignID {
			end++
		}
		sum.Campaigns++
		windows := decision.Evaluate(records[start:end], tier)
		if len(windows) == 0 {
			sum.Undecided++
		} else {
			sum.Counts[windows[len(windows)-1].Decision]++
		}
		start = end
	}
	return sum, nil
}

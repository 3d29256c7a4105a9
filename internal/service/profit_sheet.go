package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/adprofit/internal/apperror"
	"github.com/sakif/adprofit/internal/model"
	"github.com/sakif/adprofit/internal/profit"
	"github.com/sakif/adprofit/internal/repository"
)

// ProfitSheetService combines synced store and ad data with the user's
// manual adjustments into a daily profit report.
type ProfitSheetService struct {
	integrations repository.IntegrationRepository
	records      repository.CampaignRepository
	sheet        repository.ProfitSheetRepository
	logger       *slog.Logger
}

func NewProfitSheetService(integrations repository.IntegrationRepository, records repository.CampaignRepository, sheet repository.ProfitSheetRepository, logger *slog.Logger) *ProfitSheetService {
	return &ProfitSheetService{integrations: integrations, records: records, sheet: sheet, logger: logger}
}

// EntryInput is one manual profit-sheet adjustment.
type EntryInput struct {
	IntegrationID string  `json:"integration_id"`
	AdAccountID   string  `json:"ad_account_id"`
	Date          string  `json:"date"`
	OtherExpenses float64 `json:"other_expenses"`
	ManualRefunds float64 `json:"manual_refunds"`
}

// Upsert creates or replaces the adjustment for (store, ad account, day).
func (s *ProfitSheetService) Upsert(ctx context.Context, userID string, in EntryInput) (*model.ProfitSheetEntry, error) {
	if err := s.requireStore(ctx, userID, in.IntegrationID); err != nil {
		return nil, err
	}
	day, err := parseDay("date", in.Date)
	if err != nil {
		return nil, err
	}
	if err := money("other_expenses", in.OtherExpenses); err != nil {
		return nil, err
	}
	if err := money("manual_refunds", in.ManualRefunds); err != nil {
		return nil, err
	}

	e := &model.ProfitSheetEntry{
		UserID:        userID,
		IntegrationID: in.IntegrationID,
		AdAccountID:   strings.TrimPrefix(strings.TrimSpace(in.AdAccountID), "act_"),
		Date:          day,
		OtherExpenses: profit.Round2(in.OtherExpenses),
		ManualRefunds: profit.Round2(in.ManualRefunds),
	}
	if err := s.sheet.UpsertProfitSheetEntry(ctx, e); err != nil {
		return nil, fmt.Errorf("saving profit sheet entry: %w", err)
	}
	return e, nil
}

// ReportQuery selects the days and scope of a report. An empty AdAccountID
// covers every ad account.
type ReportQuery struct {
	IntegrationID string
	AdAccountID   string
	From          string
	To            string
}

// Report returns one row per calendar day in [From, To], including days
// with no activity.
func (s *ProfitSheetService) Report(ctx context.Context, userID string, q ReportQuery) ([]model.ProfitSheetRow, error) {
	if err := s.requireStore(ctx, userID, q.IntegrationID); err != nil {
		return nil, err
	}
	from, err := parseDay("from", q.From)
	if err != nil {
		return nil, err
	}
	to, err := parseDay("to", q.To)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, apperror.ValidationFailed("to", "to must not be before from")
	}
	if days := int(to.Sub(from).Hours()/24) + 1; days > MaxReportDays {
		return nil, apperror.ValidationFailed("to", fmt.Sprintf("report range is limited to %d days", MaxReportDays))
	}
	account := strings.TrimPrefix(strings.TrimSpace(q.AdAccountID), "act_")

	totals, err := s.sheet.ListStoreTotals(ctx, userID, q.IntegrationID, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing store totals: %w", err)
	}
	records, err := s.records.ListRecords(ctx, userID, repository.RecordFilter{AdAccountID: account, From: from, To: to})
	if err != nil {
		return nil, fmt.Errorf("listing campaign records: %w", err)
	}
	entries, err := s.sheet.ListProfitSheetEntries(ctx, userID, q.IntegrationID, account, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing profit sheet entries: %w", err)
	}

	inputs := make(map[string]*profit.SheetInput)
	at := func(t time.Time) *profit.SheetInput {
		k := t.UTC().Format(model.DateLayout)
		in := inputs[k]
		if in == nil {
			in = &profit.SheetInput{}
			inputs[k] = in
		}
		return in
	}
	for _, t := range totals {
		in := at(t.Date)
		in.Revenue += t.Revenue
		in.COG += t.COG
		in.ProviderRefunds += t.Refunds
	}
	for _, r := range records {
		at(r.Date).AdSpend += r.TotalSpend
	}
	for _, e := range entries {
		in := at(e.Date)
		in.OtherExpenses += e.OtherExpenses
		in.ManualRefunds += e.ManualRefunds
	}

	rows := make([]model.ProfitSheetRow, 0, int(to.Sub(from).Hours()/24)+1)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		in := at(d)
		out := profit.ComputeSheet(*in)
		rows = append(rows, model.ProfitSheetRow{
			Date:           d.Format(model.DateLayout),
			Revenue:        profit.Round2(in.Revenue),
			COG:            profit.Round2(in.COG),
			AdSpend:        profit.Round2(in.AdSpend),
			OtherExpenses:  profit.Round2(in.OtherExpenses),
			ProviderRefund: profit.Round2(in.ProviderRefunds),
			ManualRefunds:  profit.Round2(in.ManualRefunds),
			TotalRefunds:   profit.Round2(out.TotalRefunds),
			TransactionFee: profit.Round2(out.TransactionFee),
			Profit:         profit.Round2(out.Profit),
		})
	}
	return rows, nil
}

// requireStore checks that id names one of the user's active Shopify integrations.
func (s *ProfitSheetService) requireStore(ctx context.Context, userID, id string) error {
	if strings.TrimSpace(id) == "" {
		return apperror.ValidationFailed("integration_id", "integration_id is required")
	}
	in, err := s.integrations.GetIntegration(ctx, userID, id)
	if err != nil {
		return err
	}
	if in.Provider != model.ProviderShopify {
		return apperror.ValidationFailed("integration_id", "profit sheet entries belong to a shopify integration")
	}
	if !in.Active() {
		return apperror.ValidationFailed("integration_id", "integration is disabled")
	}
	return nil
}

func parseDay(field, s string) (time.Time, error) {
	d, err := time.Parse(model.DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, apperror.ValidationFailed(field, field+" must be a date in YYYY-MM-DD format")
	}
	return d, nil
}

package service

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const salesWindowDays = 7

// AnalyticsReport is the admin dashboard payload
type AnalyticsReport struct {
	AnalyticsData  models.AnalyticsData `json:"analyticsData"`
	DailySalesData []models.DailySales  `json:"dailySalesData"`
}

// AnalyticsService builds the admin sales dashboard
type AnalyticsService struct {
	repo AnalyticsRepository
	now  func() time.Time
}

// NewAnalyticsService creates a new analytics service
func NewAnalyticsService(repo AnalyticsRepository) *AnalyticsService {
	return &AnalyticsService{repo: repo, now: time.Now}
}

// Report returns store totals plus one entry per day for the last week,
// today included. Days without sales are reported as zero.
func (s *AnalyticsService) Report(ctx context.Context) (*AnalyticsReport, error) {
	ctx, span := util.StartSpan(ctx, "AnalyticsService.Report")
	defer span.End()

	today := s.now().UTC().Truncate(24 * time.Hour)
	from := today.AddDate(0, 0, -(salesWindowDays - 1))
	to := today.AddDate(0, 0, 1)

	var (
		totals *models.AnalyticsData
		days   []models.DailySales
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		totals, err = s.repo.AnalyticsTotals(gctx)
		if err != nil {
			return fmt.Errorf("failed to load totals: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		days, err = s.repo.DailySales(gctx, from, to)
		if err != nil {
			return fmt.Errorf("failed to load daily sales: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &AnalyticsReport{
		AnalyticsData:  *totals,
		DailySalesData: fillDays(days, from, salesWindowDays),
	}, nil
}

func fillDays(days []models.DailySales, from time.Time, n int) []models.DailySales {
	byDate := make(map[string]models.DailySales, len(days))
	for _, d := range days {
		byDate[d.Date] = d
	}

	out := make([]models.DailySales, 0, n)
	for i := 0; i < n; i++ {
		date := from.AddDate(0, 0, i).Format(time.DateOnly)
		d, ok := byDate[date]
		if !ok {
			d = models.DailySales{Date: date, Revenue: decimal.Zero}
		}
		out = append(out, d)
	}
	return out
}

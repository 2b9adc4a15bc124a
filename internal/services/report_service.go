// internal/services/report_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/javajoker/coop-registry/internal/models"
)

const recentLoginWindow = 7 * 24 * time.Hour

type ReportService struct {
	db *gorm.DB
}

type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

type ApplicationSummary struct {
	Total    int64         `json:"total"`
	ByStatus []StatusCount `json:"by_status"`
}

type PaymentStatusSummary struct {
	Status string          `json:"status"`
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

type PaymentSummary struct {
	TotalRevenue      decimal.Decimal        `json:"total_revenue"`
	TotalTransactions int64                  `json:"total_transactions"`
	ByStatus          []PaymentStatusSummary `json:"by_status"`
}

type UserActivitySummary struct {
	TotalUsers     int64 `json:"total_users"`
	ActiveUsers    int64 `json:"active_users"`
	InactiveUsers  int64 `json:"inactive_users"`
	LastWeekLogins int64 `json:"last_week_logins"`
}

type DashboardStats struct {
	TotalApplications     int64           `json:"total_applications"`
	PendingApplications   int64           `json:"pending_applications"`
	ApprovedApplications  int64           `json:"approved_applications"`
	ApplicationsThisMonth int64           `json:"applications_this_month"`
	TotalFeesCollected    decimal.Decimal `json:"total_fees_collected"`
	MonthlyFeesCollected  decimal.Decimal `json:"monthly_fees_collected"`
	CertificatesIssued    int64           `json:"certificates_issued"`
	ActiveUsers           int64           `json:"active_users"`
	ApplicationGrowth     float64         `json:"application_growth"`
	RevenueGrowth         float64         `json:"revenue_growth"`
}

func NewReportService(db *gorm.DB) *ReportService {
	return &ReportService{db: db}
}

func (s *ReportService) ApplicationSummary(ctx context.Context) (*ApplicationSummary, error) {
	counts := make([]int64, len(models.ApplicationStatuses))

	g, ctx := errgroup.WithContext(ctx)
	for i, status := range models.ApplicationStatuses {
		i, status := i, status
		g.Go(func() error {
			return s.db.WithContext(ctx).Model(&models.Application{}).
				Where("status = ?", status).Count(&counts[i]).Error
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to summarise applications: %w", err)
	}

	summary := &ApplicationSummary{ByStatus: make([]StatusCount, 0, len(counts))}
	for i, status := range models.ApplicationStatuses {
		summary.Total += counts[i]
		summary.ByStatus = append(summary.ByStatus, StatusCount{Status: string(status), Count: counts[i]})
	}
	return summary, nil
}

func (s *ReportService) PaymentSummary(ctx context.Context) (*PaymentSummary, error) {
	rows := make([]PaymentStatusSummary, len(models.PaymentStatuses))

	g, ctx := errgroup.WithContext(ctx)
	for i, status := range models.PaymentStatuses {
		i, status := i, status
		g.Go(func() error {
			var amounts []decimal.Decimal
			if err := s.db.WithContext(ctx).Model(&models.Payment{}).
				Where("status = ?", status).Pluck("amount", &amounts).Error; err != nil {
				return err
			}
			rows[i] = PaymentStatusSummary{
				Status: string(status),
				Count:  int64(len(amounts)),
				Amount: decimal.Sum(decimal.Zero, amounts...),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to summarise payments: %w", err)
	}

	// Only COMPLETED payments count as revenue.
	summary := &PaymentSummary{TotalRevenue: decimal.Zero, ByStatus: rows}
	for _, row := range rows {
		summary.TotalTransactions += row.Count
		if row.Status == string(models.PaymentStatusCompleted) {
			summary.TotalRevenue = summary.TotalRevenue.Add(row.Amount)
		}
	}
	return summary, nil
}

func (s *ReportService) UserActivity(ctx context.Context) (*UserActivitySummary, error) {
	summary := &UserActivitySummary{}
	since := time.Now().UTC().Add(-recentLoginWindow)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.db.WithContext(ctx).Model(&models.User{}).Count(&summary.TotalUsers).Error
	})
	g.Go(func() error {
		return s.db.WithContext(ctx).Model(&models.User{}).
			Where("status = ?", models.UserStatusActive).Count(&summary.ActiveUsers).Error
	})
	g.Go(func() error {
		return s.db.WithContext(ctx).Model(&models.User{}).
			Where("status = ?", models.UserStatusInactive).Count(&summary.InactiveUsers).Error
	})
	g.Go(func() error {
		return s.db.WithContext(ctx).Model(&models.User{}).
			Where("last_login_at >= ?", since).Count(&summary.LastWeekLogins).Error
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to summarise user activity: %w", err)
	}

	return summary, nil
}

// Dashboard returns the admin KPIs. Growth figures compare this calendar month with the previous one.
func (s *ReportService) Dashboard(ctx context.Context) (*DashboardStats, error) {
	stats := &DashboardStats{}
	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	lastMonthStart := monthStart.AddDate(0, -1, 0)

	var lastMonthApplications int64
	var monthlyFees, lastMonthFees decimal.Decimal

	g, ctx := errgroup.WithContext(ctx)
	db := s.db.WithContext(ctx)

	g.Go(func() error {
		return db.Model(&models.Application{}).Count(&stats.TotalApplications).Error
	})
	g.Go(func() error {
		return db.Model(&models.Application{}).
			Where("status IN ?", []models.ApplicationStatus{models.ApplicationStatusNew, models.ApplicationStatusUnderReview}).
			Count(&stats.PendingApplications).Error
	})
	g.Go(func() error {
		return db.Model(&models.Application{}).
			Where("status = ?", models.ApplicationStatusApproved).Count(&stats.ApprovedApplications).Error
	})
	g.Go(func() error {
		return db.Model(&models.Application{}).
			Where("created_at >= ?", monthStart).Count(&stats.ApplicationsThisMonth).Error
	})
	g.Go(func() error {
		return db.Model(&models.Application{}).
			Where("created_at >= ? AND created_at < ?", lastMonthStart, monthStart).
			Count(&lastMonthApplications).Error
	})
	g.Go(func() (err error) {
		stats.TotalFeesCollected, err = s.completedAmount(db, nil, nil)
		return err
	})
	g.Go(func() (err error) {
		monthlyFees, err = s.completedAmount(db, &monthStart, nil)
		return err
	})
	g.Go(func() (err error) {
		lastMonthFees, err = s.completedAmount(db, &lastMonthStart, &monthStart)
		return err
	})
	g.Go(func() error {
		return db.Model(&models.Certificate{}).
			Where("revoked_at IS NULL").Count(&stats.CertificatesIssued).Error
	})
	g.Go(func() error {
		return db.Model(&models.User{}).
			Where("status = ?", models.UserStatusActive).Count(&stats.ActiveUsers).Error
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load dashboard: %w", err)
	}

	stats.MonthlyFeesCollected = monthlyFees
	if lastMonthApplications > 0 {
		stats.ApplicationGrowth = float64(stats.ApplicationsThisMonth-lastMonthApplications) / float64(lastMonthApplications) * 100
	}
	if lastMonthFees.IsPositive() {
		stats.RevenueGrowth = monthlyFees.Sub(lastMonthFees).Div(lastMonthFees).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}

	return stats, nil
}

// completedAmount sums COMPLETED payments whose payment date falls in [from, to).
func (s *ReportService) completedAmount(db *gorm.DB, from, to *time.Time) (decimal.Decimal, error) {
	query := db.Model(&models.Payment{}).Where("status = ?", models.PaymentStatusCompleted)
	if from != nil {
		query = query.Where("payment_date >= ?", *from)
	}
	if to != nil {
		query = query.Where("payment_date < ?", *to)
	}

	var amounts []decimal.Decimal
	if err := query.Pluck("amount", &amounts).Error; err != nil {
		return decimal.Zero, err
	}
	return decimal.Sum(decimal.Zero, amounts...), nil
}

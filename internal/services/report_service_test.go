package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/coop-registry/internal/models"
)

func TestReports_Summaries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	paid := env.submit(t, "Paid Cooperative")
	env.addPayment(t, paid, models.PaymentStatusCompleted)
	unpaid := env.submit(t, "Unpaid Cooperative")
	env.addPayment(t, unpaid, models.PaymentStatusPending)
	rejected := env.submit(t, "Rejected Cooperative")
	env.setStatus(t, rejected, models.ApplicationStatusRejected)

	_, err := env.container.Approvals.ApprovePayment(ctx, mustLatestPayment(t, env, paid).ID, nil, "")
	require.NoError(t, err)

	applications, err := env.container.Reports.ApplicationSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), applications.Total)
	byStatus := map[string]int64{}
	for _, row := range applications.ByStatus {
		byStatus[row.Status] = row.Count
	}
	assert.Equal(t, int64(1), byStatus["APPROVED"])
	assert.Equal(t, int64(1), byStatus["NEW"])
	assert.Equal(t, int64(1), byStatus["REJECTED"])

	payments, err := env.container.Reports.PaymentSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), payments.TotalTransactions)
	assert.Equal(t, "5000", payments.TotalRevenue.String())

	dashboard, err := env.container.Reports.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), dashboard.TotalApplications)
	assert.Equal(t, int64(1), dashboard.PendingApplications)
	assert.Equal(t, int64(1), dashboard.ApprovedApplications)
	assert.Equal(t, int64(3), dashboard.ApplicationsThisMonth)
	assert.Equal(t, int64(1), dashboard.CertificatesIssued)
	assert.Equal(t, "5000", dashboard.TotalFeesCollected.String())
	assert.Equal(t, "5000", dashboard.MonthlyFeesCollected.String())
}

func TestReports_UserActivity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.createUser(t, "active@registry.test", models.UserRoleStaff, testPassword)
	inactive := env.createUser(t, "inactive@registry.test", models.UserRoleStaff, testPassword)
	require.NoError(t, env.db.Model(inactive).Update("status", models.UserStatusInactive).Error)

	_, err := env.container.Auth.Login(ctx, &LoginRequest{Email: "active@registry.test", Password: testPassword}, RequestMeta{})
	require.NoError(t, err)

	summary, err := env.container.Reports.UserActivity(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.TotalUsers)
	assert.Equal(t, int64(1), summary.ActiveUsers)
	assert.Equal(t, int64(1), summary.InactiveUsers)
	assert.Equal(t, int64(1), summary.LastWeekLogins)
}

func mustLatestPayment(t *testing.T, env *testEnv, app *models.Application) *models.Payment {
	t.Helper()
	var payment models.Payment
	require.NoError(t, env.db.Where("application_id = ?", app.ID).Order("created_at DESC").First(&payment).Error)
	return &payment
}

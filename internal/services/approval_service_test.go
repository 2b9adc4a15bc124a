package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/coop-registry/internal/config"
	"github.com/javajoker/coop-registry/internal/models"
	"github.com/javajoker/coop-registry/internal/utils"
)

func TestApprovePayment_IssuesFirstNumberAndQueuesApprovalEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	app := env.submit(t, "Bauchi Farmers Multipurpose Cooperative")
	payment := env.addPayment(t, app, models.PaymentStatusCompleted)

	result, err := env.container.Approvals.ApprovePayment(ctx, payment.ID, nil, "")
	require.NoError(t, err)

	require.NotNil(t, result.Certificate)
	assert.Equal(t, models.FormatRegistrationNo(time.Now().UTC().Year(), 1), result.Certificate.RegistrationNo)
	assert.Equal(t, models.ApplicationStatusApproved, result.Application.Status)
	assert.Equal(t, models.PipelineStepNotified, result.Pipeline.Step)
	assert.NotEmpty(t, result.Certificate.CertificateURL)

	var stored models.Application
	env.reload(t, &stored, app.ID)
	assert.Equal(t, models.ApplicationStatusApproved, stored.Status)
	require.NotNil(t, stored.Notes)
	assert.Equal(t, defaultApprovalNotes, *stored.Notes)

	approved := env.emailTasks(t, NotificationApplicationApproved)
	require.Len(t, approved, 1)
	assert.Equal(t, app.Email, approved[0].Payload.String("recipient"))
}

func TestApprovePayment_SecondApprovalConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	app := env.submit(t, "Gombe Road Traders Cooperative")
	payment := env.addPayment(t, app, models.PaymentStatusCompleted)

	_, err := env.container.Approvals.ApprovePayment(ctx, payment.ID, nil, "first")
	require.NoError(t, err)

	_, err = env.container.Approvals.ApprovePayment(ctx, payment.ID, nil, "second")
	assert.ErrorIs(t, err, ErrConflict)

	var certificates int64
	require.NoError(t, env.db.Model(&models.Certificate{}).Where("application_id = ?", app.ID).Count(&certificates).Error)
	assert.Equal(t, int64(1), certificates)
	assert.Len(t, env.emailTasks(t, NotificationApplicationApproved), 1)
}

func TestApprovePayment_RequiresCompletedPayment(t *testing.T) {
	env := newTestEnv(t)

	app := env.submit(t, "Azare Women Weavers Cooperative")
	payment := env.addPayment(t, app, models.PaymentStatusPending)

	_, err := env.container.Approvals.ApprovePayment(context.Background(), payment.ID, nil, "")
	assert.ErrorIs(t, err, ErrInvalidState)

	var stored models.Application
	env.reload(t, &stored, app.ID)
	assert.Equal(t, models.ApplicationStatusNew, stored.Status)
}

func TestApprovePayment_RejectedApplicationIsRefused(t *testing.T) {
	env := newTestEnv(t)

	app := env.submit(t, "Misau Fishermen Cooperative")
	payment := env.addPayment(t, app, models.PaymentStatusCompleted)
	env.setStatus(t, app, models.ApplicationStatusRejected)

	_, err := env.container.Approvals.ApprovePayment(context.Background(), payment.ID, nil, "")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestApprovePayment_UnknownPayment(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.container.Approvals.ApprovePayment(context.Background(), uuid.New(), nil, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRejectPayment_BlankReasonChangesNothing(t *testing.T) {
	env := newTestEnv(t)

	app := env.submit(t, "Katagum Poultry Cooperative")
	payment := env.addPayment(t, app, models.PaymentStatusCompleted)

	_, err := env.container.Approvals.RejectPayment(context.Background(), payment.ID, "   ")
	assert.ErrorIs(t, err, ErrBadRequest)

	var storedPayment models.Payment
	env.reload(t, &storedPayment, payment.ID)
	assert.Equal(t, models.PaymentStatusCompleted, storedPayment.Status)

	var storedApp models.Application
	env.reload(t, &storedApp, app.ID)
	assert.Equal(t, models.ApplicationStatusNew, storedApp.Status)
	assert.Empty(t, env.emailTasks(t, NotificationApplicationRejected))
}

func TestRejectPayment_FailsPaymentAndRejectsApplication(t *testing.T) {
	env := newTestEnv(t)

	app := env.submit(t, "Dass Cattle Rearers Cooperative")
	payment := env.addPayment(t, app, models.PaymentStatusCompleted)

	rejected, err := env.container.Approvals.RejectPayment(context.Background(), payment.ID, "Bank reversed the transfer")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, rejected.Status)

	var storedApp models.Application
	env.reload(t, &storedApp, app.ID)
	assert.Equal(t, models.ApplicationStatusRejected, storedApp.Status)
	require.NotNil(t, storedApp.Notes)
	assert.Equal(t, "Bank reversed the transfer", *storedApp.Notes)

	tasks := env.emailTasks(t, NotificationApplicationRejected)
	require.Len(t, tasks, 1)
	data, _ := tasks[0].Payload["data"].(map[string]interface{})
	assert.Equal(t, "Bank reversed the transfer", data["Reason"])
}

func TestRejectPayment_ApprovedApplicationIsRefused(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	app := env.submit(t, "Ningi Grain Sellers Cooperative")
	payment := env.addPayment(t, app, models.PaymentStatusCompleted)
	_, err := env.container.Approvals.ApprovePayment(ctx, payment.ID, nil, "")
	require.NoError(t, err)

	_, err = env.container.Approvals.RejectPayment(ctx, payment.ID, "too late")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestRejectPayment_FlaggedApplicationLosesCertificate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	app := env.submit(t, "Itas Weavers Cooperative")
	payment := env.addPayment(t, app, models.PaymentStatusCompleted)
	approved, err := env.container.Approvals.ApprovePayment(ctx, payment.ID, nil, "")
	require.NoError(t, err)
	require.NotNil(t, approved.Certificate)
	env.setStatus(t, app, models.ApplicationStatusFlagged)

	_, err = env.container.Approvals.RejectPayment(ctx, payment.ID, "Chargeback received")
	require.NoError(t, err)

	result, err := env.container.Certificates.Verify(ctx, approved.Certificate.RegistrationNo)
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	require.NotNil(t, result.RevocationReason)
	assert.Equal(t, "Chargeback received", *result.RevocationReason)
}

func TestResumeApproval_ContinuesAfterCertificateFailure(t *testing.T) {
	sequence := &flakySequence{failures: 1}
	env := newTestEnv(t, func(cfg *config.Config, infra *Infrastructure) {
		sequence.RegistrationSequence = infra.Sequence
		infra.Sequence = sequence
	})
	ctx := context.Background()

	app := env.submit(t, "Jama'are Tailors Cooperative")
	payment := env.addPayment(t, app, models.PaymentStatusCompleted)

	_, err := env.container.Approvals.ApprovePayment(ctx, payment.ID, nil, "")
	require.Error(t, err)

	var pipeline models.ApprovalPipeline
	require.NoError(t, env.db.Where("application_id = ?", app.ID).First(&pipeline).Error)
	assert.Equal(t, models.PipelineStepPaymentApproved, pipeline.Step)
	assert.Contains(t, pipeline.LastError, "sequence offline")

	var storedApp models.Application
	env.reload(t, &storedApp, app.ID)
	assert.Equal(t, models.ApplicationStatusApproved, storedApp.Status)

	result, err := env.container.Approvals.ResumeApproval(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PipelineStepNotified, result.Pipeline.Step)
	require.NotNil(t, result.Certificate)
	assert.Len(t, env.emailTasks(t, NotificationApplicationApproved), 1)
}

func TestResumeStalled_PicksUpOldPipelines(t *testing.T) {
	sequence := &flakySequence{failures: 1}
	env := newTestEnv(t, func(cfg *config.Config, infra *Infrastructure) {
		sequence.RegistrationSequence = infra.Sequence
		infra.Sequence = sequence
	})
	ctx := context.Background()

	app := env.submit(t, "Toro Blacksmiths Cooperative")
	payment := env.addPayment(t, app, models.PaymentStatusCompleted)
	_, err := env.container.Approvals.ApprovePayment(ctx, payment.ID, nil, "")
	require.Error(t, err)

	resumed, err := env.container.Approvals.ResumeStalled(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, resumed, "recently touched pipelines are left alone")

	require.NoError(t, env.db.Model(&models.ApprovalPipeline{}).
		Where("application_id = ?", app.ID).
		UpdateColumn("updated_at", time.Now().UTC().Add(-2*time.Hour)).Error)

	resumed, err = env.container.Approvals.ResumeStalled(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	var pipeline models.ApprovalPipeline
	require.NoError(t, env.db.Where("application_id = ?", app.ID).First(&pipeline).Error)
	assert.Equal(t, models.PipelineStepNotified, pipeline.Step)
}

func TestResumeApproval_WithoutPipeline(t *testing.T) {
	env := newTestEnv(t)
	app := env.submit(t, "Shira Beekeepers Cooperative")

	_, err := env.container.Approvals.ResumeApproval(context.Background(), app.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListPendingPayments_OnlyCompletedAwaitingReview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	waiting := env.submit(t, "Alkaleri Potters Cooperative")
	env.addPayment(t, waiting, models.PaymentStatusCompleted)

	unpaid := env.submit(t, "Kirfi Dyers Cooperative")
	env.addPayment(t, unpaid, models.PaymentStatusPending)

	done := env.submit(t, "Tafawa Balewa Millers Cooperative")
	donePayment := env.addPayment(t, done, models.PaymentStatusCompleted)
	_, err := env.container.Approvals.ApprovePayment(ctx, donePayment.ID, nil, "")
	require.NoError(t, err)

	payments, total, err := env.container.Approvals.ListPendingPayments(ctx, utils.DefaultPagination())
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, payments, 1)
	assert.Equal(t, waiting.ID, payments[0].ApplicationID)

	stats, err := env.container.Approvals.GetApprovalStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.PendingVerification)
	assert.Equal(t, int64(1), stats.AwaitingApproval)
	assert.Equal(t, int64(1), stats.ApprovedToday)
	assert.Equal(t, "10000", stats.CompletedAmount.String())
}

func TestGetPaymentDetails_IncludesPipeline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	app := env.submit(t, "Darazo Shea Butter Cooperative")
	payment := env.addPayment(t, app, models.PaymentStatusCompleted)
	_, err := env.container.Approvals.ApprovePayment(ctx, payment.ID, nil, "")
	require.NoError(t, err)

	details, err := env.container.Approvals.GetPaymentDetails(ctx, payment.ID)
	require.NoError(t, err)
	require.NotNil(t, details.Pipeline)
	assert.Equal(t, models.PipelineStepNotified, details.Pipeline.Step)
	assert.Len(t, details.Certificates, 1)
}

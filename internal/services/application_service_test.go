package services

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/coop-registry/internal/models"
	"github.com/javajoker/coop-registry/internal/utils"
)

func validSubmission(name string) *SubmitApplicationRequest {
	return &SubmitApplicationRequest{
		CooperativeName:    name,
		RegistrationNumber: "CAC/BAU/0042",
		Email:              "Secretary@Example.COOP",
		Phone:              "+234 803 000 1111",
		Address:            "Plot 7, Yelwa, Bauchi",
	}
}

func TestSubmit_StoresInlineAndLinkedDocuments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := validSubmission("Yelwa Farmers Cooperative")
	req.Documents = []DocumentInput{
		{
			Filename:     "bylaws.pdf",
			DocumentType: "BYLAWS",
			Content:      "data:application/pdf;base64," + base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 bylaws")),
		},
		{
			Filename:     "members.xlsx",
			DocumentType: "MEMBER_LIST",
			FileURL:      "https://files.registry.test/documents/members.xlsx",
			FileKey:      "documents/members.xlsx",
		},
	}

	app, err := env.container.Applications.Submit(ctx, req, RequestMeta{IPAddress: "10.1.1.1", UserAgent: "test"})
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusNew, app.Status)
	assert.Equal(t, "secretary@example.coop", app.Email)
	require.Len(t, app.Documents, 2)

	assert.Equal(t, "application/pdf", app.Documents[0].MimeType)
	assert.Contains(t, app.Documents[0].FileURL, "https://files.registry.test/documents/")
	assert.Equal(t, "documents/members.xlsx", app.Documents[1].FileKey)
	assert.Equal(t, 1, env.store.count())

	confirmations := env.emailTasks(t, NotificationRegistrationConfirmation)
	require.Len(t, confirmations, 1)
	assert.Equal(t, "secretary@example.coop", confirmations[0].Payload.String("recipient"))

	logs, total, err := env.container.Activity.List(ctx, ActivityFilter{ApplicationID: &app.ID}, utils.DefaultPagination())
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, ActionSubmitApplication, logs[0].Action)
	assert.Equal(t, "10.1.1.1", logs[0].IPAddress)
}

func TestSubmit_BadDocumentLeavesNothingBehind(t *testing.T) {
	env := newTestEnv(t)

	req := validSubmission("Half Uploaded Cooperative")
	req.Documents = []DocumentInput{
		{Filename: "ok.pdf", DocumentType: "BYLAWS", Content: base64.StdEncoding.EncodeToString([]byte("fine"))},
		{Filename: "broken.pdf", DocumentType: "MINUTES", Content: "***not base64***"},
	}

	_, err := env.container.Applications.Submit(context.Background(), req, RequestMeta{})
	assert.ErrorIs(t, err, ErrBadRequest)

	var apps, docs int64
	require.NoError(t, env.db.Model(&models.Application{}).Count(&apps).Error)
	require.NoError(t, env.db.Model(&models.Document{}).Count(&docs).Error)
	assert.Zero(t, apps)
	assert.Zero(t, docs)
	assert.Zero(t, env.store.count(), "the first upload is cleaned up")
}

func TestSubmit_StorageOutage(t *testing.T) {
	env := newTestEnv(t)
	env.store.setFailing(true)

	req := validSubmission("Storage Outage Cooperative")
	req.Documents = []DocumentInput{
		{Filename: "ok.pdf", DocumentType: "BYLAWS", Content: base64.StdEncoding.EncodeToString([]byte("fine"))},
	}

	_, err := env.container.Applications.Submit(context.Background(), req, RequestMeta{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSubmit_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := map[string]func(r *SubmitApplicationRequest){
		"missing name":     func(r *SubmitApplicationRequest) { r.CooperativeName = "" },
		"bad email":        func(r *SubmitApplicationRequest) { r.Email = "secretary" },
		"bad phone":        func(r *SubmitApplicationRequest) { r.Phone = "call me" },
		"document no file": func(r *SubmitApplicationRequest) { r.Documents = []DocumentInput{{Filename: "a.pdf", DocumentType: "X"}} },
		"document no type": func(r *SubmitApplicationRequest) {
			r.Documents = []DocumentInput{{Filename: "a.pdf", FileURL: "https://files.registry.test/a.pdf"}}
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := validSubmission("Validation Cooperative")
			mutate(req)
			_, err := env.container.Applications.Submit(ctx, req, RequestMeta{})
			assert.ErrorIs(t, err, ErrBadRequest)
		})
	}
}

func TestUpdateStatus_FollowsTransitionTable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	app := env.submit(t, "Lifecycle Cooperative")

	reviewed, err := env.container.Applications.UpdateStatus(ctx, app.ID, models.ApplicationStatusUnderReview, "Checking bylaws", nil)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusUnderReview, reviewed.Status)
	require.NotNil(t, reviewed.ReviewedAt)
	require.NotNil(t, reviewed.Notes)
	assert.Equal(t, "Checking bylaws", *reviewed.Notes)

	_, err = env.container.Applications.UpdateStatus(ctx, app.ID, models.ApplicationStatusNew, "", nil)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = env.container.Applications.UpdateStatus(ctx, app.ID, "ARCHIVED", "", nil)
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = env.container.Applications.UpdateStatus(ctx, uuid.New(), models.ApplicationStatusFlagged, "", nil)
	assert.ErrorIs(t, err, ErrNotFound)

	logs, _, err := env.container.Activity.List(ctx, ActivityFilter{Action: ActionUpdateApplicationStatus}, utils.DefaultPagination())
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "UNDER_REVIEW", logs[0].Metadata.String("newStatus"))
}

func TestUpdateStatus_ApprovalWithPaymentIssuesCertificate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	app := env.submit(t, "Approved Via Review Cooperative")
	env.addPayment(t, app, models.PaymentStatusCompleted)
	env.setStatus(t, app, models.ApplicationStatusUnderReview)

	updated, err := env.container.Applications.UpdateStatus(ctx, app.ID, models.ApplicationStatusApproved, "All good", nil)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusApproved, updated.Status)
	require.Len(t, updated.Certificates, 1)
	assert.Len(t, env.emailTasks(t, NotificationApplicationApproved), 1)
}

func TestUpdateStatus_ApprovalWithoutPaymentIssuesNothing(t *testing.T) {
	env := newTestEnv(t)
	app := env.submit(t, "Unpaid Cooperative")
	env.setStatus(t, app, models.ApplicationStatusUnderReview)

	updated, err := env.container.Applications.UpdateStatus(context.Background(), app.ID, models.ApplicationStatusApproved, "", nil)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusApproved, updated.Status)
	assert.Empty(t, updated.Certificates)
}

func TestUpdateStatus_RejectionFailsPayment(t *testing.T) {
	env := newTestEnv(t)
	app := env.submit(t, "Rejected Via Review Cooperative")
	payment := env.addPayment(t, app, models.PaymentStatusCompleted)

	_, err := env.container.Applications.UpdateStatus(context.Background(), app.ID, models.ApplicationStatusRejected, "", nil)
	require.NoError(t, err)

	var stored models.Payment
	env.reload(t, &stored, payment.ID)
	assert.Equal(t, models.PaymentStatusFailed, stored.Status)

	tasks := env.emailTasks(t, NotificationApplicationRejected)
	require.Len(t, tasks, 1)
	data, _ := tasks[0].Payload["data"].(map[string]interface{})
	assert.Equal(t, defaultRejectionReason, data["Reason"])
}

func TestUpdateStatus_RejectingFlaggedApprovedApplicationRevokesCertificate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	app := env.submit(t, "Misau Fish Farmers Cooperative")
	payment := env.addPayment(t, app, models.PaymentStatusCompleted)

	approved, err := env.container.Approvals.ApprovePayment(ctx, payment.ID, nil, "")
	require.NoError(t, err)
	require.NotNil(t, approved.Certificate)
	regNo := approved.Certificate.RegistrationNo

	before, err := env.container.Certificates.Verify(ctx, regNo)
	require.NoError(t, err)
	assert.True(t, before.IsValid)

	_, err = env.container.Applications.UpdateStatus(ctx, app.ID, models.ApplicationStatusFlagged, "Forged bylaws reported", nil)
	require.NoError(t, err)
	_, err = env.container.Applications.UpdateStatus(ctx, app.ID, models.ApplicationStatusRejected, "Bylaws were forged", nil)
	require.NoError(t, err)

	after, err := env.container.Certificates.Verify(ctx, regNo)
	require.NoError(t, err)
	assert.True(t, after.Found)
	assert.False(t, after.IsValid)
	require.NotNil(t, after.RevocationReason)
	assert.Equal(t, "Bylaws were forged", *after.RevocationReason)

	var stored models.Payment
	env.reload(t, &stored, payment.ID)
	assert.Equal(t, models.PaymentStatusFailed, stored.Status)
}

func TestUpdateStatus_RejectionWithoutPaymentStillNotifies(t *testing.T) {
	env := newTestEnv(t)
	app := env.submit(t, "Never Paid Cooperative")

	_, err := env.container.Applications.UpdateStatus(context.Background(), app.ID, models.ApplicationStatusRejected, "Duplicate application", nil)
	require.NoError(t, err)

	tasks := env.emailTasks(t, NotificationApplicationRejected)
	require.Len(t, tasks, 1)
	data, _ := tasks[0].Payload["data"].(map[string]interface{})
	assert.Equal(t, "Duplicate application", data["Reason"])
}

func TestAddDocument(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	app := env.submit(t, "Late Paperwork Cooperative")
	admin := env.createUser(t, "reviewer@registry.test", models.UserRoleAdmin, "Str0ng!Passw0rd")

	doc, err := env.container.Applications.AddDocument(ctx, app.ID, &DocumentInput{
		Filename:     "minutes.pdf",
		DocumentType: "MINUTES",
		Content:      base64.StdEncoding.EncodeToString([]byte("minutes")),
	}, &admin.ID)
	require.NoError(t, err)
	assert.Equal(t, app.ID, doc.ApplicationID)
	assert.NotEmpty(t, doc.FileKey)

	loaded, err := env.container.Applications.GetByID(ctx, app.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Documents, 1)

	_, err = env.container.Applications.AddDocument(ctx, uuid.New(), &DocumentInput{
		Filename:     "minutes.pdf",
		DocumentType: "MINUTES",
		FileURL:      "https://files.registry.test/minutes.pdf",
	}, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.container.Applications.AddDocument(ctx, app.ID, &DocumentInput{Filename: "x.pdf"}, nil)
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestApplicationStatsAndList(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.submit(t, "Alpha Growers Cooperative")
	flagged := env.submit(t, "Beta Traders Cooperative")
	env.setStatus(t, flagged, models.ApplicationStatusFlagged)
	approved := env.submit(t, "Gamma Weavers Cooperative")
	env.setStatus(t, approved, models.ApplicationStatusApproved)

	stats, err := env.container.Applications.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.New)
	assert.Equal(t, int64(1), stats.Flagged)
	assert.Equal(t, int64(1), stats.Approved)

	params := utils.DefaultPagination()
	params.Status = "flagged"
	apps, total, err := env.container.Applications.List(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, apps, 1)
	assert.Equal(t, flagged.ID, apps[0].ID)

	params = utils.DefaultPagination()
	params.Search = "WEAVERS"
	apps, total, err = env.container.Applications.List(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, approved.ID, apps[0].ID)

	params = utils.DefaultPagination()
	params.Status = "pending"
	_, _, err = env.container.Applications.List(ctx, params)
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestNotifications_DeliveredThroughOutbox(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	app := env.submit(t, "Mailed Cooperative")

	processed, err := env.container.Outbox.ProcessPending(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, processed, 1)

	sent := env.mailer.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, app.Email, sent[0].To)
	assert.Equal(t, "Application received - Mailed Cooperative", sent[0].Subject)
	assert.Contains(t, sent[0].HTMLBody, app.ID.String())
	assert.Contains(t, sent[0].HTMLBody, "Test Cooperative Registry")
}

func TestNotifications_UnknownKindIsPermanent(t *testing.T) {
	env := newTestEnv(t)

	err := env.container.Notifications.Deliver(context.Background(), "newsletter", "someone@example.com", nil)
	assert.ErrorIs(t, err, ErrPermanent)
}

package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/coop-registry/internal/config"
	"github.com/javajoker/coop-registry/internal/models"
	"github.com/javajoker/coop-registry/internal/utils"
)

// fakePaystack answers the two Paystack endpoints the gateway calls.
type fakePaystack struct {
	mu          sync.Mutex
	initBodies  []map[string]interface{}
	authHeaders []string
	verifyState string
}

func (f *fakePaystack) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/transaction/initialize", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		f.mu.Lock()
		f.initBodies = append(f.initBodies, body)
		f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
		f.mu.Unlock()

		writeJSON(w, map[string]interface{}{
			"status":  true,
			"message": "Authorization URL created",
			"data": map[string]interface{}{
				"authorization_url": "https://checkout.paystack.test/abc",
				"access_code":       "abc",
				"reference":         body["reference"],
			},
		})
	})
	mux.HandleFunc("/transaction/verify/", func(w http.ResponseWriter, r *http.Request) {
		reference := strings.TrimPrefix(r.URL.Path, "/transaction/verify/")

		f.mu.Lock()
		state := f.verifyState
		f.mu.Unlock()

		writeJSON(w, map[string]interface{}{
			"status":  true,
			"message": "Verification successful",
			"data": map[string]interface{}{
				"reference": reference,
				"status":    state,
				"amount":    500000,
				"currency":  "NGN",
				"channel":   "card",
				"paid_at":   "2026-03-01T10:00:00.000Z",
			},
		})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newPaystackEnv(t *testing.T) (*testEnv, *fakePaystack) {
	t.Helper()

	fake := &fakePaystack{verifyState: "success"}
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	env := newTestEnv(t, func(cfg *config.Config, infra *Infrastructure) {
		cfg.Payment.PaystackBaseURL = server.URL
		infra.Gateway = NewPaystackGateway(cfg.Payment)
	})
	return env, fake
}

func signedWebhook(t *testing.T, event string, data map[string]interface{}) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{"event": event, "data": data})
	require.NoError(t, err)
	return body, utils.SignHMACSHA512(testPaystackSecret, body)
}

func TestInitializePayment_SendsMinorUnitsAndRecordsPending(t *testing.T) {
	env, fake := newPaystackEnv(t)
	ctx := context.Background()
	app := env.submit(t, "Alkaleri Farmers Cooperative")

	resp, err := env.container.Payments.Initialize(ctx, &InitializePaymentRequest{ApplicationID: app.ID})
	require.NoError(t, err)
	assert.Equal(t, "paystack", resp.Provider)
	assert.Equal(t, "https://checkout.paystack.test/abc", resp.AuthorizationURL)
	assert.True(t, strings.HasPrefix(resp.Reference, "COOP-"))
	assert.Equal(t, "pk_test_registry", resp.PublicKey)

	require.Len(t, fake.initBodies, 1)
	assert.EqualValues(t, 500000, fake.initBodies[0]["amount"])
	assert.Equal(t, app.Email, fake.initBodies[0]["email"])
	assert.Equal(t, "Bearer "+testPaystackSecret, fake.authHeaders[0])

	var payment models.Payment
	env.reload(t, &payment, resp.PaymentID)
	assert.Equal(t, models.PaymentStatusPending, payment.Status)
	assert.Equal(t, resp.Reference, payment.TransactionRef)
	assert.Equal(t, "5000", payment.Amount.String())
}

func TestInitializePayment_Guards(t *testing.T) {
	env, _ := newPaystackEnv(t)
	ctx := context.Background()

	_, err := env.container.Payments.Initialize(ctx, &InitializePaymentRequest{ApplicationID: uuid.New()})
	assert.ErrorIs(t, err, ErrNotFound)

	paid := env.submit(t, "Already Paid Cooperative")
	env.addPayment(t, paid, models.PaymentStatusCompleted)
	_, err = env.container.Payments.Initialize(ctx, &InitializePaymentRequest{ApplicationID: paid.ID})
	assert.ErrorIs(t, err, ErrConflict)

	rejected := env.submit(t, "Rejected Cooperative")
	env.setStatus(t, rejected, models.ApplicationStatusRejected)
	_, err = env.container.Payments.Initialize(ctx, &InitializePaymentRequest{ApplicationID: rejected.ID})
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = env.container.Payments.Initialize(ctx, &InitializePaymentRequest{ApplicationID: paid.ID, Email: "not-an-email"})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestInitializePayment_GatewayDown(t *testing.T) {
	env := newTestEnv(t)
	app := env.submit(t, "Offline Gateway Cooperative")

	_, err := env.container.Payments.Initialize(context.Background(), &InitializePaymentRequest{ApplicationID: app.ID})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestVerifyPayment_CompletesAndQueuesEmails(t *testing.T) {
	env, _ := newPaystackEnv(t)
	ctx := context.Background()
	app := env.submit(t, "Ganjuwa Cotton Cooperative")
	pending := env.addPayment(t, app, models.PaymentStatusPending)

	payment, err := env.container.Payments.Verify(ctx, pending.TransactionRef)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, payment.Status)
	assert.Equal(t, "card", payment.PaymentMethod)
	require.NotNil(t, payment.PaymentDate)
	assert.Equal(t, 2026, payment.PaymentDate.Year())

	success := env.emailTasks(t, NotificationPaymentSuccessful)
	require.Len(t, success, 1)
	assert.Equal(t, app.Email, success[0].Payload.String("recipient"))

	notices := env.emailTasks(t, NotificationAdminPaymentNotice)
	require.Len(t, notices, 1)
	assert.Equal(t, testAdminEmail, notices[0].Payload.String("recipient"))

	again, err := env.container.Payments.Verify(ctx, pending.TransactionRef)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, again.Status)
	assert.Len(t, env.emailTasks(t, NotificationPaymentSuccessful), 1)
}

func TestVerifyPayment_StillPendingAtGateway(t *testing.T) {
	env, fake := newPaystackEnv(t)
	fake.verifyState = "ongoing"
	app := env.submit(t, "Waiting Cooperative")
	pending := env.addPayment(t, app, models.PaymentStatusPending)

	payment, err := env.container.Payments.Verify(context.Background(), pending.TransactionRef)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, payment.Status)
}

func TestVerifyPayment_UnknownReference(t *testing.T) {
	env, _ := newPaystackEnv(t)

	_, err := env.container.Payments.Verify(context.Background(), "COOP-NOPE")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.container.Payments.Verify(context.Background(), " ")
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	body, _ := signedWebhook(t, "charge.success", map[string]interface{}{"reference": "COOP-1"})

	_, err := env.container.Payments.HandleWebhook(context.Background(), body, "deadbeef")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestWebhook_DuplicateDeliveryIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	app := env.submit(t, "Kirfi Fishermen Cooperative")
	pending := env.addPayment(t, app, models.PaymentStatusPending)

	body, sig := signedWebhook(t, "charge.success", map[string]interface{}{
		"reference": pending.TransactionRef,
		"status":    "success",
		"amount":    500000,
		"currency":  "NGN",
		"channel":   "bank_transfer",
	})

	first, err := env.container.Payments.HandleWebhook(ctx, body, sig)
	require.NoError(t, err)
	assert.Equal(t, "Payment recorded successfully", first.Message)

	second, err := env.container.Payments.HandleWebhook(ctx, body, strings.ToUpper(sig))
	require.NoError(t, err)
	assert.Equal(t, "Webhook already processed", second.Message)

	var payments []models.Payment
	require.NoError(t, env.db.Where("application_id = ?", app.ID).Find(&payments).Error)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentStatusCompleted, payments[0].Status)
	assert.Equal(t, "bank_transfer", payments[0].PaymentMethod)
	assert.Len(t, env.emailTasks(t, NotificationPaymentSuccessful), 1)
}

func TestWebhook_FailedChargeNotifiesApplicant(t *testing.T) {
	env := newTestEnv(t)
	app := env.submit(t, "Declined Card Cooperative")
	pending := env.addPayment(t, app, models.PaymentStatusPending)

	body, sig := signedWebhook(t, "charge.failed", map[string]interface{}{
		"reference": pending.TransactionRef,
		"status":    "failed",
	})
	_, err := env.container.Payments.HandleWebhook(context.Background(), body, sig)
	require.NoError(t, err)

	var stored models.Payment
	env.reload(t, &stored, pending.ID)
	assert.Equal(t, models.PaymentStatusFailed, stored.Status)
	assert.Len(t, env.emailTasks(t, NotificationPaymentFailed), 1)
}

func TestWebhook_UnknownReferenceWithApplicationCreatesPayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	app := env.submit(t, "Direct Transfer Cooperative")

	body, sig := signedWebhook(t, "charge.success", map[string]interface{}{
		"reference": "PSTK-DIRECT-1",
		"status":    "success",
		"amount":    500000,
		"currency":  "ngn",
		"metadata":  map[string]interface{}{"application_id": app.ID.String()},
	})

	result, err := env.container.Payments.HandleWebhook(ctx, body, sig)
	require.NoError(t, err)
	assert.Equal(t, "Payment recorded successfully", result.Message)

	var payment models.Payment
	require.NoError(t, env.db.Where("transaction_ref = ?", "PSTK-DIRECT-1").First(&payment).Error)
	assert.Equal(t, app.ID, payment.ApplicationID)
	assert.Equal(t, models.PaymentStatusCompleted, payment.Status)
	assert.Equal(t, "NGN", payment.Currency)
	assert.Equal(t, "5000", payment.Amount.String())

	again, err := env.container.Payments.HandleWebhook(ctx, body, sig)
	require.NoError(t, err)
	assert.Equal(t, "Webhook already processed", again.Message)
}

func TestWebhook_UnknownReferenceWithoutApplication(t *testing.T) {
	env := newTestEnv(t)

	body, sig := signedWebhook(t, "charge.success", map[string]interface{}{
		"reference": "PSTK-ORPHAN",
		"status":    "success",
		"metadata":  "",
	})
	result, err := env.container.Payments.HandleWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, "Unknown payment reference", result.Message)

	var count int64
	require.NoError(t, env.db.Model(&models.Payment{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestWebhook_OtherEventsIgnored(t *testing.T) {
	env := newTestEnv(t)

	body, sig := signedWebhook(t, "transfer.success", map[string]interface{}{"reference": "TRF-1"})
	result, err := env.container.Payments.HandleWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, "Event ignored", result.Message)
}

func TestWebhook_MalformedBody(t *testing.T) {
	env := newTestEnv(t)
	body := []byte("{not json")

	_, err := env.container.Payments.HandleWebhook(context.Background(), body, utils.SignHMACSHA512(testPaystackSecret, body))
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestPaymentStatsAndListing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	app := env.submit(t, "Stats Cooperative")
	env.addPayment(t, app, models.PaymentStatusCompleted)
	env.addPayment(t, app, models.PaymentStatusPending)
	env.addPayment(t, app, models.PaymentStatusFailed)

	stats, err := env.container.Payments.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, "5000", stats.CompletedAmount.String())

	params := utils.DefaultPagination()
	params.Status = "completed"
	payments, total, err := env.container.Payments.List(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentStatusCompleted, payments[0].Status)

	params.Status = "bogus"
	_, _, err = env.container.Payments.List(ctx, params)
	assert.ErrorIs(t, err, ErrBadRequest)

	months, err := env.container.Payments.GetMonthlyBreakdown(ctx)
	require.NoError(t, err)
	require.Len(t, months, 12)
	last := months[len(months)-1]
	assert.Equal(t, int64(1), last.Count)
	assert.Equal(t, "5000", last.Amount.String())
}

func TestPaymentPublicKey(t *testing.T) {
	env := newTestEnv(t)

	key := env.container.Payments.PublicKey()
	assert.Equal(t, "paystack", key.Provider)
	assert.Equal(t, "pk_test_registry", key.PublicKey)
	assert.Equal(t, "X-Paystack-Signature", env.container.Payments.SignatureHeader())
}

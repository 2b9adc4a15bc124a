package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/javajoker/coop-registry/internal/config"
	"github.com/javajoker/coop-registry/internal/database"
	"github.com/javajoker/coop-registry/internal/models"
	"github.com/javajoker/coop-registry/internal/utils"
)

const (
	testPaystackSecret = "sk_test_registry"
	testAdminEmail     = "payments@registry.test"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), database.GormConfig("silent"))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.RunMigrations(db))
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{PublicURL: "http://localhost:8080"},
		JWT: config.JWTConfig{
			SecretKey:       "test-secret",
			AccessTokenTTL:  1,
			RefreshTokenTTL: 24,
		},
		Payment: config.PaymentConfig{
			Provider:          "paystack",
			PaystackSecretKey: testPaystackSecret,
			PaystackPublicKey: "pk_test_registry",
			PaystackBaseURL:   "http://127.0.0.1:1",
			RegistrationFee:   decimal.NewFromInt(5000),
			Currency:          "NGN",
		},
		Email: config.EmailConfig{AdminEmail: testAdminEmail},
		Outbox: config.OutboxConfig{
			PollInterval: time.Second,
			BatchSize:    50,
			MaxAttempts:  3,
			BaseDelay:    time.Second,
		},
		Certificate: config.CertificateConfig{
			PublicBaseURL: "https://certificates.registry.test",
			VerifyURL:     "https://registry.test/verify",
			IssuerName:    "Test Cooperative Registry",
		},
		Frontend: config.FrontendConfig{BaseURL: "https://registry.test"},
	}
}

// memoryStore keeps uploads in a map. Set failUploads to simulate an outage.
type memoryStore struct {
	mu          sync.Mutex
	objects     map[string][]byte
	failUploads bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (s *memoryStore) Upload(ctx context.Context, data []byte, filename, folder, contentType string) (*UploadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failUploads {
		return nil, errors.New("bucket unreachable")
	}
	key := fmt.Sprintf("%s/%s-%s", folder, uuid.NewString()[:8], filename)
	s.objects[key] = data
	return &UploadResult{
		URL:      "https://files.registry.test/" + key,
		Key:      key,
		Size:     int64(len(data)),
		MimeType: contentType,
	}, nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *memoryStore) PrepareUpload(filename, category, contentType string, size int64) (*PresignedUpload, error) {
	key := category + "/" + filename
	return &PresignedUpload{
		UploadURL: "https://files.registry.test/upload/" + key,
		FileURL:   "https://files.registry.test/" + key,
		Key:       key,
		ExpiresAt: time.Now().UTC().Add(15 * time.Minute),
	}, nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func (s *memoryStore) setFailing(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failUploads = fail
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []EmailMessage
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, msg EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) messages() []EmailMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EmailMessage(nil), m.sent...)
}

type stubRenderer struct{}

func (stubRenderer) Render(data CertificateData) ([]byte, error) {
	return []byte("%PDF-1.4 " + data.RegistrationNo), nil
}

// flakySequence fails the next `failures` allocations.
type flakySequence struct {
	RegistrationSequence
	mu       sync.Mutex
	failures int
}

func (s *flakySequence) Next(ctx context.Context, year int) (int64, error) {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return 0, errors.New("sequence offline")
	}
	s.mu.Unlock()
	return s.RegistrationSequence.Next(ctx, year)
}

type testEnv struct {
	db        *gorm.DB
	cfg       *config.Config
	store     *memoryStore
	mailer    *recordingMailer
	infra     *Infrastructure
	container *Container
}

// newTestEnv wires the real services over sqlite. configure may swap config or infrastructure
// before the container is built.
func newTestEnv(t *testing.T, configure ...func(cfg *config.Config, infra *Infrastructure)) *testEnv {
	t.Helper()

	db := newTestDB(t)
	cfg := testConfig()
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	env := &testEnv{
		db:     db,
		cfg:    cfg,
		store:  newMemoryStore(),
		mailer: &recordingMailer{},
	}
	env.infra = &Infrastructure{
		Gateway:  NewPaystackGateway(cfg.Payment),
		Store:    env.store,
		Mailer:   env.mailer,
		Sequence: NewDBSequence(db),
		Renderer: stubRenderer{},
	}
	for _, fn := range configure {
		fn(cfg, env.infra)
	}

	env.container = NewContainer(db, cfg, env.infra)
	return env
}

func (e *testEnv) submit(t *testing.T, name string) *models.Application {
	t.Helper()

	app, err := e.container.Applications.Submit(context.Background(), &SubmitApplicationRequest{
		CooperativeName: name,
		Email:           "secretary@" + uuid.NewString()[:8] + ".coop.test",
		Phone:           "+234 801 234 5678",
		Address:         "12 Market Road, Bauchi",
	}, RequestMeta{IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	return app
}

func (e *testEnv) addPayment(t *testing.T, app *models.Application, status models.PaymentStatus) *models.Payment {
	t.Helper()

	payment := &models.Payment{
		ApplicationID:  app.ID,
		Amount:         decimal.NewFromInt(5000),
		Currency:       "NGN",
		Status:         status,
		PaymentMethod:  "paystack",
		TransactionRef: "COOP-TEST-" + uuid.NewString(),
	}
	if status == models.PaymentStatusCompleted {
		now := time.Now().UTC()
		payment.PaymentDate = &now
	}
	require.NoError(t, e.db.Create(payment).Error)
	return payment
}

func (e *testEnv) setStatus(t *testing.T, app *models.Application, status models.ApplicationStatus) {
	t.Helper()
	require.NoError(t, e.db.Model(&models.Application{}).Where("id = ?", app.ID).Update("status", status).Error)
	app.Status = status
}

func (e *testEnv) reload(t *testing.T, dest interface{}, id uuid.UUID) {
	t.Helper()
	require.NoError(t, e.db.First(dest, "id = ?", id).Error)
}

// emailTasks returns queued email tasks of the given notification kind.
func (e *testEnv) emailTasks(t *testing.T, kind NotificationKind) []models.OutboxTask {
	t.Helper()

	var tasks []models.OutboxTask
	require.NoError(t, e.db.Where("kind = ?", models.OutboxKindEmail).Order("created_at ASC").Find(&tasks).Error)

	var matched []models.OutboxTask
	for _, task := range tasks {
		if task.Payload.String("kind") == string(kind) {
			matched = append(matched, task)
		}
	}
	return matched
}

func (e *testEnv) createUser(t *testing.T, email string, role models.UserRole, password string) *models.User {
	t.Helper()

	user := &models.User{
		Email:     email,
		FirstName: "Test",
		LastName:  string(role),
		Role:      role,
		Status:    models.UserStatusActive,
	}
	require.NoError(t, user.SetPassword(password))
	require.NoError(t, e.db.Create(user).Error)
	return user
}

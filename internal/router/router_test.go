package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"github.com/javajoker/coop-registry/internal/config"
	"github.com/javajoker/coop-registry/internal/database"
	"github.com/javajoker/coop-registry/internal/i18n"
	"github.com/javajoker/coop-registry/internal/metrics"
	"github.com/javajoker/coop-registry/internal/models"
	"github.com/javajoker/coop-registry/internal/services"
	"github.com/javajoker/coop-registry/internal/utils"
)

const seedPassword = "S33d!Password"

type RouterTestSuite struct {
	suite.Suite
	db     *gorm.DB
	router *gin.Engine
	stop   func()
}

func (suite *RouterTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	suite.Require().NoError(i18n.Initialize())

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), database.GormConfig("silent"))
	suite.Require().NoError(err)
	sqlDB, err := db.DB()
	suite.Require().NoError(err)
	sqlDB.SetMaxOpenConns(1)

	suite.Require().NoError(database.RunMigrations(db))
	suite.Require().NoError(database.SeedInitialData(db, seedPassword))
	suite.db = db

	cfg := &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{PublicURL: "http://localhost:8080"},
		JWT:         config.JWTConfig{SecretKey: "router-test-secret", AccessTokenTTL: 1, RefreshTokenTTL: 24},
		Payment: config.PaymentConfig{
			Provider:          "paystack",
			PaystackSecretKey: "sk_test_router",
			PaystackBaseURL:   "http://127.0.0.1:1",
			RegistrationFee:   decimal.NewFromInt(5000),
			Currency:          "NGN",
		},
		Outbox:      config.OutboxConfig{PollInterval: time.Second, BatchSize: 10, MaxAttempts: 3, BaseDelay: time.Second},
		Certificate: config.CertificateConfig{PublicBaseURL: "https://certificates.registry.test", VerifyURL: "https://registry.test/verify"},
		I18n:        config.I18nConfig{DefaultLocale: "en"},
		Frontend:    config.FrontendConfig{BaseURL: "https://registry.test", AllowedOrigins: []string{"https://registry.test"}},
		RateLimit:   config.RateLimitConfig{Enabled: false},
	}
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	storage, err := services.NewStorageService(cfg)
	suite.Require().NoError(err)

	infra := &services.Infrastructure{
		Gateway:  services.NewPaystackGateway(cfg.Payment),
		Store:    storage,
		Mailer:   services.NewMailer(cfg.Email),
		Sequence: services.NewDBSequence(db),
		Renderer: &services.PDFCertificateRenderer{IssuerName: "Test Registry", VerifyURL: cfg.Certificate.VerifyURL},
		Metrics:  m,
	}
	container := services.NewContainer(db, cfg, infra)

	suite.router, suite.stop = Initialize(cfg, db, container, m, registry)
}

func (suite *RouterTestSuite) TearDownTest() {
	suite.stop()
	if sqlDB, err := suite.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func (suite *RouterTestSuite) do(method, path string, body interface{}, token string) (*httptest.ResponseRecorder, map[string]interface{}) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		suite.Require().NoError(err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	suite.router.ServeHTTP(w, req)

	var response map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &response)
	return w, response
}

func (suite *RouterTestSuite) login(email, password string) string {
	w, response := suite.do(http.MethodPost, "/v1/auth/login", map[string]interface{}{
		"email":    email,
		"password": password,
	}, "")
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	data := response["data"].(map[string]interface{})
	return data["token"].(string)
}

func (suite *RouterTestSuite) createStaff(email string) {
	user := &models.User{Email: email, FirstName: "Staff", LastName: "Member", Role: models.UserRoleStaff, Status: models.UserStatusActive}
	suite.Require().NoError(user.SetPassword(seedPassword))
	suite.Require().NoError(suite.db.Create(user).Error)
}

func (suite *RouterTestSuite) TestHealth() {
	w, response := suite.do(http.MethodGet, "/health", nil, "")

	assert.Equal(suite.T(), http.StatusOK, w.Code)
	assert.Equal(suite.T(), "healthy", response["status"])
}

func (suite *RouterTestSuite) TestAdminLoginAndProfile() {
	token := suite.login(database.DefaultAdminEmail, seedPassword)

	w, response := suite.do(http.MethodGet, "/v1/auth/me", nil, token)
	assert.Equal(suite.T(), http.StatusOK, w.Code)
	assert.True(suite.T(), response["success"].(bool))

	user := response["data"].(map[string]interface{})["user"].(map[string]interface{})
	assert.Equal(suite.T(), database.DefaultAdminEmail, user["email"])
	assert.Equal(suite.T(), string(models.UserRoleSystemAdmin), user["role"])
}

func (suite *RouterTestSuite) TestLoginWithWrongPassword() {
	w, response := suite.do(http.MethodPost, "/v1/auth/login", map[string]interface{}{
		"email":    database.DefaultAdminEmail,
		"password": "not-the-password",
	}, "")

	assert.Equal(suite.T(), http.StatusUnauthorized, w.Code)
	assert.False(suite.T(), response["success"].(bool))
}

func (suite *RouterTestSuite) TestAdminRoutesRequireToken() {
	w, response := suite.do(http.MethodGet, "/v1/admin/applications", nil, "")

	assert.Equal(suite.T(), http.StatusUnauthorized, w.Code)
	assert.False(suite.T(), response["success"].(bool))
}

func (suite *RouterTestSuite) TestStaffCannotReachPayments() {
	suite.createStaff("clerk@registry.test")
	token := suite.login("clerk@registry.test", seedPassword)

	w, _ := suite.do(http.MethodGet, "/v1/admin/payments", nil, token)
	assert.Equal(suite.T(), http.StatusForbidden, w.Code)

	w, _ = suite.do(http.MethodGet, "/v1/admin/applications", nil, token)
	assert.Equal(suite.T(), http.StatusOK, w.Code)
}

func (suite *RouterTestSuite) TestApplicationStatsOverviewAlias() {
	suite.createStaff("clerk@registry.test")
	token := suite.login("clerk@registry.test", seedPassword)

	w, stats := suite.do(http.MethodGet, "/v1/admin/applications/stats", nil, token)
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w, overview := suite.do(http.MethodGet, "/v1/admin/applications/stats/overview", nil, token)
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	assert.Equal(suite.T(), stats["data"], overview["data"])

	w, _ = suite.do(http.MethodGet, "/v1/admin/applications/stats/overview", nil, "")
	assert.Equal(suite.T(), http.StatusUnauthorized, w.Code)
}

func (suite *RouterTestSuite) TestPublicSubmission() {
	w, response := suite.do(http.MethodPost, "/v1/applications", map[string]interface{}{
		"cooperative_name": "Gombe Road Farmers Cooperative",
		"email":            "secretary@gomberoad.coop.test",
		"phone":            "+234 802 111 2222",
		"address":          "4 Gombe Road, Bauchi",
	}, "")

	assert.Equal(suite.T(), http.StatusCreated, w.Code, w.Body.String())
	application := response["data"].(map[string]interface{})["application"].(map[string]interface{})
	assert.Equal(suite.T(), string(models.ApplicationStatusNew), application["status"])

	w, response = suite.do(http.MethodPost, "/v1/applications", map[string]interface{}{
		"cooperative_name": "X",
		"email":            "not-an-email",
	}, "")
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)
	assert.False(suite.T(), response["success"].(bool))
}

func (suite *RouterTestSuite) TestWebhookRejectsBadSignature() {
	w, _ := suite.do(http.MethodPost, "/v1/payments/webhook", map[string]interface{}{
		"event": "charge.success",
		"data":  map[string]interface{}{"reference": "COOP-unknown"},
	}, "")

	assert.Equal(suite.T(), http.StatusUnauthorized, w.Code)
}

func (suite *RouterTestSuite) TestCertificateVerifyUnknown() {
	w, response := suite.do(http.MethodGet, "/v1/certificates/verify/REG-1999-000001", nil, "")

	assert.Equal(suite.T(), http.StatusOK, w.Code)
	data := response["data"].(map[string]interface{})
	assert.False(suite.T(), data["found"].(bool))
	assert.Equal(suite.T(), "REG-1999-000001", data["registration_no"])
}

func (suite *RouterTestSuite) TestSettingsUpdateBySystemAdmin() {
	token := suite.login(database.DefaultAdminEmail, seedPassword)

	w, _ := suite.do(http.MethodPut, "/v1/admin/settings/support_email", map[string]interface{}{
		"value": "help@registry.test",
	}, token)
	assert.Equal(suite.T(), http.StatusOK, w.Code, w.Body.String())

	w, response := suite.do(http.MethodGet, "/v1/admin/settings/support_email", nil, token)
	assert.Equal(suite.T(), http.StatusOK, w.Code)
	assert.Contains(suite.T(), fmt.Sprint(response["data"]), "help@registry.test")

	suite.createStaff("clerk@registry.test")
	staffToken := suite.login("clerk@registry.test", seedPassword)
	w, _ = suite.do(http.MethodPut, "/v1/admin/settings/support_email", map[string]interface{}{"value": "x"}, staffToken)
	assert.Equal(suite.T(), http.StatusForbidden, w.Code)
}

func (suite *RouterTestSuite) TestMetricsExposed() {
	suite.do(http.MethodGet, "/health", nil, "")

	w, _ := suite.do(http.MethodGet, "/metrics", nil, "")
	assert.Equal(suite.T(), http.StatusOK, w.Code)
	assert.Contains(suite.T(), w.Body.String(), "coop_registry_http_requests_total")
}

func TestRouterTestSuite(t *testing.T) {
	suite.Run(t, new(RouterTestSuite))
}

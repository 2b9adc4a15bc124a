// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Authentication
	KeyAuthRequired           = "auth.required"
	KeyAuthInvalidToken       = "auth.invalid_token"
	KeyAuthTokenExpired       = "auth.token_expired"
	KeyAuthInvalidCredentials = "auth.invalid_credentials"
	KeyAuthLoginSuccess       = "auth.login_success"
	KeyAuthLogoutSuccess      = "auth.logout_success"

	// Users
	KeyUserCreated         = "user.created"
	KeyUserUpdated         = "user.updated"
	KeyUserDeleted         = "user.deleted"
	KeyUserPasswordChanged = "user.password_changed"

	// Applications
	KeyApplicationSubmitted     = "application.submitted"
	KeyApplicationStatusUpdated = "application.status_updated"
	KeyApplicationDocumentAdded = "application.document_added"
	KeyApplicationResumed       = "application.approval_resumed"

	// Payments
	KeyPaymentInitialized = "payment.initialized"
	KeyPaymentApproved    = "payment.approved"
	KeyPaymentRejected    = "payment.rejected"

	// Certificates
	KeyCertificateIssued  = "certificate.issued"
	KeyCertificateRevoked = "certificate.revoked"

	// Admin
	KeyAdminAccessDenied    = "admin.access_denied"
	KeyAdminSettingsUpdated = "admin.settings_updated"

	// Validation
	KeyValidationInvalid = "validation.invalid"

	// Rate limiting
	KeyRateLimited = "rate_limit.exceeded"

	KeyInternalError = "server.internal_error"
)

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplicationStatus_Transitions(t *testing.T) {
	allowed := map[ApplicationStatus][]ApplicationStatus{
		ApplicationStatusNew:         {ApplicationStatusUnderReview, ApplicationStatusRejected, ApplicationStatusFlagged},
		ApplicationStatusUnderReview: {ApplicationStatusApproved, ApplicationStatusRejected, ApplicationStatusFlagged},
		ApplicationStatusApproved:    {ApplicationStatusFlagged},
		ApplicationStatusRejected:    {ApplicationStatusUnderReview},
		ApplicationStatusFlagged:     {ApplicationStatusUnderReview, ApplicationStatusRejected},
	}

	for _, from := range ApplicationStatuses {
		for _, to := range ApplicationStatuses {
			want := to.In(allowed[from]...)
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestApplicationStatus_Valid(t *testing.T) {
	for _, s := range ApplicationStatuses {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, ApplicationStatus("ARCHIVED").Valid())
	assert.False(t, ApplicationStatus("new").Valid())
}

func TestRegistrationNo_RoundTrip(t *testing.T) {
	regNo := FormatRegistrationNo(2025, 42)
	assert.Equal(t, "REG-2025-000042", regNo)
	assert.Equal(t, "REG-2025-", RegistrationYearPrefix(2025))

	year, seq, err := ParseRegistrationNo(regNo)
	require.NoError(t, err)
	assert.Equal(t, 2025, year)
	assert.Equal(t, int64(42), seq)

	assert.Equal(t, "REG-2025-1234567", FormatRegistrationNo(2025, 1234567), "sequences past six digits are not truncated")

	for _, bad := range []string{"", "REG-2025", "CERT-2025-000001", "REG-20x5-000001", "REG-2025-abc"} {
		_, _, err := ParseRegistrationNo(bad)
		assert.Error(t, err, bad)
	}
}

func TestJSONB_ScanAndValue(t *testing.T) {
	var j JSONB
	require.NoError(t, j.Scan([]byte(`{"reference":"ref_1","amount":500000}`)))
	assert.Equal(t, "ref_1", j.String("reference"))
	assert.Empty(t, j.String("amount"), "non-string values read as empty")
	assert.Empty(t, j.String("missing"))

	require.NoError(t, j.Scan(nil))
	assert.Nil(t, j)

	assert.Error(t, j.Scan(42))

	v, err := JSONB(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestUser_PasswordAndPrincipal(t *testing.T) {
	u := &User{Email: "staff@registry.test", FirstName: "Amina", LastName: " ", Role: UserRoleStaff}
	require.NoError(t, u.SetPassword("Str0ng!Passw0rd"))

	assert.NoError(t, u.CheckPassword("Str0ng!Passw0rd"))
	assert.Error(t, u.CheckPassword("wrong"))
	assert.Equal(t, "Amina", u.FullName())

	p := u.Principal()
	assert.True(t, p.HasRole(UserRoleAdmin, UserRoleStaff))
	assert.False(t, p.HasRole(UserRoleSystemAdmin))
	assert.False(t, UserRole("ROOT").Valid())
}

package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPaginationParams(t *testing.T) {
	gin.SetMode(gin.TestMode)

	parse := func(query string) PaginationParams {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest("GET", "/?"+query, nil)
		return GetPaginationParams(c)
	}

	p := parse("")
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 20, p.Limit)
	assert.Equal(t, "desc", p.Order)

	p = parse("page=3&limit=50&order=ASC&status=%20approved%20&search=farm")
	assert.Equal(t, 3, p.Page)
	assert.Equal(t, 50, p.Limit)
	assert.Equal(t, "asc", p.Order)
	assert.Equal(t, "approved", p.Status)
	assert.Equal(t, "farm", p.Search)

	p = parse("page=-2&limit=1000&order=sideways")
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 20, p.Limit)
	assert.Equal(t, "desc", p.Order)
}

func TestCreatePaginationResult(t *testing.T) {
	result := CreatePaginationResult([]int{1, 2}, 41, PaginationParams{Page: 2, Limit: 20})
	assert.Equal(t, 3, result.TotalPages)

	assert.Equal(t, 0, CreatePaginationResult(nil, 5, PaginationParams{}).TotalPages)
}

type signup struct {
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"omitempty,phone"`
	Password string `json:"password" validate:"required,strong_password"`
}

func TestValidateStruct(t *testing.T) {
	require.NoError(t, ValidateStruct(signup{Email: "a@b.com", Phone: "+234 (803) 000-1111", Password: "Str0ng!Pass"}))

	err := ValidateStruct(signup{Email: "nope", Phone: "call me", Password: "weakpassword"})
	require.Error(t, err)

	fields := map[string]string{}
	for _, v := range GetValidationErrors(err) {
		fields[v.Field] = v.Tag
	}
	assert.Equal(t, map[string]string{"email": "email", "phone": "phone", "password": "strong_password"}, fields)
}

func TestHMACSHA512(t *testing.T) {
	body := []byte(`{"event":"charge.success"}`)
	sig := SignHMACSHA512("secret", body)

	assert.True(t, VerifyHMACSHA512("secret", body, sig))
	assert.False(t, VerifyHMACSHA512("other", body, sig))
	assert.False(t, VerifyHMACSHA512("secret", body, ""))
}

func TestErrorResponse_CarriesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/", nil)
	c.Set(RequestIDKey, "req-42")

	ErrorResponse(c, http.StatusConflict, "CONFLICT", "already exists", nil)

	var body APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, body.Success)
	require.NotNil(t, body.Error)
	assert.Equal(t, "req-42", body.Error.RequestID)
	assert.Equal(t, "CONFLICT", body.Error.Code)
}

package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lineRequest struct {
	Name  string  `json:"name" validate:"required,notblank,max=200"`
	Price float64 `json:"price" validate:"gte=0"`
	Note  string  `json:"-" validate:"max=3"`
}

func TestValidate_Success(t *testing.T) {
	assert.NoError(t, Validate(lineRequest{Name: "Tomato Soup", Price: 120}))
}

func TestValidate_ReportsJSONFieldNames(t *testing.T) {
	err := Validate(lineRequest{Price: -1})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	fields := valErr.Fields()
	assert.Equal(t, "is required", fields["name"])
	assert.Equal(t, "must be greater than or equal to 0", fields["price"])
}

func TestValidate_NotBlank(t *testing.T) {
	err := Validate(lineRequest{Name: "   "})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "must not be blank", valErr.Fields()["name"])
	assert.Contains(t, err.Error(), "field 'name' must not be blank")
}

func TestValidate_DashTagFallsBackToGoName(t *testing.T) {
	err := Validate(lineRequest{Name: "x", Note: "toolong"})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Fields(), "Note")
}

func TestDecodeAndValidate(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"Corn Soup","price":100}`))
	var dst lineRequest
	require.NoError(t, DecodeAndValidate(req, &dst))
	assert.Equal(t, "Corn Soup", dst.Name)
	assert.Equal(t, 100.0, dst.Price)
}

func TestDecodeAndValidate_BadJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":`))
	var dst lineRequest
	err := DecodeAndValidate(req, &dst)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode request body")
}

package services

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid account request", func(t *testing.T) {
		req := CreateAccountRequest{UserID: 42, Login: "player01", Password: "secret1"}
		assert.NoError(t, vh.ValidateStruct(&req))
	})

	t.Run("every field invalid", func(t *testing.T) {
		req := CreateAccountRequest{
			Login:    "no spaces",
			Password: "123",
		}

		err := vh.ValidateStruct(&req)
		assert.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		assert.True(t, ok)
		assert.Len(t, validationErrors, 3) // UserID, Login, Password
	})

	t.Run("login too long", func(t *testing.T) {
		req := CreateAccountRequest{UserID: 42, Login: "abcdefghijklmnopq", Password: "secret1"}

		err := vh.ValidateStruct(&req)
		validationErrors, ok := err.(validator.ValidationErrors)
		assert.True(t, ok)
		assert.Len(t, validationErrors, 1)
		assert.Equal(t, "Login", validationErrors[0].Field())
		assert.Equal(t, "max", validationErrors[0].Tag())
	})

	t.Run("password bounds", func(t *testing.T) {
		req := CreateAccountRequest{UserID: 42, Login: "player01", Password: "123456789012345678901234567890123"}

		err := vh.ValidateStruct(&req)
		assert.True(t, IsValidationError(err))
	})
}

func TestIsValidationError(t *testing.T) {
	assert.False(t, IsValidationError(nil))
	assert.False(t, IsValidationError(errors.New("boom")))
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("plain error", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Something went wrong", http.StatusInternalServerError, nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "Something went wrong", response.Error)
		assert.Nil(t, response.Details)
	})

	t.Run("validation details", func(t *testing.T) {
		validationErr := NewValidationHelper().ValidateStruct(&CreateAccountRequest{Login: "x"})
		assert.Error(t, validationErr)

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, validationErr)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "Validation failed", response.Error)
		assert.Contains(t, response.Details, "UserID")
		assert.Contains(t, response.Details, "Login")
		assert.Contains(t, response.Details, "Password")
	})

	t.Run("non-validation error adds no details", func(t *testing.T) {
		w := httptest.NewRecorder()
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, errors.New("bad json"))

		var response ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Nil(t, response.Details)
	})

	t.Run("reconciliation flag", func(t *testing.T) {
		w := httptest.NewRecorder()
		SendError(w, http.StatusAccepted, ErrorResponse{Error: "outcome unknown", Code: "indeterminate", Reconciliation: true}, nil)

		assert.Equal(t, http.StatusAccepted, w.Code)
		var response ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.True(t, response.Reconciliation)
		assert.Equal(t, "indeterminate", response.Code)
	})
}

package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error          string            `json:"error"`                    // Error message
	Code           string            `json:"code,omitempty"`           // Error kind
	Reconciliation bool              `json:"reconciliation,omitempty"` // Outcome needs manual review
	EntryID        string            `json:"entryId,omitempty"`        // Ledger entry to reconcile
	Details        map[string]string `json:"details,omitempty"`        // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// IsValidationError reports whether err came from ValidateStruct.
func IsValidationError(err error) bool {
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	SendError(w, statusCode, ErrorResponse{Error: message}, validationErr)
}

// SendError sends resp, adding field details when validationErr carries them.
func SendError(w http.ResponseWriter, statusCode int, resp ErrorResponse, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	var verrs validator.ValidationErrors
	if errors.As(validationErr, &verrs) {
		resp.Details = make(map[string]string)
		for _, err := range verrs {
			resp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(resp)
}

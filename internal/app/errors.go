package app

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-playground/validator/v10"

	"breeditor/api/internal/auth"
	"breeditor/api/internal/rules"
	"breeditor/api/internal/snapshot"
	"breeditor/api/internal/store"
	"breeditor/api/internal/upload"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func payloadError(message string) *DomainError {
	return domainError(http.StatusBadRequest, "PAYLOAD_ERROR", message, nil)
}

// validationDetails turns validator failures into a field -> tag map.
func validationDetails(err error) *DomainError {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return payloadError("invalid request")
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = fe.Tag()
	}
	first := fieldErrs[0]
	return domainError(http.StatusBadRequest, "PAYLOAD_ERROR",
		fmt.Sprintf("validation error: %s - %s", first.Field(), first.Tag()), details)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var rejected *rules.RejectedError
	if errors.As(err, &rejected) {
		return http.StatusUnprocessableEntity, "VALIDATION_REJECTED", rejected.Error(), map[string]any{
			"parameter": rejected.Parameter,
			"operator":  rejected.Operator,
			"target":    rejected.Target,
			"value":     rejected.Value,
		}
	}

	var storageErr *store.StorageError
	if errors.As(err, &storageErr) {
		log.Printf("storage error: %v", storageErr)
		return http.StatusInternalServerError, "STORAGE_ERROR", "Rule storage is unavailable", nil
	}

	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, snapshot.ErrNotFound),
		errors.Is(err, upload.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrDuplicateID):
		return http.StatusConflict, "DUPLICATE_RULE", err.Error(), nil
	case errors.Is(err, store.ErrMissingID),
		errors.Is(err, rules.ErrNoRuleList),
		errors.Is(err, rules.ErrNotObject):
		return http.StatusBadRequest, "PAYLOAD_ERROR", err.Error(), nil
	case errors.Is(err, snapshot.ErrInvalidProof),
		errors.Is(err, upload.ErrInvalidName):
		return http.StatusBadRequest, "INVALID_PROOF", err.Error(), nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, auth.ErrOAuthDisabled):
		return http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Google login is not configured", nil
	}
	log.Printf("unmapped error: %v", err)
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

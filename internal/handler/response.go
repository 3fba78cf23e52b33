package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"go-session-service/internal/model"
	"go-session-service/pkg/apierror"
)

func writeSuccess(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: true,
		Data:    data,
	})
}

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// errorMappings is checked in order; the first match wins.
var errorMappings = []errorMapping{
	{model.ErrValidationFailed, http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"},
	{model.ErrDuplicateEmail, http.StatusConflict, "DUPLICATE_EMAIL", "Email already registered"},
	{model.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password"},
	{model.ErrAuthRequired, http.StatusUnauthorized, "AUTH_REQUIRED", "Authentication required"},
	{model.ErrTokenExpired, http.StatusUnauthorized, "TOKEN_EXPIRED", "Token expired"},
	{model.ErrRefreshExpired, http.StatusUnauthorized, "REFRESH_TOKEN_EXPIRED", "Refresh token expired"},
	{model.ErrRefreshNotFound, http.StatusUnauthorized, "REFRESH_TOKEN_NOT_FOUND", "Refresh token not found"},
	{model.ErrInvalidToken, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token"},
	{model.ErrTokenConflict, http.StatusConflict, "TOKEN_CONFLICT", "Refresh token already issued, retry the request"},
	{model.ErrForbidden, http.StatusForbidden, "FORBIDDEN", "Forbidden"},
	{model.ErrUserNotFound, http.StatusNotFound, "NOT_FOUND", "User not found"},
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := &model.APIError{
		Code:    "INTERNAL_ERROR",
		Message: "Unexpected server error",
	}

	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		status = apiErr.HTTPStatus
		body.Code = apiErr.Code
		body.Message = apiErr.Message
		body.Details = apiErr.Details
		body.Fields = apiErr.Fields
	} else if mapping, ok := lookupError(err); ok {
		status = mapping.status
		body.Code = mapping.code
		body.Message = mapping.message
	} else {
		slog.Error("unhandled error in writeError", "error", err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Error:   body,
	})
}

func lookupError(err error) (errorMapping, bool) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m, true
		}
	}
	return errorMapping{}, false
}

package model

import "go-session-service/pkg/apierror"

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

type APIError struct {
	Code    string                `json:"code"`
	Message string                `json:"message"`
	Details string                `json:"details,omitempty"`
	Fields  []apierror.FieldError `json:"fields,omitempty"`
}

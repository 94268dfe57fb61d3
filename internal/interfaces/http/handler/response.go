package handler

import "github.com/faithflows/backend/internal/interfaces/http/dto"

// APIResponse is the envelope of every operator and collaborator endpoint,
// named in swagger annotations with its payload type
type APIResponse[T any] struct {
	Success bool           `json:"success"`
	Data    T              `json:"data,omitempty"`
	Error   *dto.ErrorInfo `json:"error,omitempty"`
	Meta    *dto.Meta      `json:"meta,omitempty"`
}

// ErrorResponse is the envelope of a failed call. Pipeline denies use
// their own bodies and are not documented with it.
type ErrorResponse struct {
	Success bool           `json:"success" example:"false"`
	Error   *dto.ErrorInfo `json:"error,omitempty"`
}

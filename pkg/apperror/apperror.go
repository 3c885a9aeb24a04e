package apperror

import (
	"fmt"
	"net/http"
	"time"
)

// GenericError is implemented by every error in this package so the REST
// recovery middleware can map panics to proper HTTP responses.
type GenericError interface {
	Error() string
	ErrCode() string
	StatusCode() int
}

type ValidationError string

func (err ValidationError) Error() string   { return string(err) }
func (err ValidationError) ErrCode() string { return "VALIDATION_ERROR" }
func (err ValidationError) StatusCode() int { return http.StatusBadRequest }

type NotFoundError string

func (err NotFoundError) Error() string   { return string(err) }
func (err NotFoundError) ErrCode() string { return "NOT_FOUND" }
func (err NotFoundError) StatusCode() int { return http.StatusNotFound }

type InternalServerError string

func (err InternalServerError) Error() string   { return string(err) }
func (err InternalServerError) ErrCode() string { return "INTERNAL_SERVER_ERROR" }
func (err InternalServerError) StatusCode() int { return http.StatusInternalServerError }

// RateLimitedError rejects a connect attempt that falls inside the
// per-account cooldown window. RetryAfter is the remaining wait.
type RateLimitedError struct {
	AccountID  string
	RetryAfter time.Duration
}

func (err RateLimitedError) Error() string {
	return fmt.Sprintf("connect for account %s rate limited, retry in %s", err.AccountID, err.RetryAfter.Round(time.Second))
}
func (err RateLimitedError) ErrCode() string { return "RATE_LIMITED" }
func (err RateLimitedError) StatusCode() int { return http.StatusTooManyRequests }

// NotConnectedError means a send was attempted while no live session handle
// is registered for the account.
type NotConnectedError string

func (err NotConnectedError) Error() string {
	return fmt.Sprintf("account %s is not connected", string(err))
}
func (err NotConnectedError) ErrCode() string { return "NOT_CONNECTED" }
func (err NotConnectedError) StatusCode() int { return http.StatusConflict }

// PermanentAuthFailureError marks credentials as invalid/banned/forbidden.
// Sessions closing with this class are never auto-retried.
type PermanentAuthFailureError string

func (err PermanentAuthFailureError) Error() string   { return string(err) }
func (err PermanentAuthFailureError) ErrCode() string { return "PERMANENT_AUTH_FAILURE" }
func (err PermanentAuthFailureError) StatusCode() int { return http.StatusForbidden }

// MaxRetriesExceededError is surfaced when the reconnect backoff ceiling is
// reached; the account stays in status error until manual intervention.
type MaxRetriesExceededError string

func (err MaxRetriesExceededError) Error() string {
	return fmt.Sprintf("account %s exceeded the reconnect attempt ceiling", string(err))
}
func (err MaxRetriesExceededError) ErrCode() string { return "MAX_RETRIES_EXCEEDED" }
func (err MaxRetriesExceededError) StatusCode() int { return http.StatusConflict }

// NotRunningError rejects a dispatch request for a campaign that is not in
// the running state.
type NotRunningError string

func (err NotRunningError) Error() string {
	return fmt.Sprintf("campaign %s is not running", string(err))
}
func (err NotRunningError) ErrCode() string { return "CAMPAIGN_NOT_RUNNING" }
func (err NotRunningError) StatusCode() int { return http.StatusConflict }

package planner

import (
	"fmt"
	"net/http"
)

// Taxonomy codes surfaced in the typed error envelope.
const (
	CodeAliasUnknown        = "ALIAS_UNKNOWN"
	CodeUnsupportedSchema   = "UNSUPPORTED_SCHEMA"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodePolicyDeny          = "POLICY_DENY"
	CodeBudgetExceeded      = "BUDGET_EXCEEDED"
	CodeInvalidApproval     = "INVALID_APPROVAL"
	CodeCatalogUnavailable  = "CATALOG_UNAVAILABLE"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodePlanningFailed      = "PLANNING_FAILED"
	CodeInternal            = "INTERNAL_ERROR"
)

// Error is a taxonomy error the HTTP layer renders into the typed
// envelope. Retries are safe on 5xx; 4xx requires client correction.
type Error struct {
	Code        string
	Status      int
	Message     string
	RetryHintMs int64
	Supported   []string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func errAliasUnknown(alias string) *Error {
	return &Error{Code: CodeAliasUnknown, Status: http.StatusNotFound,
		Message: fmt.Sprintf("alias %q not found in policy", alias)}
}

func errUnsupportedSchema(got string) *Error {
	return &Error{Code: CodeUnsupportedSchema, Status: http.StatusConflict,
		Message:   fmt.Sprintf("schema_version %q not supported", got),
		Supported: []string{SchemaVersion}}
}

func errInvalidRequest(msg string) *Error {
	return &Error{Code: CodeInvalidRequest, Status: http.StatusBadRequest, Message: msg}
}

func errPolicyDeny(msg string) *Error {
	return &Error{Code: CodePolicyDeny, Status: http.StatusConflict, Message: msg}
}

func errBudgetExceeded(msg string) *Error {
	return &Error{Code: CodeBudgetExceeded, Status: http.StatusPaymentRequired, Message: msg}
}

func errInvalidApproval(msg string) *Error {
	return &Error{Code: CodeInvalidApproval, Status: http.StatusForbidden, Message: msg}
}

func errCatalogUnavailable() *Error {
	return &Error{Code: CodeCatalogUnavailable, Status: http.StatusServiceUnavailable,
		Message: "policy or catalog not loaded", RetryHintMs: 1000}
}

func errUpstreamUnavailable(msg string) *Error {
	return &Error{Code: CodeUpstreamUnavailable, Status: http.StatusBadGateway,
		Message: msg, RetryHintMs: 5000}
}

func errInternal(err error) *Error {
	return &Error{Code: CodeInternal, Status: http.StatusInternalServerError,
		Message: err.Error(), RetryHintMs: 1000}
}

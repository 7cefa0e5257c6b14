package ldap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ErrorCategory represents different categories of LDAP errors.
type ErrorCategory string

const (
	ErrorCategoryConnection     ErrorCategory = "connection"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryPermission     ErrorCategory = "permission"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryConflict       ErrorCategory = "conflict"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryServer         ErrorCategory = "server"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// LDAPError provides enhanced error information for LDAP operations.
type LDAPError struct {
	Operation string        // The operation that failed
	Category  ErrorCategory // Error category
	LDAPCode  uint16        // LDAP result code
	Message   string        // Human-readable message
	ServerMsg string        // Server-provided message
	DN        string        // DN involved in the operation (if applicable)
	Retryable bool          // Whether the error is retryable
	Cause     error         // Underlying error
}

func (e *LDAPError) Error() string {
	var parts []string

	if e.LDAPCode > 0 {
		parts = append(parts, fmt.Sprintf("LDAP %s failed (code %d)", e.Operation, e.LDAPCode))
	} else {
		parts = append(parts, fmt.Sprintf("LDAP %s failed", e.Operation))
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	if e.ServerMsg != "" && e.ServerMsg != e.Message {
		parts = append(parts, "server: "+e.ServerMsg)
	}

	if e.DN != "" {
		parts = append(parts, "DN: "+e.DN)
	}

	return strings.Join(parts, " - ")
}

func (e *LDAPError) IsRetryable() bool {
	return e.Retryable
}

func (e *LDAPError) Unwrap() error {
	return e.Cause
}

// NewLDAPError classifies err as the failure of operation. It returns nil for
// a nil err.
func NewLDAPError(operation string, err error) *LDAPError {
	if err == nil {
		return nil
	}

	ldapErr := &LDAPError{
		Operation: operation,
		Cause:     err,
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		ldapErr.LDAPCode = resultErr.ResultCode
		if resultErr.Err != nil {
			ldapErr.ServerMsg = resultErr.Err.Error()
		}
		if resultErr.MatchedDN != "" {
			ldapErr.DN = resultErr.MatchedDN
		}
		ldapErr.Category = categorizeCode(resultErr.ResultCode)
		ldapErr.Retryable = isCodeRetryable(resultErr.ResultCode)
		ldapErr.Message = codeMessage(resultErr.ResultCode)
		return ldapErr
	}

	ldapErr.Category = categorizeGenericError(err)
	ldapErr.Retryable = isGenericErrorRetryable(err)
	ldapErr.Message = err.Error()
	return ldapErr
}

func categorizeCode(code uint16) ErrorCategory {
	switch code {
	case ldap.LDAPResultInvalidCredentials,
		ldap.LDAPResultInappropriateAuthentication,
		ldap.LDAPResultStrongAuthRequired,
		ldap.LDAPResultAuthMethodNotSupported:
		return ErrorCategoryAuthentication

	case ldap.LDAPResultInsufficientAccessRights,
		ldap.LDAPResultUnwillingToPerform:
		return ErrorCategoryPermission

	case ldap.LDAPResultNoSuchObject,
		ldap.LDAPResultNoSuchAttribute,
		ldap.LDAPResultUndefinedAttributeType:
		return ErrorCategoryNotFound

	case ldap.LDAPResultEntryAlreadyExists,
		ldap.LDAPResultAttributeOrValueExists:
		return ErrorCategoryConflict

	case ldap.LDAPResultInvalidAttributeSyntax,
		ldap.LDAPResultConstraintViolation,
		ldap.LDAPResultInvalidDNSyntax,
		ldap.LDAPResultFilterError:
		return ErrorCategoryValidation

	case ldap.LDAPResultServerDown,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultBusy,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.LDAPResultAdminLimitExceeded:
		return ErrorCategoryServer

	case ldap.ErrorNetwork,
		ldap.LDAPResultTimeout,
		ldap.LDAPResultProtocolError:
		return ErrorCategoryConnection

	default:
		return ErrorCategoryUnknown
	}
}

func categorizeGenericError(err error) ErrorCategory {
	errStr := strings.ToLower(err.Error())

	switch {
	case containsAny(errStr, "connection", "network", "timeout", "broken pipe", "eof"):
		return ErrorCategoryConnection
	case containsAny(errStr, "authentication", "credentials", "password", "kerberos", "gssapi"):
		return ErrorCategoryAuthentication
	case containsAny(errStr, "permission", "access denied"):
		return ErrorCategoryPermission
	default:
		return ErrorCategoryUnknown
	}
}

func isCodeRetryable(code uint16) bool {
	switch code {
	case ldap.LDAPResultBusy,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultServerDown,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.ErrorNetwork,
		ldap.LDAPResultTimeout:
		return true
	default:
		return false
	}
}

func isGenericErrorRetryable(err error) bool {
	return containsAny(strings.ToLower(err.Error()),
		"connection",
		"timeout",
		"network",
		"broken pipe",
		"temporary failure",
		"server temporarily unavailable",
	)
}

func codeMessage(code uint16) string {
	if msg, ok := ldap.LDAPResultCodeMap[code]; ok {
		return msg
	}
	return fmt.Sprintf("Unknown LDAP error (code %d)", code)
}

func containsAny(s string, patterns ...string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// WrapError wraps an error with operation context.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}

	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		if ldapErr.Operation == "" {
			ldapErr.Operation = operation
		}
		return err
	}

	return NewLDAPError(operation, err)
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		return isCodeRetryable(resultErr.ResultCode)
	}

	return isGenericErrorRetryable(err)
}

// GetErrorCategory returns the category of an error.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}

	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		return ldapErr.Category
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		return categorizeCode(resultErr.ResultCode)
	}

	return categorizeGenericError(err)
}

// IsNotFoundError checks if an error indicates a "not found" condition.
func IsNotFoundError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryNotFound
}

// IsAuthenticationError checks if an error indicates an authentication problem.
func IsAuthenticationError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryAuthentication
}

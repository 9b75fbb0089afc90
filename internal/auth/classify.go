package auth

import "strings"

// ErrorCode classifies credential-source failures. The code decides whether
// acquisition is retried and which remediation message reaches the caller.
type ErrorCode string

const (
	CodeNotLoggedIn             ErrorCode = "AUTH_NOT_LOGGED_IN"
	CodeTokenExpired            ErrorCode = "AUTH_TOKEN_EXPIRED"
	CodeCLINotAvailable         ErrorCode = "AUTH_CLI_NOT_AVAILABLE"
	CodeInsufficientPermissions ErrorCode = "AUTH_INSUFFICIENT_PERMISSIONS"
	CodeNetworkTimeout          ErrorCode = "NETWORK_TIMEOUT"
	CodeRateLimited             ErrorCode = "RATE_LIMITED"
	CodeServiceUnavailable      ErrorCode = "SERVICE_UNAVAILABLE"
	CodeUnknown                 ErrorCode = "AUTH_UNKNOWN"
)

// Classification is the result of mapping a raw credential error onto an
// error code with an actionable remediation message.
type Classification struct {
	Code        ErrorCode
	Retryable   bool
	Remediation string
}

// classRule matches case-insensitive substrings of the raw error text.
type classRule struct {
	code        ErrorCode
	substrings  []string
	retryable   bool
	remediation string
}

// Rules are checked in order; the first match wins. Non-retryable auth
// conditions come first so that, e.g., an expired-token message containing
// "timeout" elsewhere still classifies as expired.
var classRules = []classRule{
	{
		code:        CodeNotLoggedIn,
		substrings:  []string{"please run az login", "setup account"},
		remediation: "Run 'az login' to authenticate with Azure, then retry.",
	},
	{
		code:        CodeTokenExpired,
		substrings:  []string{"token has expired", "token expired"},
		remediation: "Your Azure credentials have expired. Run 'az login' to refresh them.",
	},
	{
		code:        CodeCLINotAvailable,
		substrings:  []string{"command not found", "az: not found"},
		remediation: "The Azure CLI is not installed or not on PATH. Install it from https://aka.ms/azure-cli and run 'az login'.",
	},
	{
		code:        CodeInsufficientPermissions,
		substrings:  []string{"insufficient permissions", "permission denied"},
		remediation: "Your account lacks permission for this organization. Ask an administrator to grant access.",
	},
	{
		code:        CodeNetworkTimeout,
		substrings:  []string{"timeout", "econnrefused", "econnreset", "enotfound", "socket hang up"},
		retryable:   true,
		remediation: "A network error occurred reaching Azure. Check connectivity and retry.",
	},
	{
		code:        CodeRateLimited,
		substrings:  []string{"rate limit", "429", "too many requests"},
		retryable:   true,
		remediation: "Azure is rate limiting requests. Wait a moment and retry.",
	},
	{
		code:        CodeServiceUnavailable,
		substrings:  []string{"503", "502", "504", "service unavailable", "bad gateway"},
		retryable:   true,
		remediation: "The Azure service is temporarily unavailable. Retry shortly.",
	},
}

// Classify maps a credential-source error onto its classification.
// Unmatched errors are treated as non-retryable.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Code: CodeUnknown}
	}
	msg := strings.ToLower(err.Error())
	for _, rule := range classRules {
		for _, sub := range rule.substrings {
			if strings.Contains(msg, sub) {
				return Classification{
					Code:        rule.code,
					Retryable:   rule.retryable,
					Remediation: rule.remediation,
				}
			}
		}
	}
	return Classification{
		Code:        CodeUnknown,
		Remediation: "Token acquisition failed. Check 'az account show' and retry.",
	}
}

// ClassifiedError carries the classification alongside the raw error so
// callers can surface the remediation message.
type ClassifiedError struct {
	Class Classification
	Err   error
}

func (e *ClassifiedError) Error() string {
	return string(e.Class.Code) + ": " + e.Err.Error() + " (" + e.Class.Remediation + ")"
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

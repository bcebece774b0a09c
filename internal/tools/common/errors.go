package common

import (
	"errors"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"google.golang.org/api/googleapi"

	"github.com/teemow/calendarmcp/internal/auth"
)

// ClassifyAPIError maps a failed Google API call onto the auth error taxonomy.
// Errors that are not Google API errors are returned unchanged.
func ClassifyAPIError(err error) error {
	if err == nil {
		return nil
	}
	if auth.KindOf(err) != "" {
		return err
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}

	switch {
	case apiErr.Code == http.StatusUnauthorized:
		return auth.ErrAuthentication("Google rejected the credential", err)
	case apiErr.Code == http.StatusForbidden:
		return auth.ErrAuthorization("permission denied by Google", err)
	case apiErr.Code == http.StatusNotFound:
		return &auth.Error{Kind: auth.KindNotFound, Message: "resource not found", Err: err}
	case apiErr.Code == http.StatusBadRequest:
		return &auth.Error{Kind: auth.KindValidation, Message: apiErr.Message, Err: err}
	case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
		return auth.ErrServiceUnavailable("Google is temporarily unavailable", err)
	}
	return err
}

// ErrorResult renders err as a tool error. Typed errors show their message
// prefixed by kind so callers can tell retryable failures apart; the kind and
// message are also set as structured content.
func ErrorResult(err error) *mcp.CallToolResult {
	var e *auth.Error
	if errors.As(err, &e) {
		msg := e.Message
		if e.Field != "" {
			msg = e.Field + ": " + msg
		}
		if e.Kind == auth.KindServiceUnavailable {
			msg += ", please retry"
		}
		result := mcp.NewToolResultError(string(e.Kind) + ": " + msg)
		result.StructuredContent = map[string]any{
			"error":   string(e.Kind),
			"message": msg,
		}
		return result
	}
	return mcp.NewToolResultError(err.Error())
}

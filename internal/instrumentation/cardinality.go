package instrumentation

import "strings"

// ExtractUserDomain reduces an email address to its domain so it can be
// used as a label. Anything that is not a well-formed address maps to "unknown".
func ExtractUserDomain(email string) string {
	_, domain, ok := strings.Cut(email, "@")
	if !ok || domain == "" || strings.Contains(domain, "@") {
		return "unknown"
	}
	return domain
}

// Operation labels for Google API metrics.
const (
	OperationList   = "list"
	OperationGet    = "get"
	OperationCreate = "create"
	OperationUpdate = "update"
	OperationDelete = "delete"
	OperationSend   = "send"
	OperationSearch = "search"
	OperationRevoke = "revoke"
	OperationStatus = "status"
)

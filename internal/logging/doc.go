// Package logging provides structured logging utilities for calendarmcp.
//
// This package centralizes logging patterns to ensure consistent, structured logging
// throughout the codebase using the standard library's slog package.
//
// # Key Features
//
//   - Handler construction from the --log-format and --debug flags
//   - PII sanitization (email anonymization, session id hashing)
//   - Consistent attribute naming across the codebase
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithOperation(slog.Default(), "auth.refresh")
//	logger.Info("credential refreshed",
//	    logging.Session(sessionID),
//	    logging.Status("success"))
//
// # Security Considerations
//
//   - User emails and session ids are hashed to prevent leakage while allowing correlation
//   - Tokens are never logged directly
package logging

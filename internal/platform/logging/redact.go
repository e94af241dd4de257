package logging

import (
	"log/slog"
	"regexp"

	"github.com/m-mizutani/masq"
)

// Value patterns that are redacted whatever field they appear in.
var (
	// JWT: three base64 segments separated by dots
	jwtPattern = regexp.MustCompile(`^eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*$`)

	bearerPattern    = regexp.MustCompile(`(?i)^bearer\s+.+$`)
	basicAuthPattern = regexp.MustCompile(`(?i)^basic\s+.+$`)
)

// sensitiveFields are attribute keys whose values are always redacted.
// Header names appear here as they are logged by request diagnostics.
var sensitiveFields = []string{
	"password", "secret", "token", "credential", "credentials",
	"apiKey", "apikey", "api_key", "X-Api-Key",
	"accessToken", "access_token", "refreshToken", "refresh_token",
	"authorization", "Authorization", "auth", "bearer",
	"cookie", "Cookie", "Set-Cookie", "session",
	"privateKey", "private_key", "secretKey", "secret_key",
}

// DefaultRedactOptions returns the masq options used by every logger this
// package builds, and for records kept on diagnostic contexts.
//
// To add project-specific redaction, pass more options to NewReplaceAttr:
//
//	replace := logging.NewReplaceAttr(
//	    masq.WithFieldName("MySecretField"),
//	    masq.WithType[MySecretType](),
//	)
func DefaultRedactOptions() []masq.Option {
	opts := make([]masq.Option, 0, len(sensitiveFields)+5)
	for _, name := range sensitiveFields {
		opts = append(opts, masq.WithFieldName(name))
	}

	return append(opts,
		masq.WithFieldPrefix("secret"),
		masq.WithFieldPrefix("private"),
		masq.WithRegex(jwtPattern),
		masq.WithRegex(bearerPattern),
		masq.WithRegex(basicAuthPattern),
	)
}

// NewReplaceAttr returns an slog.HandlerOptions.ReplaceAttr func that
// redacts sensitive values, using DefaultRedactOptions plus opts.
func NewReplaceAttr(opts ...masq.Option) func(groups []string, a slog.Attr) slog.Attr {
	return masq.New(append(DefaultRedactOptions(), opts...)...)
}

package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces secrets in log lines.
const RedactedValue = "[REDACTED]"

// publicKeys are identifiers that are safe to log verbatim. Anything else
// passed through MaskField is treated as a secret.
var publicKeys = map[string]bool{
	"account":   true,
	"component": true,
	"digest":    true,
	"endpoint":  true,
	"forwarder": true,
	"method":    true,
	"nonce":     true,
	"relayer":   true,
	"secretenv": true,
	"signer":    true,
}

// IsPublic reports whether values logged under key need no redaction.
func IsPublic(key string) bool {
	return publicKeys[strings.ToLower(strings.TrimSpace(key))]
}

// MaskField builds an attribute for key, replacing a non-empty value with
// RedactedValue unless key is public. Passphrases, bearer tokens and HMAC
// secrets go through it.
func MaskField(key, value string) slog.Attr {
	if value == "" || IsPublic(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

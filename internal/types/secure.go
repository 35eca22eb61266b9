package types

// redactedPlaceholder is what a SecretString yields anywhere it is
// formatted or serialized instead of its plaintext.
const redactedPlaceholder = "***REDACTED***"

// redactedJSON is the pre-computed JSON encoding of the redacted placeholder.
var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString carries credential material through configuration — the
// Resend API key and the DATABASE_URL — without letting it reach logs or
// serialized output. fmt, slog, and encoding/json all see the redacted
// placeholder; only Unmask returns the plaintext.
type SecretString string

// String returns the redacted placeholder. Invoked by the fmt package and
// by slog whenever a SecretString lands in a log attribute, so a config
// dump at startup cannot leak the key.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string, keeping
// secrets out of API responses and structured log entries.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw plaintext value. Call sites are deliberately few:
// the Authorization header on outbound Resend requests and the pgx pool
// constructor parsing the connection string.
func (s SecretString) Unmask() string {
	return string(s)
}

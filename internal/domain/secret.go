package domain

import "log/slog"

const redacted = "[REDACTED]"

// Secret holds a credential that must never reach logs or error strings.
type Secret struct {
	value string
}

func NewSecret(value string) Secret { return Secret{value: value} }

// Expose returns the underlying credential. Call it only at the point of use.
func (s Secret) Expose() string { return s.value }

func (s Secret) IsEmpty() bool { return s.value == "" }

func (s Secret) String() string { return redacted }

func (s Secret) GoString() string { return redacted }

func (s Secret) LogValue() slog.Value { return slog.StringValue(redacted) }

func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

package domain

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var emailValidate = validator.New(validator.WithRequiredStructEnabled())

// SubscriberEmail is an address that passed syntactic validation.
// The zero value is not a valid address; construct it with ParseSubscriberEmail.
type SubscriberEmail struct {
	raw string
}

// ParseSubscriberEmail validates raw and returns it unchanged on success.
func ParseSubscriberEmail(raw string) (SubscriberEmail, error) {
	if err := checkEmailShape(raw); err != nil {
		return SubscriberEmail{}, fmt.Errorf("%w: %q: %s", ErrInvalidEmail, raw, err.Error())
	}
	if err := emailValidate.Var(raw, "required,email"); err != nil {
		return SubscriberEmail{}, fmt.Errorf("%w: %q is not a valid address", ErrInvalidEmail, raw)
	}
	return SubscriberEmail{raw: raw}, nil
}

// MustParseSubscriberEmail is ParseSubscriberEmail for constants; it panics on invalid input.
func MustParseSubscriberEmail(raw string) SubscriberEmail {
	email, err := ParseSubscriberEmail(raw)
	if err != nil {
		panic(err)
	}
	return email
}

func (e SubscriberEmail) String() string { return e.raw }

// IsZero reports whether e was never parsed.
func (e SubscriberEmail) IsZero() bool { return e.raw == "" }

func checkEmailShape(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("address is empty")
	}
	at := strings.LastIndex(raw, "@")
	if at < 0 {
		return fmt.Errorf("missing @ symbol")
	}
	local, host := raw[:at], raw[at+1:]
	if local == "" {
		return fmt.Errorf("missing local part")
	}
	if host == "" {
		return fmt.Errorf("missing domain")
	}
	for _, label := range strings.Split(host, ".") {
		if label == "" {
			return fmt.Errorf("domain %q has an empty label", host)
		}
	}
	return nil
}

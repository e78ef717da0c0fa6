package domain

import (
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdempotencyKeyBoundaries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "empty", raw: "", wantErr: true},
		{name: "single byte", raw: "a"},
		{name: "49 bytes", raw: strings.Repeat("a", 49)},
		{name: "50 bytes", raw: strings.Repeat("a", 50), wantErr: true},
		{name: "multibyte counted in bytes", raw: strings.Repeat("é", 25), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := NewIdempotencyKey(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidIdempotencyKey)
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.raw, key.String())
		})
	}
}

func TestParseSubscriberEmail(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "   ", "testemail.com", "@email.com", "user@", "user@domain..com"} {
		_, err := ParseSubscriberEmail(raw)
		assert.ErrorIs(t, err, ErrInvalidEmail, "expected %q to be rejected", raw)
	}

	valid := []string{
		"ursula@domain.com",
		"first.last+tag@mail.example.org",
		"jane_doe@example.co.uk",
		"x@y.io",
		"12345@numbers.net",
		"Upper.Case@Example.ORG",
		"ops-team@my-company.dev",
		"o'brien@example.ie",
	}
	for _, raw := range valid {
		email, err := ParseSubscriberEmail(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, raw, email.String())
		assert.False(t, email.IsZero())
	}
}

// generatedAddress produces syntactically valid addresses of varying shape.
type generatedAddress string

const (
	localChars = "abcdefghijklmnopqrstuvwxyz0123456789_+-"
	labelChars = "abcdefghijklmnopqrstuvwxyz0123456789"
	letters    = "abcdefghijklmnopqrstuvwxyz"
)

func randomRun(r *rand.Rand, alphabet string, minLen, maxLen int) string {
	n := minLen + r.Intn(maxLen-minLen+1)
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[r.Intn(len(alphabet))]
	}
	return string(b)
}

func (generatedAddress) Generate(r *rand.Rand, _ int) reflect.Value {
	local := make([]string, 1+r.Intn(3))
	for i := range local {
		local[i] = randomRun(r, localChars, 1, 12)
	}
	labels := make([]string, 1+r.Intn(3))
	for i := range labels {
		labels[i] = randomRun(r, letters, 1, 1) + randomRun(r, labelChars, 0, 10)
	}
	tld := randomRun(r, letters, 2, 6)
	addr := strings.Join(local, ".") + "@" + strings.Join(labels, ".") + "." + tld
	return reflect.ValueOf(generatedAddress(addr))
}

func TestParseSubscriberEmailAcceptsGeneratedAddresses(t *testing.T) {
	t.Parallel()

	accepts := func(addr generatedAddress) bool {
		email, err := ParseSubscriberEmail(string(addr))
		if err != nil {
			t.Logf("rejected %q: %v", addr, err)
			return false
		}
		return email.String() == string(addr)
	}
	require.NoError(t, quick.Check(accepts, &quick.Config{MaxCount: 500}))
}

func TestMustParseSubscriberEmailPanics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { MustParseSubscriberEmail("not-an-email") })
	assert.NotPanics(t, func() { MustParseSubscriberEmail("ops@example.com") })
}

func TestSecretRedaction(t *testing.T) {
	t.Parallel()

	s := NewSecret("sg-token-123")
	assert.Equal(t, "sg-token-123", s.Expose())
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v %+v %#v", s, s, s)[:10])
	assert.NotContains(t, fmt.Sprintf("%v %+v %#v", s, s, s), "sg-token")
	assert.Equal(t, "[REDACTED]", s.LogValue().String())
	assert.True(t, NewSecret("").IsEmpty())
}

func TestGateOutcomeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "admitted", GateAdmitted.String())
	assert.Equal(t, "replay", GateReplay.String())
	assert.Equal(t, "conflict", GateConflict.String())
	assert.Equal(t, "unknown", GateOutcome(42).String())
}

func TestSubscriberEntryValid(t *testing.T) {
	t.Parallel()

	assert.True(t, SubscriberEntry{Subscriber: ConfirmedSubscriber{Email: MustParseSubscriberEmail("a@example.com")}}.Valid())
	assert.False(t, SubscriberEntry{Err: errors.New("bad row")}.Valid())
}

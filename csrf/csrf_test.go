package csrf

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGuard(t *testing.T) *Guard {
	t.Helper()
	g, err := New([]byte(strings.Repeat("s", 32)), time.Hour)
	require.NoError(t, err)
	return g
}

func TestIssueValidate(t *testing.T) {
	g := newGuard(t)

	tok, err := g.Issue("scope-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tok, "v1."))
	require.NoError(t, g.Validate("scope-1", tok, tok))
}

func TestValidateRejectsMissingOrDifferent(t *testing.T) {
	g := newGuard(t)
	tok, err := g.Issue("scope-1")
	require.NoError(t, err)
	other, err := g.Issue("scope-1")
	require.NoError(t, err)

	cases := map[string][2]string{
		"missing header": {"", tok},
		"missing cookie": {tok, ""},
		"both missing":   {"", ""},
		"different":      {tok, other},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, g.Validate("scope-1", c[0], c[1]), ErrMismatch)
		})
	}
}

func TestValidateRejectsOtherScope(t *testing.T) {
	g := newGuard(t)
	tok, err := g.Issue("scope-1")
	require.NoError(t, err)

	err = g.Validate("scope-2", tok, tok)
	require.ErrorIs(t, err, ErrMismatch)
	require.ErrorIs(t, err, errMAC)
}

func TestValidateRejectsForgedToken(t *testing.T) {
	g := newGuard(t)
	forger, err := New([]byte(strings.Repeat("x", 32)), time.Hour)
	require.NoError(t, err)

	tok, err := forger.Issue("scope-1")
	require.NoError(t, err)
	require.ErrorIs(t, g.Validate("scope-1", tok, tok), ErrMismatch)

	require.ErrorIs(t, g.Validate("scope-1", "plain", "plain"), ErrMismatch)
}

func TestValidateRejectsExpired(t *testing.T) {
	now := time.Now()
	g := newGuard(t).WithClock(func() time.Time { return now })

	tok, err := g.Issue("scope-1")
	require.NoError(t, err)

	later := g.WithClock(func() time.Time { return now.Add(2 * time.Hour) })
	err = later.Validate("scope-1", tok, tok)
	require.ErrorIs(t, err, ErrMismatch)
	require.ErrorIs(t, err, errExpired)
}

func TestNewRejectsShortSecret(t *testing.T) {
	_, err := New([]byte("short"), time.Hour)
	require.Error(t, err)
}

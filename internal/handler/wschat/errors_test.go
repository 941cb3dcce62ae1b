package wschat

import (
	"fmt"
	"strings"
	"testing"

	"meridian/internal/domain"
)

func TestFriendlyTurnError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"context length", fmt.Errorf("%w: too big", domain.ErrContextLength), "too long for me to process"},
		{"unauthorized", fmt.Errorf("%w: bad key", domain.ErrUnauthorized), "API authentication"},
		{"rate limit", fmt.Errorf("rate limit: %s", "slow down"), "rate limited"},
		{"infrastructure", fmt.Errorf("%w: db down", domain.ErrInfrastructure), "technical difficulties"},
		{"unknown", fmt.Errorf("something weird"), "could not complete that turn"},
	}
	for _, c := range cases {
		got := friendlyTurnError(c.err)
		if !strings.Contains(got, c.want) {
			t.Errorf("friendlyTurnError(%v) = %q, want substring %q", c.err, got, c.want)
		}
	}
}

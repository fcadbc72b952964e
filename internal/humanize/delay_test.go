package humanize

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDelayRange(t *testing.T) {
	cases := []struct {
		spec     string
		min, max int
	}{
		{"3-7", 3, 7},
		{"7-3", 3, 7},
		{"5", 5, 5},
		{"5-x", 5, 5},
		{" 4 - 9 ", 4, 9},
		{"abc", 10, 10},
		{"", 10, 10},
		{"abc-20", 10, 20},
	}

	for _, tc := range cases {
		min, max := ParseDelayRange(tc.spec)
		require.Equal(t, tc.min, min, "min for %q", tc.spec)
		require.Equal(t, tc.max, max, "max for %q", tc.spec)
	}
}

func TestDelayStaysWithinRange(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < 100; i++ {
		d := Delay(rnd, "3-7")
		require.GreaterOrEqual(t, d, 3*time.Second)
		require.LessOrEqual(t, d, 7*time.Second)
	}
}

func TestDelaySingleValue(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	require.Equal(t, 5*time.Second, Delay(rnd, "5"))
}

func TestTypingDelay(t *testing.T) {
	require.Equal(t, time.Second, TypingDelay(""))
	require.Equal(t, time.Second, TypingDelay(strings.Repeat("a", 10)))
	require.Equal(t, 3*time.Second, TypingDelay(strings.Repeat("a", 50)))
	require.Equal(t, 4*time.Second, TypingDelay(strings.Repeat("a", 200)))
}

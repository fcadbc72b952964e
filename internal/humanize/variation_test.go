package humanize

import (
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedClock(hour int) func() time.Time {
	return func() time.Time {
		return time.Date(2025, 6, 1, hour, 30, 0, 0, time.UTC)
	}
}

func stripInvisible(s string) string {
	for _, z := range zeroWidthChars {
		s = strings.ReplaceAll(s, z, "")
	}
	return s
}

func TestGreetingBuckets(t *testing.T) {
	cases := map[int]int{
		3: 0, 10: 0,
		11: 1, 14: 1,
		15: 2, 17: 2,
		18: 3, 23: 3, 0: 3, 2: 3,
	}
	for hour, want := range cases {
		require.Equal(t, want, greetingBucket(hour), "hour %d", hour)
	}
}

func TestApplyReplacesGreetingPlaceholder(t *testing.T) {
	v := New(rand.New(rand.NewSource(7)), fixedClock(9))

	out := v.Apply("[greeting], valued customer")
	require.NotContains(t, out, GreetingPlaceholder)
	require.Contains(t, stripInvisible(out), "orning")
}

func TestApplyExpandsSpintax(t *testing.T) {
	v := New(rand.New(rand.NewSource(3)), fixedClock(12))

	for i := 0; i < 20; i++ {
		out := stripInvisible(v.Apply("{promo|offer}"))
		require.Contains(t, []string{"promo", "offer"}, out)
	}
}

func TestApplyNeverShrinksSpintaxFreeInput(t *testing.T) {
	v := New(rand.New(rand.NewSource(11)), fixedClock(20))
	in := "Thanks for the order, see you now my friend"

	for i := 0; i < 50; i++ {
		out := v.Apply(in)
		require.GreaterOrEqual(t, len(out), len(in))
	}
}

func TestApplyAppendsInvisibleSuffix(t *testing.T) {
	v := New(rand.New(rand.NewSource(5)), fixedClock(12))

	out := v.Apply("hello there")
	require.Equal(t, "hello there", stripInvisible(out))
	require.Greater(t, len(out), len("hello there"))
}

func TestSlangKeepsLeadingCase(t *testing.T) {
	v := New(rand.New(rand.NewSource(9)), fixedClock(12))
	allowed := []string{"Yes", "Yeah", "Yup"}

	replaced := false
	for i := 0; i < 200; i++ {
		out := stripInvisible(v.Apply("Yes"))
		require.Contains(t, allowed, out)
		if out != "Yes" {
			replaced = true
		}
	}
	require.True(t, replaced, "expected at least one slang substitution")
}

func TestApplyConcurrentUse(t *testing.T) {
	v := New(rand.New(rand.NewSource(13)), fixedClock(12))
	in := "hello {there|friend}"

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		outputs []string
	)
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				out := stripInvisible(v.Apply(in))
				mu.Lock()
				outputs = append(outputs, out)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, outputs, 200)
	for _, out := range outputs {
		require.Contains(t, []string{"hello there", "hello friend"}, out)
	}
}

func TestMatchLeadingCase(t *testing.T) {
	require.Equal(t, "Yeah", matchLeadingCase("Yes", "yeah"))
	require.Equal(t, "yeah", matchLeadingCase("yes", "yeah"))
}

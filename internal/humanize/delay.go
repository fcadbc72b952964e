package humanize

import (
	"math/rand"
	"strconv"
	"strings"
	"time"
)

const defaultDelaySeconds = 10

// Typing latency bounds for the simulated keystroke delay before a transmit.
const (
	minTypingDelay = time.Second
	maxTypingDelay = 4 * time.Second
	perCharDelay   = 60 * time.Millisecond
)

// ParseDelayRange parses a "min-max" second range. An unparsable minimum
// falls back to 10; an unparsable maximum collapses to the minimum; an
// inverted range is swapped.
func ParseDelayRange(spec string) (min, max int) {
	parts := strings.SplitN(strings.TrimSpace(spec), "-", 2)

	min, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		min = defaultDelaySeconds
	}
	max = min
	if len(parts) == 2 {
		if v, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
			max = v
		}
	}
	if min > max {
		min, max = max, min
	}
	return min, max
}

// Delay draws a pause uniformly from the parsed range.
func Delay(rnd *rand.Rand, spec string) time.Duration {
	min, max := ParseDelayRange(spec)
	seconds := min
	if max > min {
		seconds = min + rnd.Intn(max-min+1)
	}
	return time.Duration(seconds) * time.Second
}

// TypingDelay simulates the time a human would spend typing the message:
// proportional to its length, clamped to [1s, 4s].
func TypingDelay(body string) time.Duration {
	d := time.Duration(len(body)) * perCharDelay
	if d < minTypingDelay {
		return minTypingDelay
	}
	if d > maxTypingDelay {
		return maxTypingDelay
	}
	return d
}

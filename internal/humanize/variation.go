package humanize

import (
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"
)

// GreetingPlaceholder is the literal token replaced by a time-of-day phrase.
const GreetingPlaceholder = "[greeting]"

// greetingBuckets maps a time-of-day window to its phrase alternatives.
// Buckets: 03:00-11:00 morning, 11:00-15:00 midday, 15:00-18:00 afternoon,
// everything else night.
var greetingBuckets = [4][]string{
	{"Good morning", "Good morning!", "Hello, good morning", "Hi, good morning"},
	{"Good afternoon", "Good afternoon!", "Hello, good afternoon", "Hi, good afternoon"},
	{"Good afternoon", "Good evening", "Hello, good evening", "Hi, good evening"},
	{"Good evening", "Good evening!", "Hello, good evening", "Hi, good evening"},
}

// slangWords maps a word to casual alternatives. Matching is whole-word and
// case-insensitive; each hit is replaced with probability 0.5. Alternatives
// are never shorter than the word they replace so variation cannot shrink
// the message.
var slangWords = map[string][]string{
	"yes":    {"yeah", "yup"},
	"no":     {"nope", "nah"},
	"hi":     {"hey", "hiya"},
	"thanks": {"cheers", "thank you"},
	"great":  {"awesome", "superb"},
	"good":   {"nice", "solid"},
	"very":   {"super", "really"},
	"now":    {"right now", "today"},
}

var zeroWidthChars = []string{
	"\u200b", // zero-width space
	"\u200c", // zero-width non-joiner
	"\u200d", // zero-width joiner
	"\ufeff", // zero-width no-break space
}

var spintaxPattern = regexp.MustCompile(`\{([^{}|]+(?:\|[^{}|]*)+)\}`)

// Variator rewrites a message template into a humanized variant. The zero
// value is not usable; construct with New. Randomness and the clock are
// injectable so tests can pin the output. Safe for concurrent use; draws
// from the random source are serialized.
type Variator struct {
	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

// New builds a Variator. Passing nil for either argument selects a
// time-seeded source and time.Now respectively.
func New(rnd *rand.Rand, now func() time.Time) *Variator {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if now == nil {
		now = time.Now
	}
	return &Variator{rnd: rnd, now: now}
}

// Apply runs the full variation pipeline in fixed order: greeting
// substitution, spintax expansion, slang substitution, invisible uniqueness
// suffix. Output is always at least as long as the input.
func (v *Variator) Apply(body string) string {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := v.applyGreeting(body)
	out = v.expandSpintax(out)
	out = v.applySlang(out)
	return v.appendInvisibleSuffix(out)
}

func (v *Variator) applyGreeting(body string) string {
	if !strings.Contains(body, GreetingPlaceholder) {
		return body
	}
	phrases := greetingBuckets[greetingBucket(v.now().Hour())]
	greeting := phrases[v.rnd.Intn(len(phrases))]
	return strings.ReplaceAll(body, GreetingPlaceholder, greeting)
}

func greetingBucket(hour int) int {
	switch {
	case hour >= 3 && hour < 11:
		return 0
	case hour >= 11 && hour < 15:
		return 1
	case hour >= 15 && hour < 18:
		return 2
	default:
		return 3
	}
}

func (v *Variator) expandSpintax(body string) string {
	return spintaxPattern.ReplaceAllStringFunc(body, func(group string) string {
		options := strings.Split(group[1:len(group)-1], "|")
		return options[v.rnd.Intn(len(options))]
	})
}

var wordPattern = regexp.MustCompile(`[A-Za-z']+`)

func (v *Variator) applySlang(body string) string {
	return wordPattern.ReplaceAllStringFunc(body, func(word string) string {
		alternatives, ok := slangWords[strings.ToLower(word)]
		if !ok {
			return word
		}
		if v.rnd.Float64() < 0.5 {
			return word
		}
		return matchLeadingCase(word, alternatives[v.rnd.Intn(len(alternatives))])
	})
}

// matchLeadingCase upper-cases the replacement's first rune when the original
// word started with an upper-case letter.
func matchLeadingCase(original, replacement string) string {
	first, _ := utf8.DecodeRuneInString(original)
	if !unicode.IsUpper(first) {
		return replacement
	}
	r, size := utf8.DecodeRuneInString(replacement)
	return string(unicode.ToUpper(r)) + replacement[size:]
}

// appendInvisibleSuffix appends 1-10 zero-width characters so two renders of
// identical visible text still differ at the byte level.
func (v *Variator) appendInvisibleSuffix(body string) string {
	var sb strings.Builder
	sb.WriteString(body)
	count := 1 + v.rnd.Intn(10)
	for i := 0; i < count; i++ {
		sb.WriteString(zeroWidthChars[v.rnd.Intn(len(zeroWidthChars))])
	}
	return sb.String()
}

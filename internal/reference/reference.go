// Package reference builds human-readable booking references such as
// BK-2026-7QX2KD.
package reference

import (
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	alphabet     = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	randomLength = 6
)

var pattern = regexp.MustCompile(`^[A-Z]+-\d{4}-[A-Z0-9]{6}$`)

// Source is the subset of *rand.Rand used here.
type Source interface {
	IntN(n int) int
}

// Generate returns PREFIX-YYYY-XXXXXX for the year of now. It is a pure
// function of its arguments.
func Generate(prefix string, rnd Source, now time.Time) string {
	var b strings.Builder
	b.Grow(len(prefix) + 12)
	b.WriteString(strings.ToUpper(prefix))
	b.WriteByte('-')
	b.WriteString(strconv.Itoa(now.Year()))
	b.WriteByte('-')
	for i := 0; i < randomLength; i++ {
		b.WriteByte(alphabet[rnd.IntN(len(alphabet))])
	}
	return b.String()
}

// Valid reports whether s looks like a generated reference.
func Valid(s string) bool {
	return pattern.MatchString(s)
}

// Generator is a concurrency-safe wrapper around Generate.
type Generator struct {
	prefix string
	now    func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewGenerator(prefix string, seed uint64, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{
		prefix: prefix,
		now:    now,
		rnd:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// NewRandomGenerator seeds from the runtime's random source. The year part is
// taken from now as given, so callers pass a clock in the booking timezone.
func NewRandomGenerator(prefix string, now func() time.Time) *Generator {
	return NewGenerator(prefix, rand.Uint64(), now)
}

func (g *Generator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Generate(g.prefix, g.rnd, g.now())
}

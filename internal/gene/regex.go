package gene

import (
	"math/rand"
	"regexp/syntax"
	"strings"
	"unicode/utf8"
)

const (
	maxRegexRepeat   = 8
	printableLow     = 0x20
	printableHigh    = 0x7e
	asciiBiasPercent = 90
)

// generate draws a candidate string satisfying the constraint. The boolean is
// false when the draw violated the length bounds; callers retry.
func (c *stringConstraint) generate(rng *rand.Rand) (string, bool) {
	if c.syntax == nil {
		n := c.minLen
		if c.maxLen > c.minLen {
			n += rng.Intn(c.maxLen - c.minLen + 1)
		}
		var b strings.Builder
		for i := 0; i < n; i++ {
			b.WriteRune(randPrintable(rng))
		}
		return b.String(), true
	}
	var b strings.Builder
	if !emit(rng, &b, c.syntax) {
		return "", false
	}
	out := b.String()
	return out, c.accepts(out)
}

func (c *stringConstraint) accepts(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	n := utf8.RuneCountInString(s)
	if n < c.minLen || n > c.maxLen {
		return false
	}
	return c.re == nil || c.re.MatchString(s)
}

func randPrintable(rng *rand.Rand) rune {
	return rune(printableLow + rng.Intn(printableHigh-printableLow+1))
}

func emit(rng *rand.Rand, b *strings.Builder, re *syntax.Regexp) bool {
	switch re.Op {
	case syntax.OpNoMatch:
		return false
	case syntax.OpEmptyMatch, syntax.OpBeginLine, syntax.OpEndLine,
		syntax.OpBeginText, syntax.OpEndText, syntax.OpWordBoundary, syntax.OpNoWordBoundary:
		return true
	case syntax.OpLiteral:
		for _, r := range re.Rune {
			if re.Flags&syntax.FoldCase != 0 && rng.Intn(2) == 0 {
				r = foldRune(r)
			}
			b.WriteRune(r)
		}
		return true
	case syntax.OpCharClass:
		r, ok := pickFromClass(rng, re.Rune)
		if !ok {
			return false
		}
		b.WriteRune(r)
		return true
	case syntax.OpAnyCharNotNL, syntax.OpAnyChar:
		b.WriteRune(randPrintable(rng))
		return true
	case syntax.OpCapture:
		return emit(rng, b, re.Sub[0])
	case syntax.OpStar:
		return repeat(rng, b, re.Sub[0], 0, maxRegexRepeat)
	case syntax.OpPlus:
		return repeat(rng, b, re.Sub[0], 1, 1+maxRegexRepeat)
	case syntax.OpQuest:
		return repeat(rng, b, re.Sub[0], 0, 1)
	case syntax.OpRepeat:
		max := re.Max
		if max < 0 {
			max = re.Min + maxRegexRepeat
		}
		return repeat(rng, b, re.Sub[0], re.Min, max)
	case syntax.OpConcat:
		for _, sub := range re.Sub {
			if !emit(rng, b, sub) {
				return false
			}
		}
		return true
	case syntax.OpAlternate:
		return emit(rng, b, re.Sub[rng.Intn(len(re.Sub))])
	default:
		return false
	}
}

func repeat(rng *rand.Rand, b *strings.Builder, sub *syntax.Regexp, min, max int) bool {
	n := min
	if max > min {
		n += rng.Intn(max - min + 1)
	}
	for i := 0; i < n; i++ {
		if !emit(rng, b, sub) {
			return false
		}
	}
	return true
}

// pickFromClass picks a rune from sorted [lo,hi] pairs, preferring printable
// ASCII when the class contains any.
func pickFromClass(rng *rand.Rand, ranges []rune) (rune, bool) {
	if len(ranges) == 0 {
		return 0, false
	}
	if rng.Intn(100) < asciiBiasPercent {
		var ascii []rune
		for i := 0; i+1 < len(ranges); i += 2 {
			lo, hi := max(ranges[i], printableLow), min(ranges[i+1], printableHigh)
			if lo <= hi {
				ascii = append(ascii, lo, hi)
			}
		}
		if len(ascii) > 0 {
			ranges = ascii
		}
	}
	total := 0
	for i := 0; i+1 < len(ranges); i += 2 {
		total += int(ranges[i+1]-ranges[i]) + 1
	}
	pick := rng.Intn(total)
	for i := 0; i+1 < len(ranges); i += 2 {
		size := int(ranges[i+1]-ranges[i]) + 1
		if pick < size {
			r := ranges[i] + rune(pick)
			if !utf8.ValidRune(r) {
				return 0, false
			}
			return r, true
		}
		pick -= size
	}
	return 0, false
}

func foldRune(r rune) rune {
	switch {
	case r >= 'a' && r <= 'z':
		return r - 'a' + 'A'
	case r >= 'A' && r <= 'Z':
		return r - 'A' + 'a'
	default:
		return r
	}
}

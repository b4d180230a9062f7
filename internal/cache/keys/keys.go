package keys

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const prefix = "fi"

// FeatureInfo builds the cache key of one layer's feature-info answer for a
// click that falls in cell at the given view resolution. variant carries the
// request parameters that change the answer; it is hashed, not embedded.
func FeatureInfo(layer string, resolution float64, cell, variant string) string {
	layerNorm := sanitizeLayer(strings.TrimSpace(layer))
	res := strconv.FormatFloat(resolution, 'f', 3, 64)
	sum := xxhash.Sum64String(strings.TrimSpace(variant))
	return fmt.Sprintf("%s:%s:r=%s:%s:v=%016x", prefix, layerNorm, res, cell, sum)
}

// LayerPrefix is the common prefix of every FeatureInfo key of layer.
func LayerPrefix(layer string) string {
	return prefix + ":" + sanitizeLayer(strings.TrimSpace(layer)) + ":"
}

func sanitizeLayer(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-':
			out = r
		default:
			// any other rune (including ':' and non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}

// IsASCII reports whether a key is safe to ship to any backend.
func IsASCII(k string) bool {
	for _, r := range k {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

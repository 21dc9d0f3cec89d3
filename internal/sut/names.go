package sut

import "strings"

var aliases = map[string]string{
	"guess":      "numberguess",
	"number":     "numberguess",
	"exclusive":  "exclusive",
	"mutex":      "exclusive",
	"pet":        "petstore",
	"pets":       "petstore",
	"swagger":    "petstore",
	"swaggerpet": "petstore",
}

// Normalize canonicalizes a service name: case, separators, an optional
// "sut"/"service" prefix or suffix and the known aliases are folded away.
func Normalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.NewReplacer("-", "", "_", "", " ", "", ".", "").Replace(n)
	for _, affix := range []string{"service", "sut"} {
		if trimmed := strings.TrimPrefix(n, affix); trimmed != "" {
			n = trimmed
		}
		if trimmed := strings.TrimSuffix(n, affix); trimmed != "" {
			n = trimmed
		}
	}
	if _, ok := registry[n]; ok {
		return n
	}
	if canonical, ok := aliases[n]; ok {
		return canonical
	}
	return n
}

package harness

import (
	"fmt"
	"slices"
	"strings"
)

// Language identifies an instrumented server implementation.
type Language string

const (
	Python Language = "python"
	NodeJS Language = "nodejs"
)

// DefaultLanguages is the set tested when TEST_LIBS is unset.
var DefaultLanguages = []Language{Python, NodeJS}

// Endpoints are the HTTP paths an instrumented server exposes.
type Endpoints struct {
	Info           string
	ChatCompletion string
}

var serverEndpoints = map[Language]Endpoints{
	Python: {
		Info:           "/sdk/info",
		ChatCompletion: "/openai/chat_completion",
	},
	NodeJS: {
		Info:           "/sdk/info",
		ChatCompletion: "/openai/chat_completion",
	},
}

// EndpointsFor returns the endpoint table of lang.
func EndpointsFor(lang Language) (Endpoints, error) {
	ep, ok := serverEndpoints[lang]
	if !ok {
		return Endpoints{}, fmt.Errorf("%w %q", ErrUnknownLanguage, lang)
	}
	return ep, nil
}

// ParseLanguages parses a comma separated list such as "python,nodejs".
// Empty input yields DefaultLanguages.
func ParseLanguages(s string) ([]Language, error) {
	if strings.TrimSpace(s) == "" {
		return slices.Clone(DefaultLanguages), nil
	}
	var out []Language
	for part := range strings.SplitSeq(s, ",") {
		lang := Language(strings.ToLower(strings.TrimSpace(part)))
		if lang == "" {
			continue
		}
		if _, err := EndpointsFor(lang); err != nil {
			return nil, fmt.Errorf("invalid test language %q provided", part)
		}
		if !slices.Contains(out, lang) {
			out = append(out, lang)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no test languages in %q", s)
	}
	return out, nil
}

// ServerImage is the image tag built for lang.
func ServerImage(prefix string, lang Language) string {
	if prefix == "" {
		prefix = DefaultServerImagePrefix
	}
	return prefix + "-" + string(lang)
}

// Dockerfile is the per-language Dockerfile name inside the server directory.
func Dockerfile(lang Language) string {
	return "Dockerfile." + string(lang)
}

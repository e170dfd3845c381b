package harness

import (
	"cmp"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Unsupported is the version token that excludes a language outright.
const Unsupported = "unsupported"

// Rule restricts a test to servers of Language at or above MinVersion.
// MinVersion may be Unsupported.
type Rule struct {
	Language   Language
	MinVersion string
	Reason     string
}

// Rules is the compatibility table attached to one test.
type Rules []Rule

// Require returns a rule demanding at least minVersion for lang.
func Require(lang Language, minVersion, reason string) Rule {
	return Rule{Language: lang, MinVersion: minVersion, Reason: reason}
}

// NotSupported returns a rule that always skips lang.
func NotSupported(lang Language, reason string) Rule {
	return Rule{Language: lang, MinVersion: Unsupported, Reason: reason}
}

// SkipDecision is the outcome of the version gate.
type SkipDecision struct {
	Skip   bool
	Reason string
}

// ShouldSkip evaluates rules against the server under test. The first rule
// for lang decides; without one the test runs.
func ShouldSkip(lang Language, rules Rules, info ServerInfo) SkipDecision {
	for _, r := range rules {
		if r.Language != lang {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(r.MinVersion), Unsupported) {
			return SkipDecision{Skip: true, Reason: r.Reason}
		}

		want, err := ParseVersion(r.MinVersion)
		if err != nil {
			return SkipDecision{Skip: true, Reason: fmt.Sprintf("invalid minimum version %q for %s: %v", r.MinVersion, lang, err)}
		}
		got, err := ParseVersion(info.Version)
		if err != nil {
			return SkipDecision{Skip: true, Reason: fmt.Sprintf("%s server reported unparsable version %q: %v", lang, info.Version, err)}
		}
		if got.LessThan(want) {
			return SkipDecision{Skip: true, Reason: r.Reason}
		}
		return SkipDecision{}
	}
	return SkipDecision{}
}

// pep440Suffix matches python style pre, dev and post releases that follow
// the release segment, e.g. "2.9.0.dev12", "2.9.0rc1" or "2.9.0.post1".
var pep440Suffix = regexp.MustCompile(`^(\d+(?:\.\d+)*)[._-]?(alpha|beta|preview|pre|rc|dev|post|a|b|c)[._-]?(\d*)(.*)$`)

// pep440Phase maps a python pre-release label onto a numeric leading
// identifier so semver orders dev < a < b < rc.
var pep440Phase = map[string]string{
	"dev":     "0.dev",
	"a":       "1.a",
	"alpha":   "1.a",
	"b":       "2.b",
	"beta":    "2.b",
	"c":       "3.rc",
	"rc":      "3.rc",
	"pre":     "3.rc",
	"preview": "3.rc",
}

// Version is a parsed library version. Semver ignores build metadata when
// comparing, so post releases carry their number alongside.
type Version struct {
	sv   *semver.Version
	post int64 // -1 unless a post release
}

// Compare returns -1, 0 or 1 as v sorts before, equal to or after o.
func (v Version) Compare(o Version) int {
	if c := v.sv.Compare(o.sv); c != 0 {
		return c
	}
	return cmp.Compare(v.post, o.post)
}

func (v Version) LessThan(o Version) bool { return v.Compare(o) < 0 }

func (v Version) String() string {
	if v.post < 0 {
		return v.sv.String()
	}
	return v.sv.String() + ".post" + strconv.FormatInt(v.post, 10)
}

// ParseVersion parses a library version. Python style suffixes are mapped
// onto semver pre-releases so that "2.9.0.dev12" < "2.9.0b1" < "2.9.0rc1"
// < "2.9.0" < "2.9.0.post1".
func ParseVersion(s string) (Version, error) {
	in := strings.TrimSpace(s)
	s = strings.TrimPrefix(in, "v")
	post := int64(-1)
	if m := pep440Suffix.FindStringSubmatch(s); m != nil {
		n := m[3]
		if n == "" {
			n = "0"
		}
		if m[2] == "post" {
			p, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return Version{}, fmt.Errorf("parse version %q: post release: %w", in, err)
			}
			post = p
			s = m[1] + m[4]
		} else {
			s = m[1] + "-" + pep440Phase[m[2]] + "." + n + m[4]
		}
	}
	v, err := semver.NewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("parse version %q: %w", in, err)
	}
	return Version{sv: v, post: post}, nil
}

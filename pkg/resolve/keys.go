package resolve

import (
	"fmt"
	"regexp"
	"strings"
)

// KeyPattern describes the machine identifier family: a stem followed by an
// optional separator and digits (CV_004, cv 004, Cv004), optionally preceded
// by a human-readable qualifier (Candidate CV_004).
type KeyPattern struct {
	Stem       string   `json:"stem"`
	Qualifiers []string `json:"qualifiers"`
}

func DefaultKeyPattern() KeyPattern {
	return KeyPattern{Stem: "CV", Qualifiers: []string{"Candidate"}}
}

// ScopePattern is a name pattern matching every member of the family, usable
// as a ScopeFilter.NamePattern.
func (p KeyPattern) ScopePattern() string {
	stem := regexp.QuoteMeta(p.Stem)
	if len(p.Qualifiers) == 0 {
		return fmt.Sprintf(`^%s[_\s]?\d+$`, stem)
	}
	return fmt.Sprintf(`^(%s\s+)?%s[_\s]?\d+$`, alternation(p.Qualifiers), stem)
}

func alternation(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return "(?:" + strings.Join(quoted, "|") + ")"
}

type keyMatcher struct {
	stem      string
	base      *regexp.Regexp
	qualified *regexp.Regexp
}

func newKeyMatcher(p KeyPattern) (*keyMatcher, error) {
	if strings.TrimSpace(p.Stem) == "" {
		return nil, fmt.Errorf("identifier stem is empty")
	}
	stem := regexp.QuoteMeta(p.Stem)
	base, err := regexp.Compile(fmt.Sprintf(`(?i)^\s*%s[_\s]?(\d+)\s*$`, stem))
	if err != nil {
		return nil, fmt.Errorf("failed to compile identifier pattern: %w", err)
	}
	m := &keyMatcher{stem: strings.ToUpper(p.Stem), base: base}
	if len(p.Qualifiers) > 0 {
		m.qualified, err = regexp.Compile(fmt.Sprintf(`(?i)^\s*%s\s+%s[_\s]?(\d+)\s*$`, alternation(p.Qualifiers), stem))
		if err != nil {
			return nil, fmt.Errorf("failed to compile qualifier pattern: %w", err)
		}
	}
	return m, nil
}

// identifier returns the normalized key STEM_<digits> and whether the name
// carries a qualifier prefix. ok is false for names outside the family.
func (m *keyMatcher) identifier(name string) (key string, qualified bool, ok bool) {
	if sub := m.base.FindStringSubmatch(name); sub != nil {
		return m.stem + "_" + sub[1], false, true
	}
	if m.qualified != nil {
		if sub := m.qualified.FindStringSubmatch(name); sub != nil {
			return m.stem + "_" + sub[1], true, true
		}
	}
	return "", false, false
}

// foldKey is the case-fold key: lower case with whitespace runs collapsed.
func foldKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

var separatorRun = regexp.MustCompile(`[_\s\-]+`)

// separatorKey additionally drops separators, so "Cloud Architect",
// "cloud-architect" and "CLOUD_ARCHITECT" share a key.
func separatorKey(name string) string {
	return separatorRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "")
}

package dispatcher

import (
	"fmt"
	"regexp"
	"strings"
)

// URLPattern is a compiled routing pattern. Syntax: literal segments
// separated by /, with :name capturing a single segment and :name+
// capturing greedily across segments.
type URLPattern struct {
	Source string
	re     *regexp.Regexp
}

var segmentNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// CompileURLPattern compiles a pattern into its regex form
func CompileURLPattern(pattern string) (*URLPattern, error) {
	trimmed := strings.Trim(pattern, "/")
	var sb strings.Builder
	sb.WriteString("^")
	if trimmed != "" {
		segments := strings.Split(trimmed, "/")
		for i, seg := range segments {
			if i > 0 {
				sb.WriteString("/")
			}
			switch {
			case strings.HasPrefix(seg, ":") && strings.HasSuffix(seg, "+"):
				name := seg[1 : len(seg)-1]
				if !segmentNameRe.MatchString(name) {
					return nil, fmt.Errorf("invalid segment name %q in pattern %q", name, pattern)
				}
				fmt.Fprintf(&sb, "(?P<%s>.+)", name)
			case strings.HasPrefix(seg, ":"):
				name := seg[1:]
				if !segmentNameRe.MatchString(name) {
					return nil, fmt.Errorf("invalid segment name %q in pattern %q", name, pattern)
				}
				fmt.Fprintf(&sb, "(?P<%s>[^/]+)", name)
			default:
				sb.WriteString(regexp.QuoteMeta(seg))
			}
		}
	}
	sb.WriteString("$")

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, fmt.Errorf("compiling url pattern %q: %w", pattern, err)
	}
	return &URLPattern{Source: pattern, re: re}, nil
}

// MustCompileURLPattern is CompileURLPattern that panics on error; for
// patterns known at compile time.
func MustCompileURLPattern(pattern string) *URLPattern {
	p, err := CompileURLPattern(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// Match tests url against the pattern. On success it returns the named
// capture map.
func (p *URLPattern) Match(url string) (map[string]string, bool) {
	m := p.re.FindStringSubmatch(strings.Trim(url, "/"))
	if m == nil {
		return nil, false
	}
	captures := make(map[string]string)
	for i, name := range p.re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		captures[name] = m[i]
	}
	return captures, true
}

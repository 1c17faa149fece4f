package capture

import (
	"fmt"
	"regexp"
	"strings"
)

// URLPattern matches URLs either by substring or by regular expression.
// The zero value matches everything.
type URLPattern struct {
	substring string
	re        *regexp.Regexp
}

// Substring returns a pattern matching URLs that contain s.
func Substring(s string) URLPattern {
	return URLPattern{substring: s}
}

// Regexp returns a pattern matching URLs for which re finds a match.
func Regexp(re *regexp.Regexp) URLPattern {
	return URLPattern{re: re}
}

// ParseURLPattern builds a pattern from user input. When isRegex is set the
// input is compiled as a regular expression.
func ParseURLPattern(s string, isRegex bool) (URLPattern, error) {
	if !isRegex {
		return Substring(s), nil
	}
	re, err := regexp.Compile(s)
	if err != nil {
		return URLPattern{}, fmt.Errorf("invalid url pattern %q: %w", s, err)
	}
	return Regexp(re), nil
}

func (p URLPattern) IsZero() bool {
	return p.re == nil && p.substring == ""
}

func (p URLPattern) Match(u string) bool {
	if p.re != nil {
		return p.re.MatchString(u)
	}
	return strings.Contains(u, p.substring)
}

func (p URLPattern) String() string {
	if p.re != nil {
		return "/" + p.re.String() + "/"
	}
	return p.substring
}

// Filter decides whether a request is worth capturing. All configured
// criteria must accept; an empty criterion accepts everything.
type Filter struct {
	url           URLPattern
	methods       map[string]struct{}
	resourceTypes map[string]struct{}
}

// NewFilter builds a Filter. Methods and resource types compare
// case-insensitively since browsers report "XHR" where callers write "xhr".
func NewFilter(url URLPattern, methods, resourceTypes []string) Filter {
	return Filter{
		url:           url,
		methods:       toSet(methods),
		resourceTypes: toSet(resourceTypes),
	}
}

func (f Filter) Accept(url, method, resourceType string) bool {
	if !f.url.IsZero() && !f.url.Match(url) {
		return false
	}
	if len(f.methods) > 0 {
		if _, ok := f.methods[strings.ToLower(method)]; !ok {
			return false
		}
	}
	if len(f.resourceTypes) > 0 {
		if _, ok := f.resourceTypes[strings.ToLower(resourceType)]; !ok {
			return false
		}
	}
	return true
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

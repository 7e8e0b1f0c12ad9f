package dasi

import "strings"

// Delimited form: pairs separated by ',', keyword and value by '=', query
// candidates by '/'. A backslash escapes the next byte.
const (
	pairSep  = ','
	valueSep = '='
	candSep  = '/'
	escape   = '\\'
)

var escaper = strings.NewReplacer(`\`, `\\`, `,`, `\,`, `=`, `\=`, `/`, `\/`)

func escapeText(s string) string {
	return escaper.Replace(s)
}

// splitEscaped splits s at every unescaped sep. Escapes are kept so that
// the parts can be split again before unescaping.
func splitEscaped(s string, sep byte) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case escape:
			i++
		case sep:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// unescapeText removes escapes. A trailing lone backslash is malformed.
func unescapeText(s string) (string, bool) {
	if strings.IndexByte(s, escape) < 0 {
		return s, true
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == escape {
			i++
			if i == len(s) {
				return "", false
			}
		}
		b.WriteByte(s[i])
	}
	return b.String(), true
}

// parsedPair is one "keyword=v1/v2" element of a delimited string
type parsedPair struct {
	keyword string
	values  []string
}

func parsePairs(input string) ([]parsedPair, error) {
	if input == "" {
		return nil, nil
	}

	var out []parsedPair
	seen := make(map[string]struct{})
	for _, part := range splitEscaped(input, pairSep) {
		if part == "" {
			return nil, parseError(input, "empty pair (malformed separator)")
		}
		kv := splitEscaped(part, valueSep)
		if len(kv) != 2 {
			return nil, parseError(input, "pair "+quote(part)+" must contain exactly one '='")
		}

		keyword, ok := unescapeText(kv[0])
		if !ok {
			return nil, parseError(input, "dangling escape")
		}
		if keyword == "" {
			return nil, parseError(input, "empty keyword in pair "+quote(part))
		}
		if _, dup := seen[keyword]; dup {
			return nil, parseError(input, "duplicate keyword "+quote(keyword))
		}
		seen[keyword] = struct{}{}

		raw := splitEscaped(kv[1], candSep)
		values := make([]string, len(raw))
		for i, r := range raw {
			if values[i], ok = unescapeText(r); !ok {
				return nil, parseError(input, "dangling escape")
			}
		}
		out = append(out, parsedPair{keyword: keyword, values: values})
	}
	return out, nil
}

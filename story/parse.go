package story

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrParse reports that no structured data could be recovered from a model
// response.
var ErrParse = errors.New("unparseable model response")

// Parse methods reported in events.
const (
	parsedJSON     = "json"
	parsedRegex    = "regex"
	parsedDefaults = "defaults"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// ExtractJSON returns the first JSON object found in text: the contents of a
// fenced code block, else the first brace-balanced substring.
func ExtractJSON(text string) (string, bool) {
	for _, m := range fencedJSON.FindAllStringSubmatch(text, -1) {
		if candidate := strings.TrimSpace(m[1]); gjson.Valid(candidate) {
			return candidate, true
		}
		if candidate, ok := balancedObject(m[1]); ok {
			return candidate, true
		}
	}
	return balancedObject(text)
}

// balancedObject scans for the first '{' whose matching '}' yields valid JSON.
// Braces inside string literals are ignored.
func balancedObject(text string) (string, bool) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		depth := 0
		inString, escaped := false, false
	scan:
		for i := start; i < len(text); i++ {
			c := text[i]
			switch {
			case escaped:
				escaped = false
			case inString && c == '\\':
				escaped = true
			case c == '"':
				inString = !inString
			case inString:
			case c == '{':
				depth++
			case c == '}':
				depth--
				if depth == 0 {
					if candidate := text[start : i+1]; gjson.Valid(candidate) {
						return candidate, true
					}
					break scan
				}
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// lookup returns the first existing value among the gjson paths.
func lookup(doc string, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := gjson.Get(doc, p); r.Exists() && r.Type != gjson.Null {
			return r
		}
	}
	return gjson.Result{}
}

// fieldPaths expands a snake_case key into the spellings models use.
func fieldPaths(key string) []string {
	camel := snakeToCamel(key)
	return []string{
		key, camel, key + "_score", camel + "Score",
		"scores." + key, "scores." + camel, "dimensions." + key,
	}
}

func snakeToCamel(s string) string {
	parts := strings.Split(s, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}

// resultInt reads a number that may be given as a JSON number, a numeric
// string or a "7/10" fraction.
func resultInt(r gjson.Result) (int, bool) {
	switch r.Type {
	case gjson.Number:
		return int(math.Round(r.Float())), true
	case gjson.String:
		return parseLooseInt(r.Str)
	}
	return 0, false
}

var leadingNumber = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

func parseLooseInt(s string) (int, bool) {
	m := leadingNumber.FindString(s)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return int(math.Round(f)), true
}

// ParseBool interprets model booleans leniently: true/false, yes/no, sí, 1/0.
func ParseBool(r gjson.Result) (value, ok bool) {
	switch r.Type {
	case gjson.True:
		return true, true
	case gjson.False:
		return false, true
	case gjson.Number:
		return r.Num != 0, true
	case gjson.String:
		return parseLooseBool(r.Str)
	}
	return false, false
}

func parseLooseBool(s string) (value, ok bool) {
	switch normalize(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1", "si", "safe", "approved":
		return true, true
	case "false", "no", "n", "0", "unsafe", "rejected":
		return false, true
	}
	return false, false
}

// resultStrings reads an array of strings, or a single string as one item.
func resultStrings(r gjson.Result) []string {
	if !r.Exists() {
		return nil
	}
	if !r.IsArray() {
		if s := strings.TrimSpace(r.String()); s != "" {
			return []string{s}
		}
		return nil
	}
	var out []string
	for _, item := range r.Array() {
		if s := strings.TrimSpace(item.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// regexInt extracts `"key": 7` style pairs from malformed JSON or prose.
func regexInt(text, key string) (int, bool) {
	pattern := `(?i)["']?` + keyPattern(key) + `(?:_score)?["']?\s*[:=]\s*["']?(-?\d+(?:\.\d+)?)`
	m := regexp.MustCompile(pattern).FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	return parseLooseInt(m[1])
}

// keyPattern matches snake_case, camelCase and spaced spellings of key.
func keyPattern(key string) string {
	parts := strings.Split(key, "_")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return strings.Join(parts, `[_ ]?`)
}

func regexString(text, key string) (string, bool) {
	pattern := `(?is)["']?` + keyPattern(key) + `["']?\s*:\s*"((?:[^"\\]|\\.)*)"`
	m := regexp.MustCompile(pattern).FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return unescapeJSONString(m[1]), true
}

func regexStrings(text, key string) []string {
	pattern := `(?is)["']?` + keyPattern(key) + `["']?\s*:\s*\[(.*?)\]`
	m := regexp.MustCompile(pattern).FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	var out []string
	for _, item := range quotedString.FindAllStringSubmatch(m[1], -1) {
		if s := strings.TrimSpace(unescapeJSONString(item[1])); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func regexBool(text, key string) (value, ok bool) {
	pattern := `(?i)["']?` + keyPattern(key) + `["']?\s*[:=]\s*["']?([a-zí0-9]+)`
	m := regexp.MustCompile(pattern).FindStringSubmatch(text)
	if m == nil {
		return false, false
	}
	return parseLooseBool(m[1])
}

var quotedString = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)

func unescapeJSONString(s string) string {
	if u, err := strconv.Unquote(`"` + s + `"`); err == nil {
		return u
	}
	return s
}

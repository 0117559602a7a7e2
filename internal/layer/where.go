package layer

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

var whereRe = regexp.MustCompile(`(?i)^\s*("[^"]+"|[^\s=!<>]+)\s*(==|=|!=|<>|<=|>=|<|>|\s+in\s+|\s+not\s+in\s+)\s*(.*?)\s*$`)

// Condition is a parsed "column op value" expression.
type Condition struct {
	Column string
	Op     string
	Values []string
}

// ParseCondition parses expressions such as `kunta = Helsinki`,
// `pop >= 1000` or `type in a,b,c`. Values may be single or double quoted.
func ParseCondition(expr string) (Condition, error) {
	m := whereRe.FindStringSubmatch(expr)
	if m == nil {
		return Condition{}, eris.Errorf("layer: cannot parse condition %q", expr)
	}
	c := Condition{
		Column: strings.Trim(m[1], `"`),
		Op:     strings.ToLower(strings.Join(strings.Fields(m[2]), " ")),
	}
	switch c.Op {
	case "==":
		c.Op = "="
	case "<>":
		c.Op = "!="
	}
	if c.Op == "in" || c.Op == "not in" {
		raw := strings.TrimSuffix(strings.TrimPrefix(m[3], "("), ")")
		for _, v := range strings.Split(raw, ",") {
			c.Values = append(c.Values, unquote(strings.TrimSpace(v)))
		}
	} else {
		c.Values = []string{unquote(m[3])}
	}
	return c, nil
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// Match evaluates the condition against a feature.
func (c Condition) Match(f *Feature) bool {
	v := f.Get(c.Column)
	switch c.Op {
	case "in":
		return c.in(v)
	case "not in":
		return !c.in(v)
	}
	cmp := compareLiteral(v, c.Values[0])
	switch c.Op {
	case "=":
		return cmp == 0
	case "!=":
		return cmp != 0
	case "<":
		return v != nil && cmp < 0
	case "<=":
		return v != nil && cmp <= 0
	case ">":
		return v != nil && cmp > 0
	case ">=":
		return v != nil && cmp >= 0
	}
	return false
}

func (c Condition) in(v any) bool {
	for _, lit := range c.Values {
		if compareLiteral(v, lit) == 0 {
			return true
		}
	}
	return false
}

// compareLiteral compares a value with a literal from an expression. The
// literal "null" matches nil.
func compareLiteral(v any, lit string) int {
	if strings.EqualFold(lit, "null") {
		if v == nil {
			return 0
		}
		return 1
	}
	if v == nil {
		return -1
	}
	return Compare(v, lit)
}

// Where filters by a "column op value" expression.
func (l *Layer) Where(expr string) (*Layer, error) {
	c, err := ParseCondition(expr)
	if err != nil {
		return nil, err
	}
	if err := l.requireColumns(c.Column); err != nil {
		return nil, err
	}
	return l.Filter(c.Match), nil
}

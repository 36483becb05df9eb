package catalog

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"changegate/internal/change/models"
)

// checker collects field problems for one request. Required fields must be
// present on create; on update only the fields sent are checked.
type checker struct {
	op       models.Operation
	payload  models.Fields
	problems []string
}

func newChecker(req models.ChangeRequest) *checker {
	return &checker{op: req.Operation, payload: req.Payload}
}

func (c *checker) addf(format string, args ...any) {
	c.problems = append(c.problems, fmt.Sprintf(format, args...))
}

// present reports whether name should be checked, recording a problem when a
// required field is missing on create. A nil value on update clears the field.
func (c *checker) present(name string, required bool) bool {
	v, ok := c.payload[name]
	if !ok {
		if required && c.op == models.OperationCreate {
			c.addf("%s is required", name)
		}
		return false
	}
	if v == nil {
		if required {
			c.addf("%s cannot be cleared", name)
		}
		return false
	}
	return true
}

func (c *checker) text(name string, required bool, maxLen int) string {
	if !c.present(name, required) {
		return ""
	}
	s, ok := c.payload[name].(string)
	if !ok {
		c.addf("%s must be a string", name)
		return ""
	}
	trimmed := strings.TrimSpace(s)
	if required && trimmed == "" {
		c.addf("%s must not be blank", name)
		return ""
	}
	if maxLen > 0 && utf8.RuneCountInString(trimmed) > maxLen {
		c.addf("%s must be at most %d characters", name, maxLen)
	}
	return trimmed
}

func (c *checker) integer(name string, required bool, lo, hi int64) {
	if !c.present(name, required) {
		return
	}
	n, ok := asInt(c.payload[name])
	if !ok {
		c.addf("%s must be a whole number", name)
		return
	}
	if n < lo || n > hi {
		c.addf("%s must be between %d and %d", name, lo, hi)
	}
}

func (c *checker) list(name string, required bool, maxItems, maxLen int) {
	if !c.present(name, required) {
		return
	}
	items, ok := asStrings(c.payload[name])
	if !ok {
		c.addf("%s must be a list of strings", name)
		return
	}
	if required && len(items) == 0 {
		c.addf("%s must not be empty", name)
	}
	if len(items) > maxItems {
		c.addf("%s must have at most %d entries", name, maxItems)
	}
	for _, item := range items {
		if utf8.RuneCountInString(item) > maxLen {
			c.addf("%s entries must be at most %d characters", name, maxLen)
			return
		}
	}
}

// only rejects fields outside allowed.
func (c *checker) only(allowed ...string) {
	var unknown []string
	for name := range c.payload {
		if !slices.Contains(allowed, name) {
			unknown = append(unknown, name)
		}
	}
	slices.Sort(unknown)
	for _, name := range unknown {
		c.addf("unknown field %s", name)
	}
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

// asStrings accepts []string and the []any produced by JSON decoding.
func asStrings(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

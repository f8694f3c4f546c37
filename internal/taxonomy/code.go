package taxonomy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var customCodePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// CodeRule controls how codes are numbered for a level.
//
// Root levels number as Prefix-NN. Nested levels derive the prefix from the
// parent's code, so a part under BT-01 numbers BT-01-01, BT-01-02 and so on.
type CodeRule struct {
	Prefix      string
	Width       int
	Separator   string
	AllowCustom bool
}

// ScopePrefix returns the prefix used for new codes. A non-empty override
// wins, then the parent code, then the rule prefix.
func (r CodeRule) ScopePrefix(override, parentCode string) string {
	if p := strings.TrimSpace(override); p != "" {
		return p
	}
	if parentCode != "" {
		return parentCode
	}
	return r.Prefix
}

func (r CodeRule) Format(prefix string, seq int) string {
	return fmt.Sprintf("%s%s%0*d", prefix, r.Separator, r.Width, seq)
}

// Sequence extracts the numeric suffix of code under prefix. Codes that do
// not follow prefix+separator+digits report false.
func (r CodeRule) Sequence(prefix, code string) (int, bool) {
	head := prefix + r.Separator
	if !strings.HasPrefix(code, head) {
		return 0, false
	}
	tail := code[len(head):]
	if tail == "" {
		return 0, false
	}
	for _, c := range tail {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(tail)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ValidCustomCode reports whether a caller-supplied code is acceptable.
func ValidCustomCode(code string) bool {
	return customCodePattern.MatchString(code)
}

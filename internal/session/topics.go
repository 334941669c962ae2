package session

import (
	"fmt"
	"unicode/utf8"
)

// Topic suffixes under the per-node namespace.
const (
	suffixWill   = "/will"
	suffixCmd    = "/cmd"
	suffixStatus = "/status"
)

// Topics is the per-node topic namespace:
// <preamble><identity>/{will,cmd,status}.
type Topics struct {
	Will    string
	Command string
	Status  string
}

// NewTopics builds the namespace for identity. Each topic is bounded to
// maxLen bytes (no bound when maxLen <= 0) by shortening its suffix.
// It fails when the bound would cut into <preamble><identity> or leave
// two topics equal: a node subscribed to its own status topic would
// feed every status message back in as a command.
func NewTopics(preamble, identity string, maxLen int) (Topics, error) {
	base := preamble + identity
	if maxLen > 0 && len(base)+1 > maxLen {
		return Topics{}, fmt.Errorf("topic base %q does not fit in %d bytes", base, maxLen)
	}
	t := Topics{
		Will:    bounded(base+suffixWill, maxLen),
		Command: bounded(base+suffixCmd, maxLen),
		Status:  bounded(base+suffixStatus, maxLen),
	}
	if t.Will == t.Command || t.Command == t.Status || t.Will == t.Status {
		return Topics{}, fmt.Errorf("topics under %q are not distinct within %d bytes", base, maxLen)
	}
	return t, nil
}

// bounded cuts s to at most n bytes without splitting a rune.
func bounded(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

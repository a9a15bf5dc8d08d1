// Package cmdline assembles process argument lists.
package cmdline

import (
	"strings"
)

// ArgumentList is an ordered list of process arguments.
type ArgumentList struct {
	args []string
}

// Add appends args as-is.
func (a *ArgumentList) Add(args ...string) *ArgumentList {
	a.args = append(a.args, args...)
	return a
}

// AddTokenized splits s with Tokenize and appends the tokens.
func (a *ArgumentList) AddTokenized(s string) *ArgumentList {
	return a.Add(Tokenize(s)...)
}

// Prepend inserts args in front of the list.
func (a *ArgumentList) Prepend(args ...string) *ArgumentList {
	a.args = append(append([]string{}, args...), a.args...)
	return a
}

// Args returns a copy of the arguments.
func (a *ArgumentList) Args() []string {
	return append([]string(nil), a.args...)
}

// Len returns the number of arguments.
func (a *ArgumentList) Len() int {
	return len(a.args)
}

// String renders the list for the build log, double quoting arguments that
// contain whitespace or quotes.
func (a *ArgumentList) String() string {
	parts := make([]string, len(a.args))
	for i, arg := range a.args {
		if arg == "" || strings.ContainsAny(arg, " \t\r\n\"'") {
			parts[i] = `"` + strings.ReplaceAll(arg, `"`, `\"`) + `"`
		} else {
			parts[i] = arg
		}
	}
	return strings.Join(parts, " ")
}

// Tokenize splits a command line string into arguments. Whitespace separates
// arguments, single or double quotes group text and are removed, and inside
// double quotes a backslash escapes '"' or '\'.
func Tokenize(s string) []string {
	var args []string
	var current strings.Builder
	inToken := false
	var quoteChar rune

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		switch {
		case quoteChar != 0:
			if ch == quoteChar {
				quoteChar = 0
			} else if ch == '\\' && quoteChar == '"' && i+1 < len(runes) && (runes[i+1] == '"' || runes[i+1] == '\\') {
				i++
				current.WriteRune(runes[i])
			} else {
				current.WriteRune(ch)
			}
		case ch == '"' || ch == '\'':
			quoteChar = ch
			inToken = true
		case ch == ' ' || ch == '\t' || ch == '\r' || ch == '\n' || ch == '\f':
			if inToken {
				args = append(args, current.String())
				current.Reset()
				inToken = false
			}
		default:
			current.WriteRune(ch)
			inToken = true
		}
	}

	if inToken {
		args = append(args, current.String())
	}

	return args
}

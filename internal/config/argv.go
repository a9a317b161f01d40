package config

import (
	"fmt"
	"os"
	"strings"
	"unicode"
)

// parseArgv splits a shell-like command string into argv using the process
// environment for expansion.
func parseArgv(input string) ([]string, error) {
	return parseArgvEnv(input, os.LookupEnv)
}

// parseArgvEnv splits input into words. Single quotes are literal; double
// quotes and bare words expand $VAR and ${VAR}; a leading ~/ expands to
// $HOME; backslash escapes the next rune. Empty quoted words are kept. A
// leading # disables the command.
func parseArgvEnv(input string, lookup func(string) (string, bool)) ([]string, error) {
	input = strings.TrimSpace(input)
	if input == "" || strings.HasPrefix(input, "#") {
		return nil, nil
	}

	t := argvTokenizer{runes: []rune(input), lookup: lookup}
	for t.pos < len(t.runes) {
		r := t.runes[t.pos]
		t.pos++

		switch {
		case t.quote == '\'':
			if r == '\'' {
				t.quote = 0
				continue
			}
			t.word.WriteRune(r)
		case r == '\\':
			if t.pos >= len(t.runes) {
				return nil, fmt.Errorf("unterminated escape sequence in command: %q", input)
			}
			t.word.WriteRune(t.runes[t.pos])
			t.pos++
			t.started = true
		case t.quote == '"':
			if r == '"' {
				t.quote = 0
				continue
			}
			t.writeMaybeVar(r)
		case r == '\'' || r == '"':
			t.quote = r
			t.started = true
		case unicode.IsSpace(r):
			t.flush()
		case r == '~' && !t.started && (t.pos == len(t.runes) || t.runes[t.pos] == '/'):
			home, _ := lookup("HOME")
			t.word.WriteString(home)
			t.started = true
		default:
			t.writeMaybeVar(r)
		}
	}

	if t.quote != 0 {
		return nil, fmt.Errorf("unterminated quote in command: %q", input)
	}
	t.flush()
	return t.argv, nil
}

type argvTokenizer struct {
	runes   []rune
	pos     int
	lookup  func(string) (string, bool)
	argv    []string
	word    strings.Builder
	quote   rune
	started bool
}

func (t *argvTokenizer) flush() {
	if t.started || t.word.Len() > 0 {
		t.argv = append(t.argv, t.word.String())
	}
	t.word.Reset()
	t.started = false
}

// writeMaybeVar writes r, or the value of the variable it introduces.
func (t *argvTokenizer) writeMaybeVar(r rune) {
	t.started = true
	if r != '$' || t.pos >= len(t.runes) {
		t.word.WriteRune(r)
		return
	}

	braced := t.runes[t.pos] == '{'
	start := t.pos
	if braced {
		start++
	}
	end := start
	for end < len(t.runes) && isVarRune(t.runes[end], end == start) {
		end++
	}
	if end == start || (braced && (end >= len(t.runes) || t.runes[end] != '}')) {
		t.word.WriteRune(r)
		return
	}

	value, _ := t.lookup(string(t.runes[start:end]))
	t.word.WriteString(value)
	t.pos = end
	if braced {
		t.pos++
	}
}

func isVarRune(r rune, first bool) bool {
	if r == '_' || unicode.IsLetter(r) {
		return true
	}
	return !first && unicode.IsDigit(r)
}

func mustParseArgv(input string) []string {
	argv, err := parseArgv(input)
	if err != nil {
		panic(err)
	}
	return argv
}

package sanitizer

import (
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
)

type InputSanitizer interface {
	Sanitize(input string) string
}

type Config struct {
	AllowNewlines      bool
	ReplaceNewlineWith string
	// TabWidth expands tabs to that many spaces; zero drops them.
	TabWidth int
	// MaxRunes truncates the result; zero keeps everything.
	MaxRunes int
}

// TerminalSanitizer removes escape sequences and control characters so that
// remote output cannot move the cursor or restyle the terminal.
type TerminalSanitizer struct {
	config Config
}

func NewTerminalSanitizer(config Config) *TerminalSanitizer {
	return &TerminalSanitizer{config: config}
}

func DefaultConfig() Config {
	return Config{
		AllowNewlines: true,
		TabWidth:      4,
	}
}

// LogLineConfig keeps a step log line on one row.
func LogLineConfig() Config {
	return Config{
		AllowNewlines:      false,
		ReplaceNewlineWith: " ",
		TabWidth:           4,
	}
}

func (s *TerminalSanitizer) Sanitize(input string) string {
	if input == "" {
		return input
	}
	input = strings.ReplaceAll(input, "\r\n", "\n")
	if s.config.TabWidth > 0 {
		input = strings.ReplaceAll(input, "\t", strings.Repeat(" ", s.config.TabWidth))
	}
	rows := strings.Split(input, "\n")
	for i, row := range rows {
		rows[i] = stripControls(ansi.Strip(row))
	}
	sep := "\n"
	if !s.config.AllowNewlines {
		sep = s.config.ReplaceNewlineWith
	}
	out := strings.Join(rows, sep)
	if s.config.MaxRunes > 0 && utf8.RuneCountInString(out) > s.config.MaxRunes {
		out = string([]rune(out)[:s.config.MaxRunes])
	}
	return out
}

func stripControls(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for len(input) > 0 {
		r, size := utf8.DecodeRuneInString(input)
		input = input[size:]
		switch {
		case r == utf8.RuneError && size <= 1:
		case r < 32 || r == 127 || (r >= 0x80 && r < 0xa0):
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Lines sanitizes every line, reusing the input slice when nothing changes.
func Lines(s InputSanitizer, lines []string) []string {
	var out []string
	for i, line := range lines {
		clean := s.Sanitize(line)
		if out == nil && clean == line {
			continue
		}
		if out == nil {
			out = make([]string, len(lines))
			copy(out, lines[:i])
		}
		out[i] = clean
	}
	if out == nil {
		return lines
	}
	return out
}

type NopSanitizer struct{}

func NewNopSanitizer() *NopSanitizer {
	return &NopSanitizer{}
}

func (n *NopSanitizer) Sanitize(input string) string {
	return input
}

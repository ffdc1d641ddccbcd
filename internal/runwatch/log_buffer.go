package runwatch

import "strings"

// LogBuffer holds the log lines of one session in arrival order. Lines are
// only ever appended.
type LogBuffer struct {
	lines []string
}

func (b *LogBuffer) Append(line string) {
	b.lines = append(b.lines, line)
}

func (b *LogBuffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.lines)
}

// Lines returns the buffered lines without copying. The result must be
// treated as read-only; later appends never touch indexes below its length,
// and its capacity is capped so appending to it reallocates.
func (b *LogBuffer) Lines() []string {
	if b == nil || len(b.lines) == 0 {
		return nil
	}
	n := len(b.lines)
	return b.lines[:n:n]
}

// Since returns the lines appended after the first offset lines.
func (b *LogBuffer) Since(offset int) []string {
	lines := b.Lines()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(lines) {
		return nil
	}
	return lines[offset:]
}

func (b *LogBuffer) String() string {
	return strings.Join(b.Lines(), "\n")
}

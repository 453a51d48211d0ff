package streaming

import (
	"bufio"
	"io"
	"strings"
)

// rawEvent is one fully-assembled SSE event: a name and its (possibly
// multi-line) accumulated data payload.
type rawEvent struct {
	Name string
	Data string
}

// scanEvents reads r line by line, recognizing `event:` and `data:` fields
// and dispatching a rawEvent to emit on each blank line, per the SSE
// line-oriented framing in spec.md §4.9. It returns when r is exhausted or
// emit returns false (the caller is shutting down).
func scanEvents(r io.Reader, emit func(rawEvent) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var name string
	var data []string

	flush := func() bool {
		if name == "" && len(data) == 0 {
			return true
		}
		ok := emit(rawEvent{Name: name, Data: strings.Join(data, "\n")})
		name = ""
		data = nil
		return ok
	}

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if !flush() {
				return nil
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		default:
			// Unknown line shapes (comments, unrecognized fields) are ignored.
		}
	}

	flush()
	return scanner.Err()
}

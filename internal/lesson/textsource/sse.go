package textsource

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// streamSSE is a minimal SSE parser. It calls onEvent for each event with the
// joined data lines. Reaching EOF is not an error; callers decide whether the
// stream was complete.
func streamSSE(r io.Reader, onEvent func(event string, data string) error) error {
	br := bufio.NewReader(r)

	var (
		eventName string
		dataLines []string
	)

	flush := func() error {
		if len(dataLines) == 0 && eventName == "" {
			return nil
		}
		data := strings.Join(dataLines, "\n")
		ev := eventName
		eventName = ""
		dataLines = nil
		return onEvent(ev, data)
	}

	for {
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if ferr := flush(); ferr != nil {
				return ferr
			}
		} else if !strings.HasPrefix(line, ":") {
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				eventName = value
			case "data":
				dataLines = append(dataLines, value)
			}
		}

		if errors.Is(err, io.EOF) {
			return flush()
		}
	}
}

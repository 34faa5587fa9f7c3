package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// ReadEvents calls fn with the raw JSON of every event in r. Both the array
// form and the one-event-per-line form are accepted.
func ReadEvents(r io.Reader, fn func(raw json.RawMessage) error) error {
	br := bufio.NewReader(r)
	first, err := firstNonSpace(br)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		if _, err := dec.Token(); err != nil {
			return fmt.Errorf("failed to read event array: %w", err)
		}
		for dec.More() {
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return fmt.Errorf("failed to decode event: %w", err)
			}
			if err := fn(raw); err != nil {
				return err
			}
		}
		if _, err := dec.Token(); err != nil {
			return fmt.Errorf("failed to read end of event array: %w", err)
		}
		return nil
	}

	for {
		var raw json.RawMessage
		err := dec.Decode(&raw)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to decode event: %w", err)
		}
		if err := fn(raw); err != nil {
			return err
		}
	}
}

func firstNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

package replication

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DiffState is the content of a replication state file (state.txt).
type DiffState struct {
	Sequence int
	Time     time.Time
}

// state files escape the colons of the ISO timestamp
var stateUnescaper = strings.NewReplacer(`\:`, ":")

func parseState(r io.Reader) (DiffState, error) {
	state := DiffState{Sequence: -1}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "sequenceNumber":
			seq, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || seq < 0 {
				return state, errors.Errorf("invalid sequenceNumber %q", value)
			}
			state.Sequence = seq
		case "timestamp":
			ts, err := time.Parse("2006-01-02T15:04:05Z", stateUnescaper.Replace(strings.TrimSpace(value)))
			if err != nil {
				return state, errors.Wrapf(err, "invalid timestamp %q", value)
			}
			state.Time = ts
		}
	}
	if err := scanner.Err(); err != nil {
		return state, errors.Wrap(err, "reading state")
	}
	if state.Sequence < 0 {
		return state, errors.New("state without sequenceNumber")
	}
	return state, nil
}

package changes

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ReadCursor reads the last processed sequence ID from a sequence file.
func ReadCursor(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	seq, err := strconv.Atoi(s)
	if err != nil || seq < 0 {
		return 0, errors.Wrapf(ErrMalformedCursor, "%q in %s", s, path)
	}
	return seq, nil
}

// WriteCursor stores the last processed sequence ID, replacing any
// previous content. With an empty path the sequence is printed to stdout.
func WriteCursor(path string, seq int) error {
	if path == "" {
		fmt.Println(seq)
		return nil
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(seq)), 0644); err != nil {
		return errors.Wrapf(err, "writing sequence file %s", path)
	}
	return nil
}

package changes

import "github.com/pkg/errors"

var (
	// ErrInvalidStartSpec is returned for unusable start references, e.g.
	// negative sequence IDs, malformed dates or a missing start point.
	ErrInvalidStartSpec = errors.New("invalid start specification")

	// ErrNoReplicationInfo is returned when a start file contains neither
	// replication headers nor any object timestamp.
	ErrNoReplicationInfo = errors.New("no replication information in file")

	// ErrNoSequenceForDate is returned when the replication server has no
	// sequence covering the requested date.
	ErrNoSequenceForDate = errors.New("no sequence for date on server")

	// ErrConfigConflict is returned when an explicitly configured
	// replication URL contradicts the URL embedded in the start file.
	ErrConfigConflict = errors.New("conflicting replication server configuration")

	// ErrMalformedCursor is returned when a sequence file does not contain
	// a single non-negative integer.
	ErrMalformedCursor = errors.New("malformed sequence file")
)

package changes

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/omniscale/osm-get-changes/osc"
	"github.com/omniscale/osm-get-changes/replication"
)

// DiffServer is the part of the replication server client that start
// resolution and diff accumulation depend on.
type DiffServer interface {
	SequenceForTime(ctx context.Context, ts time.Time) (seq int, ok bool, err error)
	FetchDiff(ctx context.Context, seq int) (*replication.Batch, error)
}

var _ DiffServer = &replication.Server{}

type startKind int

const (
	startAtSequence startKind = iota
	startAtTime
	startFromFile
)

// StartSpec is a single start reference for the replication download:
// the sequence ID of the last processed diff, a date, or an existing OSM
// file to infer the start from.
type StartSpec struct {
	kind          startKind
	sequence      int
	time          time.Time
	path          string
	ignoreHeaders bool

	fileInfo *osc.FileInfo
}

// StartAtSequence starts after the given, already processed sequence ID.
func StartAtSequence(seq int) (*StartSpec, error) {
	if seq < 0 {
		return nil, errors.Wrapf(ErrInvalidStartSpec, "negative sequence ID %d", seq)
	}
	return &StartSpec{kind: startAtSequence, sequence: seq}, nil
}

// StartAtTime starts after the newest diff published at or before ts.
func StartAtTime(ts time.Time) *StartSpec {
	return &StartSpec{kind: startAtTime, time: ts.UTC()}
}

// StartFromFile starts after the replication state recorded in the headers
// of an existing OSM file, or, with ignoreHeaders or header-less files,
// after the newest object timestamp found in the file.
func StartFromFile(path string, ignoreHeaders bool) *StartSpec {
	return &StartSpec{kind: startFromFile, path: path, ignoreHeaders: ignoreHeaders}
}

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z$`)
var sequenceRe = regexp.MustCompile(`^\d+$`)

// ParseDate parses an ISO8601 UTC date (YYYY-MM-DDTHH:MM:SSZ).
func ParseDate(s string) (time.Time, error) {
	if !dateRe.MatchString(s) {
		return time.Time{}, errors.Wrapf(ErrInvalidStartSpec, "date %q not in YYYY-MM-DDTHH:MM:SSZ format", s)
	}
	ts, err := time.Parse("2006-01-02T15:04:05Z", s)
	if err != nil {
		return time.Time{}, errors.Wrapf(ErrInvalidStartSpec, "invalid date %q", s)
	}
	return ts, nil
}

// ParseStart parses a start reference that is either a sequence ID or an
// ISO8601 UTC date.
func ParseStart(s string) (*StartSpec, error) {
	if sequenceRe.MatchString(s) {
		seq, err := strconv.Atoi(s)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidStartSpec, "sequence ID %q", s)
		}
		return StartAtSequence(seq)
	}
	ts, err := ParseDate(s)
	if err != nil {
		return nil, err
	}
	return StartAtTime(ts), nil
}

func (s *StartSpec) loadFileInfo() (*osc.FileInfo, error) {
	if s.fileInfo != nil {
		return s.fileInfo, nil
	}
	info, err := osc.ReadFileInfo(s.path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading start file %s", s.path)
	}
	s.fileInfo = info
	return info, nil
}

// Source returns the replication URL embedded in the start file, or an
// empty string for non-file start specs and files without headers.
func (s *StartSpec) Source() (string, error) {
	if s.kind != startFromFile || s.ignoreHeaders {
		return "", nil
	}
	info, err := s.loadFileInfo()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

// Resolve turns the start reference into the first sequence ID to fetch,
// always one past the reference point. Only time based references contact
// the server.
func (s *StartSpec) Resolve(ctx context.Context, server DiffServer) (int, error) {
	switch s.kind {
	case startAtSequence:
		return s.sequence + 1, nil
	case startAtTime:
		return resolveTime(ctx, server, s.time)
	case startFromFile:
		info, err := s.loadFileInfo()
		if err != nil {
			return 0, err
		}
		if !s.ignoreHeaders {
			if info.Sequence >= 0 {
				return info.Sequence + 1, nil
			}
			if !info.Time.IsZero() {
				return resolveTime(ctx, server, info.Time)
			}
		}
		if info.NewestChange.IsZero() {
			return 0, errors.Wrapf(ErrNoReplicationInfo, "file %s", s.path)
		}
		return resolveTime(ctx, server, info.NewestChange)
	}
	return 0, errors.Wrap(ErrInvalidStartSpec, "unknown start kind")
}

func resolveTime(ctx context.Context, server DiffServer, ts time.Time) (int, error) {
	seq, ok, err := server.SequenceForTime(ctx, ts)
	if err != nil {
		return 0, errors.Wrapf(err, "resolving sequence for %s", ts.Format(time.RFC3339))
	}
	if !ok {
		return 0, errors.Wrapf(ErrNoSequenceForDate, "date %s", ts.Format(time.RFC3339))
	}
	return seq + 1, nil
}

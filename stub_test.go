package changes

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/omniscale/osm-get-changes/replication"
)

// stubServer implements DiffServer for tests. Unset callbacks fail the
// request, so tests also assert which server operations are used.
type stubServer struct {
	seqForTime func(ts time.Time) (int, bool, error)
	fetch      func(seq int) (*replication.Batch, error)

	fetched []int
}

func (s *stubServer) SequenceForTime(ctx context.Context, ts time.Time) (int, bool, error) {
	if s.seqForTime == nil {
		return 0, false, errors.New("unexpected SequenceForTime call")
	}
	return s.seqForTime(ts)
}

func (s *stubServer) FetchDiff(ctx context.Context, seq int) (*replication.Batch, error) {
	if s.fetch == nil {
		return nil, errors.New("unexpected FetchDiff call")
	}
	s.fetched = append(s.fetched, seq)
	return s.fetch(seq)
}

// Package replication implements a client for OSM replication (diff)
// servers: current state lookup, timestamp to sequence search and download
// of single replication diffs.
package replication

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	osm "github.com/omniscale/go-osm"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/omniscale/osm-get-changes/osc"
)

// ErrDiffNotFound is returned by FetchDiff when the server has not (yet)
// published a diff for the requested sequence.
var ErrDiffNotFound = errors.New("diff not found on replication server")

// errStateNotFound marks state files missing on the server, e.g. sequences
// older than the server's retention.
var errStateNotFound = errors.New("state not found on replication server")

// Batch is a single downloaded replication diff.
type Batch struct {
	// Sequence is the sequence ID this diff was fetched from.
	Sequence int
	// Changes are the change records in document order.
	Changes []osm.Diff
	// Size is the uncompressed size of the fetched payload in bytes.
	Size int64
}

// Server is a client for a single replication endpoint, e.g.
// https://planet.openstreetmap.org/replication/minute/
type Server struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

func New(url string) *Server {
	transport := &http.Transport{
		MaxIdleConns:    10,
		MaxConnsPerHost: 4,
		IdleConnTimeout: 90 * time.Second,
	}
	return &Server{
		baseURL: strings.TrimSuffix(url, "/"),
		client: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
		// the public replication endpoints are shared infrastructure,
		// keep the request rate moderate
		limiter: rate.NewLimiter(rate.Limit(4), 8),
	}
}

// seqPath returns the nested path of a sequence, e.g. 003/862/405.
func seqPath(seq int) string {
	s := fmt.Sprintf("%09d", seq)
	return s[0:3] + "/" + s[3:6] + "/" + s[6:9]
}

func (s *Server) get(ctx context.Context, path string) (*http.Response, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	url := s.baseURL + "/" + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "creating request for %s", url)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "requesting %s", url)
	}
	return resp, nil
}

// CurrentState returns the newest published state of the server.
func (s *Server) CurrentState(ctx context.Context) (DiffState, error) {
	resp, err := s.get(ctx, "state.txt")
	if err != nil {
		return DiffState{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return DiffState{}, errors.Errorf("unexpected status %s for %s/state.txt", resp.Status, s.baseURL)
	}
	state, err := parseState(resp.Body)
	if err != nil {
		return DiffState{}, errors.Wrapf(err, "parsing %s/state.txt", s.baseURL)
	}
	return state, nil
}

// CurrentSequence returns the newest published sequence ID (the frontier).
func (s *Server) CurrentSequence(ctx context.Context) (int, error) {
	state, err := s.CurrentState(ctx)
	if err != nil {
		return 0, err
	}
	return state.Sequence, nil
}

// StateAt returns the state of a single sequence.
func (s *Server) StateAt(ctx context.Context, seq int) (DiffState, error) {
	path := seqPath(seq) + ".state.txt"
	resp, err := s.get(ctx, path)
	if err != nil {
		return DiffState{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return DiffState{}, errors.Wrapf(errStateNotFound, "sequence %d", seq)
	}
	if resp.StatusCode != http.StatusOK {
		return DiffState{}, errors.Errorf("unexpected status %s for %s/%s", resp.Status, s.baseURL, path)
	}
	state, err := parseState(resp.Body)
	if err != nil {
		return DiffState{}, errors.Wrapf(err, "parsing state of sequence %d", seq)
	}
	return state, nil
}

// SequenceForTime searches the newest sequence with a state time at or
// before ts. Returns ok=false when ts is outside the published range,
// either before the retained history or after the newest state.
func (s *Server) SequenceForTime(ctx context.Context, ts time.Time) (int, bool, error) {
	current, err := s.CurrentState(ctx)
	if err != nil {
		return 0, false, err
	}
	if ts.After(current.Time) {
		return 0, false, nil
	}

	found := -1
	lo, hi := 0, current.Sequence
	for lo <= hi {
		mid := lo + (hi-lo)/2
		state, err := s.StateAt(ctx, mid)
		if errors.Cause(err) == errStateNotFound {
			// servers age out old sequences, treat missing states as
			// older than ts
			lo = mid + 1
			continue
		}
		if err != nil {
			return 0, false, err
		}
		if state.Time.After(ts) {
			hi = mid - 1
		} else {
			found = mid
			lo = mid + 1
		}
	}
	if found < 0 {
		return 0, false, nil
	}
	return found, true, nil
}

// FetchDiff downloads and parses a single replication diff. Returns
// ErrDiffNotFound when the server has no diff for this sequence.
func (s *Server) FetchDiff(ctx context.Context, seq int) (*Batch, error) {
	path := seqPath(seq) + ".osc.gz"
	resp, err := s.get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.Wrapf(ErrDiffNotFound, "sequence %d", seq)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status %s for %s/%s", resp.Status, s.baseURL, path)
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "reading gzip header of diff %d", seq)
	}
	data, err := io.ReadAll(gz)
	if err != nil {
		return nil, errors.Wrapf(err, "reading diff %d", seq)
	}
	changes, err := osc.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "parsing diff %d", seq)
	}
	return &Batch{Sequence: seq, Changes: changes, Size: int64(len(data))}, nil
}

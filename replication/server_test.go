package replication

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

func TestParseState(t *testing.T) {
	for _, tt := range []struct {
		name    string
		content string
		want    DiffState
		wantErr bool
	}{
		{
			name: "minute state",
			content: "#Fri Aug 29 10:04:02 UTC 2025\n" +
				"sequenceNumber=6398342\n" +
				"timestamp=2025-08-29T10\\:04\\:02Z\n",
			want: DiffState{
				Sequence: 6398342,
				Time:     time.Date(2025, 8, 29, 10, 4, 2, 0, time.UTC),
			},
		},
		{
			name:    "unescaped timestamp",
			content: "sequenceNumber=42\ntimestamp=2025-08-29T10:04:02Z\n",
			want: DiffState{
				Sequence: 42,
				Time:     time.Date(2025, 8, 29, 10, 4, 2, 0, time.UTC),
			},
		},
		{
			name:    "missing sequence",
			content: "timestamp=2025-08-29T10\\:04\\:02Z\n",
			wantErr: true,
		},
		{
			name:    "invalid sequence",
			content: "sequenceNumber=abc\n",
			wantErr: true,
		},
		{
			name:    "invalid timestamp",
			content: "sequenceNumber=42\ntimestamp=yesterday\n",
			wantErr: true,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseState(strings.NewReader(tt.content))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.Sequence != tt.want.Sequence || !got.Time.Equal(tt.want.Time) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSeqPath(t *testing.T) {
	for _, tt := range []struct {
		seq  int
		want string
	}{
		{0, "000/000/000"},
		{101, "000/000/101"},
		{3862405, "003/862/405"},
		{6398342, "006/398/342"},
	} {
		if got := seqPath(tt.seq); got != tt.want {
			t.Errorf("seqPath(%d) = %q, want %q", tt.seq, got, tt.want)
		}
	}
}

// testEndpoint serves state files for a contiguous range of sequences and
// gzip'd diffs, one hour between sequences. Sequences below lowest are
// missing, like on servers that age out old diffs.
type testEndpoint struct {
	lowest  int
	current int
	base    time.Time
	diffs   map[int]string
}

func (e *testEndpoint) stateTime(seq int) time.Time {
	return e.base.Add(time.Duration(seq) * time.Hour)
}

func (e *testEndpoint) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	writeState := func(w http.ResponseWriter, seq int) {
		ts := e.stateTime(seq).Format("2006-01-02T15:04:05Z")
		ts = strings.ReplaceAll(ts, ":", `\:`)
		fmt.Fprintf(w, "sequenceNumber=%d\ntimestamp=%s\n", seq, ts)
	}
	mux.HandleFunc("/state.txt", func(w http.ResponseWriter, r *http.Request) {
		writeState(w, e.current)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		for seq := e.lowest; seq <= e.current; seq++ {
			if r.URL.Path == "/"+seqPath(seq)+".state.txt" {
				writeState(w, seq)
				return
			}
		}
		for seq, doc := range e.diffs {
			if r.URL.Path == "/"+seqPath(seq)+".osc.gz" {
				gz := gzip.NewWriter(w)
				gz.Write([]byte(doc))
				gz.Close()
				return
			}
		}
		http.NotFound(w, r)
	})
	return mux
}

func TestCurrentSequence(t *testing.T) {
	e := &testEndpoint{lowest: 100, current: 110, base: time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)}
	ts := httptest.NewServer(e.handler(t))
	defer ts.Close()

	seq, err := New(ts.URL).CurrentSequence(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if seq != 110 {
		t.Errorf("current sequence %d, want 110", seq)
	}
}

func TestSequenceForTime(t *testing.T) {
	e := &testEndpoint{lowest: 100, current: 110, base: time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)}
	ts := httptest.NewServer(e.handler(t))
	defer ts.Close()
	server := New(ts.URL)
	// the binary search probes many states, no need to be polite to an
	// httptest server
	server.limiter = rate.NewLimiter(rate.Inf, 0)

	for _, tt := range []struct {
		name   string
		ts     time.Time
		want   int
		wantOK bool
	}{
		{name: "exact state time", ts: e.stateTime(105), want: 105, wantOK: true},
		{name: "between states", ts: e.stateTime(105).Add(30 * time.Minute), want: 105, wantOK: true},
		{name: "newest state", ts: e.stateTime(110), want: 110, wantOK: true},
		{name: "after frontier", ts: e.stateTime(110).Add(time.Second), wantOK: false},
		{name: "before retention", ts: e.stateTime(100).Add(-time.Second), wantOK: false},
		{name: "oldest retained", ts: e.stateTime(100), want: 100, wantOK: true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := server.SequenceForTime(context.Background(), tt.ts)
			if err != nil {
				t.Fatal(err)
			}
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("sequence %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFetchDiff(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<osmChange version="0.6" generator="test">
  <create>
    <node id="1" version="1" timestamp="2023-05-01T11:58:00Z" lat="53.1" lon="8.2"/>
    <node id="2" version="1" timestamp="2023-05-01T11:58:30Z" lat="53.2" lon="8.3"/>
  </create>
</osmChange>
`
	e := &testEndpoint{
		lowest: 100, current: 110,
		base:  time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC),
		diffs: map[int]string{105: doc},
	}
	ts := httptest.NewServer(e.handler(t))
	defer ts.Close()
	server := New(ts.URL)

	batch, err := server.FetchDiff(context.Background(), 105)
	if err != nil {
		t.Fatal(err)
	}
	if batch.Sequence != 105 {
		t.Errorf("batch sequence %d, want 105", batch.Sequence)
	}
	if len(batch.Changes) != 2 {
		t.Errorf("batch has %d changes, want 2", len(batch.Changes))
	}
	if batch.Size != int64(len(doc)) {
		t.Errorf("batch size %d, want uncompressed size %d", batch.Size, len(doc))
	}

	_, err = server.FetchDiff(context.Background(), 111)
	if errors.Cause(err) != ErrDiffNotFound {
		t.Errorf("got error %v, want ErrDiffNotFound", err)
	}
}

func TestFetchDiffTransportError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	_, err := New(ts.URL).FetchDiff(context.Background(), 105)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Cause(err) == ErrDiffNotFound {
		t.Error("server error misclassified as missing diff")
	}
}

func TestFetchDiffBadGzip(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("not gzip"), 3))
	}))
	defer ts.Close()

	_, err := New(ts.URL).FetchDiff(context.Background(), 105)
	if err == nil {
		t.Fatal("expected error for invalid gzip data")
	}
}

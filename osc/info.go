package osc

import (
	"encoding/xml"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// FileInfo describes the replication state embedded in, or derivable from,
// an existing OSM data or change file.
type FileInfo struct {
	// URL is the replication base URL from the file headers, if any.
	URL string
	// Sequence is the replication sequence from the file headers, -1 if
	// the file carries none.
	Sequence int
	// Time is the replication timestamp from the file headers.
	Time time.Time
	// NewestChange is the timestamp of the most recently edited object in
	// the file, zero if no object carries a timestamp.
	NewestChange time.Time
}

// ReadFileInfo scans an .osm/.osc file for replication headers
// (osmosis_replication_* attributes on the root element) and for the
// newest object timestamp.
func ReadFileInfo(filename string) (*FileInfo, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := fileReader(f, filename)
	if err != nil {
		return nil, err
	}

	info := &FileInfo{Sequence: -1}
	dec := xml.NewDecoder(r)
	root := true
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", filename)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if root {
			root = false
			headerAttrs(start, info)
			continue
		}
		switch start.Name.Local {
		case "node", "way", "relation":
			e := xmlElem{}
			if err := dec.DecodeElement(&e, &start); err != nil {
				return nil, errors.Wrapf(err, "decoding %s in %s", start.Name.Local, filename)
			}
			if e.Timestamp == "" {
				continue
			}
			ts, err := time.Parse(timeFormat, e.Timestamp)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing timestamp of %s %d in %s", start.Name.Local, e.ID, filename)
			}
			if ts.After(info.NewestChange) {
				info.NewestChange = ts
			}
		}
	}
	return info, nil
}

// headerAttrs records the osmosis_replication_* headers. Malformed values
// are ignored, the file is then treated as carrying no usable metadata and
// the caller falls back to the newest object timestamp.
func headerAttrs(start xml.StartElement, info *FileInfo) {
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "osmosis_replication_base_url":
			info.URL = attr.Value
		case "osmosis_replication_sequence_number":
			seq, err := strconv.Atoi(attr.Value)
			if err != nil || seq < 0 {
				log.Printf("warning: ignoring invalid replication sequence %q", attr.Value)
				continue
			}
			info.Sequence = seq
		case "osmosis_replication_timestamp":
			ts, err := time.Parse(timeFormat, attr.Value)
			if err != nil {
				log.Printf("warning: ignoring invalid replication timestamp %q", attr.Value)
				continue
			}
			info.Time = ts
		}
	}
}

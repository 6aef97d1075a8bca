// Package osc reads and writes OSM change files (osmChange XML), plain or
// gzip compressed.
package osc

import (
	"encoding/xml"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	osm "github.com/omniscale/go-osm"
	"github.com/pkg/errors"
)

const timeFormat = "2006-01-02T15:04:05Z"

type xmlTag struct {
	K string `xml:"k,attr"`
	V string `xml:"v,attr"`
}

type xmlNd struct {
	Ref int64 `xml:"ref,attr"`
}

type xmlMember struct {
	Type string `xml:"type,attr"`
	Ref  int64  `xml:"ref,attr"`
	Role string `xml:"role,attr"`
}

type xmlElem struct {
	ID        int64       `xml:"id,attr"`
	Lat       float64     `xml:"lat,attr"`
	Lon       float64     `xml:"lon,attr"`
	Version   int32       `xml:"version,attr"`
	Timestamp string      `xml:"timestamp,attr"`
	Changeset int64       `xml:"changeset,attr"`
	UID       int32       `xml:"uid,attr"`
	User      string      `xml:"user,attr"`
	Tags      []xmlTag    `xml:"tag"`
	Nds       []xmlNd     `xml:"nd"`
	Members   []xmlMember `xml:"member"`
}

func (e *xmlElem) diff(name string, create, modify, del bool) (osm.Diff, error) {
	md := &osm.Metadata{
		UserID:    e.UID,
		UserName:  e.User,
		Version:   e.Version,
		Changeset: e.Changeset,
	}
	if e.Timestamp != "" {
		ts, err := time.Parse(timeFormat, e.Timestamp)
		if err != nil {
			return osm.Diff{}, errors.Wrapf(err, "parsing timestamp of %s %d", name, e.ID)
		}
		md.Timestamp = ts
	}

	elem := osm.Element{ID: e.ID, Metadata: md}
	if len(e.Tags) > 0 {
		tags := make(osm.Tags, len(e.Tags))
		for _, t := range e.Tags {
			tags[t.K] = t.V
		}
		elem.Tags = tags
	}

	d := osm.Diff{Create: create, Modify: modify, Delete: del}
	switch name {
	case "node":
		d.Node = &osm.Node{Element: elem, Long: e.Lon, Lat: e.Lat}
	case "way":
		refs := make([]int64, 0, len(e.Nds))
		for _, nd := range e.Nds {
			refs = append(refs, nd.Ref)
		}
		d.Way = &osm.Way{Element: elem, Refs: refs}
	case "relation":
		members := make([]osm.Member, 0, len(e.Members))
		for _, m := range e.Members {
			var mt osm.MemberType
			switch m.Type {
			case "node":
				mt = osm.NodeMember
			case "way":
				mt = osm.WayMember
			case "relation":
				mt = osm.RelationMember
			default:
				return osm.Diff{}, errors.Errorf("unknown member type %q in relation %d", m.Type, e.ID)
			}
			members = append(members, osm.Member{ID: m.Ref, Type: mt, Role: m.Role})
		}
		d.Rel = &osm.Relation{Element: elem, Members: members}
	}
	return d, nil
}

// Parse reads an osmChange document into a list of diff elements. Elements
// outside of <create>/<modify>/<delete> blocks (plain .osm data) are
// reported as created.
func Parse(r io.Reader) ([]osm.Diff, error) {
	dec := xml.NewDecoder(r)
	var diffs []osm.Diff
	var modify, del bool

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "reading change file")
		}
		if end, ok := tok.(xml.EndElement); ok {
			switch end.Name.Local {
			case "create", "modify", "delete":
				modify, del = false, false
			}
			continue
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "create":
			modify, del = false, false
		case "modify":
			modify, del = true, false
		case "delete":
			modify, del = false, true
		case "node", "way", "relation":
			e := xmlElem{}
			if err := dec.DecodeElement(&e, &start); err != nil {
				return nil, errors.Wrapf(err, "decoding %s", start.Name.Local)
			}
			d, err := e.diff(start.Name.Local, !modify && !del, modify, del)
			if err != nil {
				return nil, err
			}
			diffs = append(diffs, d)
		}
	}
	return diffs, nil
}

// ParseFile parses an .osc/.osm file, decompressing if the filename ends
// in .gz.
func ParseFile(filename string) ([]osm.Diff, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := fileReader(f, filename)
	if err != nil {
		return nil, err
	}
	diffs, err := Parse(r)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", filename)
	}
	return diffs, nil
}

func fileReader(f *os.File, filename string) (io.Reader, error) {
	if !strings.HasSuffix(filename, ".gz") {
		return f, nil
	}
	r, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading gzip header of %s", filename)
	}
	return r, nil
}

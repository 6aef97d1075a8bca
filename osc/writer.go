package osc

import (
	"encoding/xml"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	osm "github.com/omniscale/go-osm"
	"github.com/pkg/errors"
)

type xmlNodeOut struct {
	XMLName   xml.Name `xml:"node"`
	ID        int64    `xml:"id,attr"`
	Version   int32    `xml:"version,attr"`
	Timestamp string   `xml:"timestamp,attr,omitempty"`
	UID       int32    `xml:"uid,attr,omitempty"`
	User      string   `xml:"user,attr,omitempty"`
	Changeset int64    `xml:"changeset,attr,omitempty"`
	Lat       float64  `xml:"lat,attr"`
	Lon       float64  `xml:"lon,attr"`
	Tags      []xmlTag `xml:"tag"`
}

type xmlWayOut struct {
	XMLName   xml.Name `xml:"way"`
	ID        int64    `xml:"id,attr"`
	Version   int32    `xml:"version,attr"`
	Timestamp string   `xml:"timestamp,attr,omitempty"`
	UID       int32    `xml:"uid,attr,omitempty"`
	User      string   `xml:"user,attr,omitempty"`
	Changeset int64    `xml:"changeset,attr,omitempty"`
	Nds       []xmlNd  `xml:"nd"`
	Tags      []xmlTag `xml:"tag"`
}

type xmlRelOut struct {
	XMLName   xml.Name    `xml:"relation"`
	ID        int64       `xml:"id,attr"`
	Version   int32       `xml:"version,attr"`
	Timestamp string      `xml:"timestamp,attr,omitempty"`
	UID       int32       `xml:"uid,attr,omitempty"`
	User      string      `xml:"user,attr,omitempty"`
	Changeset int64       `xml:"changeset,attr,omitempty"`
	Members   []xmlMember `xml:"member"`
	Tags      []xmlTag    `xml:"tag"`
}

func outTags(tags osm.Tags) []xmlTag {
	if len(tags) == 0 {
		return nil
	}
	out := make([]xmlTag, 0, len(tags))
	for k, v := range tags {
		out = append(out, xmlTag{K: k, V: v})
	}
	return out
}

func outMeta(md *osm.Metadata) (version int32, timestamp string, uid int32, user string, changeset int64) {
	if md == nil {
		return 0, "", 0, "", 0
	}
	ts := ""
	if !md.Timestamp.IsZero() {
		ts = md.Timestamp.UTC().Format(timeFormat)
	}
	return md.Version, ts, md.UserID, md.UserName, md.Changeset
}

func action(d osm.Diff) string {
	// same precedence as the change import: modify before create/delete
	if d.Modify {
		return "modify"
	}
	if d.Delete {
		return "delete"
	}
	return "create"
}

// Write serializes diff elements as an osmChange document. Consecutive
// elements with the same action are grouped into a single
// <create>/<modify>/<delete> block.
func Write(w io.Writer, diffs []osm.Diff) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")

	root := xml.StartElement{
		Name: xml.Name{Local: "osmChange"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "version"}, Value: "0.6"},
			{Name: xml.Name{Local: "generator"}, Value: "osm-get-changes"},
		},
	}
	if err := enc.EncodeToken(root); err != nil {
		return err
	}

	open := ""
	for _, d := range diffs {
		act := action(d)
		if act != open {
			if open != "" {
				if err := enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: open}}); err != nil {
					return err
				}
			}
			if err := enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: act}}); err != nil {
				return err
			}
			open = act
		}
		if err := encodeElem(enc, d); err != nil {
			return err
		}
	}
	if open != "" {
		if err := enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: open}}); err != nil {
			return err
		}
	}
	if err := enc.EncodeToken(xml.EndElement{Name: root.Name}); err != nil {
		return err
	}
	return enc.Flush()
}

func encodeElem(enc *xml.Encoder, d osm.Diff) error {
	switch {
	case d.Node != nil:
		version, ts, uid, user, changeset := outMeta(d.Node.Metadata)
		return enc.Encode(xmlNodeOut{
			ID: d.Node.ID, Version: version, Timestamp: ts, UID: uid,
			User: user, Changeset: changeset,
			Lat: d.Node.Lat, Lon: d.Node.Long,
			Tags: outTags(d.Node.Tags),
		})
	case d.Way != nil:
		version, ts, uid, user, changeset := outMeta(d.Way.Metadata)
		nds := make([]xmlNd, 0, len(d.Way.Refs))
		for _, ref := range d.Way.Refs {
			nds = append(nds, xmlNd{Ref: ref})
		}
		return enc.Encode(xmlWayOut{
			ID: d.Way.ID, Version: version, Timestamp: ts, UID: uid,
			User: user, Changeset: changeset,
			Nds: nds, Tags: outTags(d.Way.Tags),
		})
	case d.Rel != nil:
		version, ts, uid, user, changeset := outMeta(d.Rel.Metadata)
		members := make([]xmlMember, 0, len(d.Rel.Members))
		for _, m := range d.Rel.Members {
			mt := ""
			switch m.Type {
			case osm.NodeMember:
				mt = "node"
			case osm.WayMember:
				mt = "way"
			case osm.RelationMember:
				mt = "relation"
			}
			members = append(members, xmlMember{Type: mt, Ref: m.ID, Role: m.Role})
		}
		return enc.Encode(xmlRelOut{
			ID: d.Rel.ID, Version: version, Timestamp: ts, UID: uid,
			User: user, Changeset: changeset,
			Members: members, Tags: outTags(d.Rel.Tags),
		})
	}
	return errors.New("diff element without node, way or relation")
}

// WriteFile writes an osmChange file, gzip compressed if the filename ends
// in .gz. The file is written to a temporary file first and only renamed
// into place after a complete, successful write.
func WriteFile(filename string, diffs []osm.Diff) error {
	tmp, err := os.CreateTemp(filepath.Dir(filename), filepath.Base(filename)+".tmp")
	if err != nil {
		return errors.Wrapf(err, "creating temporary file for %s", filename)
	}
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	var w io.Writer = tmp
	var gz *gzip.Writer
	if strings.HasSuffix(filename, ".gz") {
		gz = gzip.NewWriter(tmp)
		w = gz
	}

	if err := Write(w, diffs); err != nil {
		return errors.Wrapf(err, "writing %s", filename)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return errors.Wrapf(err, "writing %s", filename)
		}
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "writing %s", filename)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return errors.Wrapf(err, "renaming %s into place", filename)
	}
	tmp = nil
	return nil
}

package osc

import (
	"bytes"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/kr/pretty"
	osm "github.com/omniscale/go-osm"
)

func TestWriteGroupsActions(t *testing.T) {
	md := &osm.Metadata{Version: 1, Timestamp: time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)}
	diffs := []osm.Diff{
		{Create: true, Node: &osm.Node{Element: osm.Element{ID: 1, Metadata: md}, Long: 8.2, Lat: 53.1}},
		{Create: true, Node: &osm.Node{Element: osm.Element{ID: 2, Metadata: md}, Long: 8.3, Lat: 53.2}},
		{Modify: true, Way: &osm.Way{Element: osm.Element{ID: 3, Metadata: md}, Refs: []int64{1, 2}}},
		{Delete: true, Node: &osm.Node{Element: osm.Element{ID: 4, Metadata: md}}},
	}

	buf := &bytes.Buffer{}
	if err := Write(buf, diffs); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	// consecutive creates share one block
	if strings.Count(out, "<create>") != 1 {
		t.Errorf("expected a single <create> block in:\n%s", out)
	}
	if strings.Count(out, "<modify>") != 1 || strings.Count(out, "<delete>") != 1 {
		t.Errorf("expected one <modify> and one <delete> block in:\n%s", out)
	}
	if !strings.Contains(out, `<osmChange version="0.6"`) {
		t.Errorf("missing osmChange root in:\n%s", out)
	}
}

func TestWriteFileRoundtrip(t *testing.T) {
	diffs := []osm.Diff{
		{
			Create: true,
			Node: &osm.Node{
				Element: osm.Element{
					ID:   100,
					Tags: osm.Tags{"amenity": "cafe"},
					Metadata: &osm.Metadata{
						UserID: 7, UserName: "alice", Version: 1, Changeset: 5,
						Timestamp: time.Date(2023, 5, 1, 11, 58, 0, 0, time.UTC),
					},
				},
				Long: 8.2, Lat: 53.1,
			},
		},
		{
			Modify: true,
			Rel: &osm.Relation{
				Element: osm.Element{
					ID: 300,
					Metadata: &osm.Metadata{
						UserID: 8, UserName: "bob", Version: 2, Changeset: 4900000000,
						Timestamp: time.Date(2023, 5, 1, 11, 59, 0, 0, time.UTC),
					},
				},
				Members: []osm.Member{
					{ID: 200, Type: osm.WayMember, Role: "outer"},
				},
			},
		},
	}

	for _, name := range []string{"roundtrip.osc", "roundtrip.osc.gz"} {
		t.Run(name, func(t *testing.T) {
			fname := filepath.Join(t.TempDir(), name)
			if err := WriteFile(fname, diffs); err != nil {
				t.Fatal(err)
			}
			got, err := ParseFile(fname)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, diffs) {
				t.Errorf("roundtrip mismatch:\n%s", strings.Join(pretty.Diff(got, diffs), "\n"))
			}
		})
	}
}

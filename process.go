package changes

import (
	"context"
	"log"
	"os"

	"github.com/pkg/errors"

	"github.com/omniscale/osm-get-changes/osc"
	"github.com/omniscale/osm-get-changes/replication"
)

// Run resolves the configured start point, downloads and merges
// replication diffs until the size limit or the newest published diff is
// reached, writes the merged change file and commits the reached sequence
// ID to the sequence file.
//
// The sequence file is only written after a fully successful run. It is
// also rewritten when no new diff was available, with the unchanged
// sequence ID; a run at the server frontier is a successful no-op.
//
// Without a configured outfile nothing is downloaded, only the resolved
// start sequence is written to the sequence file or stdout.
func Run(config *Config) error {
	ctx := context.Background()

	spec, err := startSpec(config)
	if err != nil {
		return err
	}

	url := config.URL
	src, err := spec.Source()
	if err != nil {
		return err
	}
	if src != "" && src != url {
		if config.URLExplicit && !config.ForceURL {
			return errors.Wrapf(ErrConfigConflict,
				"configured replication URL %s does not match %s from start file %s",
				config.URL, src, spec.path)
		}
		if !config.URLExplicit {
			log.Printf("info: using replication URL %s from %s", src, spec.path)
			url = src
		}
	}

	server := replication.New(url)

	seq, err := spec.Resolve(ctx, server)
	if err != nil {
		return err
	}
	log.Printf("info: starting at sequence %d", seq)

	if config.OutFile == "" {
		return WriteCursor(config.SequenceFile, seq)
	}

	acc, endSeq, err := Accumulate(ctx, server, seq, AccumulateOptions{
		MaxBytes:    int64(config.MaxSize) * 1024 * 1024,
		Deduplicate: config.Deduplicate,
		LimitTo:     config.LimitTo,
	})
	if err != nil {
		return err
	}

	if acc == nil {
		log.Printf("info: no new diffs on server, still at sequence %d", endSeq)
	} else {
		log.Printf("info: merged %d changes from sequences %d-%d (%d bytes)",
			len(acc.Changes), seq, acc.LastSequence, acc.Size)
		if err := osc.WriteFile(config.OutFile, acc.Changes); err != nil {
			return err
		}
	}

	return WriteCursor(config.SequenceFile, endSeq)
}

// startSpec selects the start reference: explicit flags first, the
// sequence file as fallback.
func startSpec(config *Config) (*StartSpec, error) {
	n := 0
	if config.StartFile != "" {
		n++
	}
	if !config.StartDate.IsZero() {
		n++
	}
	if config.StartSequence >= 0 {
		n++
	}
	if n > 1 {
		return nil, errors.Wrap(ErrInvalidStartSpec, "multiple start points given")
	}

	switch {
	case config.StartFile != "":
		return StartFromFile(config.StartFile, config.IgnoreHeaders), nil
	case !config.StartDate.IsZero():
		return StartAtTime(config.StartDate), nil
	case config.StartSequence >= 0:
		return StartAtSequence(config.StartSequence)
	}

	if config.SequenceFile == "" {
		return nil, errors.Wrap(ErrInvalidStartSpec, "no start point given and no sequence file configured")
	}
	seq, err := ReadCursor(config.SequenceFile)
	if os.IsNotExist(errors.Cause(err)) {
		return nil, errors.Wrapf(ErrInvalidStartSpec, "no start point given and sequence file %s does not exist", config.SequenceFile)
	}
	if err != nil {
		return nil, err
	}
	return StartAtSequence(seq)
}

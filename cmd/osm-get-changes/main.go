package main

import (
	"flag"
	"fmt"
	"log"

	"comail.io/go/colog"
	changes "github.com/omniscale/osm-get-changes"
)

func main() {
	colog.Register()

	configFilename := flag.String("config", "", "configuration file")
	verbose := flag.Bool("verbose", false, "show current progress, otherwise only errors are shown")
	version := flag.Bool("version", false, "print version and exit")

	startID := flag.Int("start-id", -1, "sequence ID of the last already processed diff")
	startDate := flag.String("start-date", "", "date of the last already processed change (YYYY-MM-DDTHH:MM:SSZ)")
	startFile := flag.String("start-osm-data", "", "take the start point from an existing OSM file")
	ignoreHeaders := flag.Bool("ignore-osm-headers", false, "ignore replication headers in the start file, use the newest object timestamp instead")

	server := flag.String("server", "", "replication server base URL")
	forceURL := flag.Bool("force-url", false, "use -server even if the start file points to a different replication server")
	size := flag.Int("size", 0, "maximum size of the merged diffs in MB")
	seqFile := flag.String("seq-file", "", "file to read and store the sequence ID")
	outFile := flag.String("outfile", "", "write the merged diffs to this file (.osc or .osc.gz)")
	noDedup := flag.Bool("no-deduplicate", false, "keep all versions of changed objects, do not sort")
	var bbox changes.LimitTo
	flag.Var(&bbox, "bbox", "only keep changes inside this bbox (minlong,minlat,maxlong,maxlat)")

	flag.Parse()

	if *verbose {
		colog.SetMinLevel(colog.LInfo)
	} else {
		colog.SetMinLevel(colog.LWarning)
	}

	if *version {
		fmt.Println("osm-get-changes", changes.Version)
		return
	}

	config := changes.DefaultConfig
	if *configFilename != "" {
		conf, err := changes.LoadConfig(*configFilename)
		if err != nil {
			log.Fatalf("error: %s", err)
		}
		config = *conf
	}

	if *server != "" {
		config.URL = *server
		config.URLExplicit = true
	}
	if *size > 0 {
		config.MaxSize = *size
	}
	if *seqFile != "" {
		config.SequenceFile = *seqFile
	}
	if *outFile != "" {
		config.OutFile = *outFile
	}
	if *noDedup {
		config.Deduplicate = false
	}
	config.StartSequence = *startID
	config.StartFile = *startFile
	config.IgnoreHeaders = *ignoreHeaders
	config.ForceURL = *forceURL
	if *startDate != "" {
		ts, err := changes.ParseDate(*startDate)
		if err != nil {
			log.Fatalf("error: %s", err)
		}
		config.StartDate = ts
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "bbox" {
			config.LimitTo = &bbox
		}
	})

	if err := changes.Run(&config); err != nil {
		log.Fatalf("error: %+v", err)
	}
}

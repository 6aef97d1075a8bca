package changes

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
)

type Config struct {
	URL          string   `json:"replication_url"`
	MaxSize      int      `json:"max_size"`
	SequenceFile string   `json:"sequence_file"`
	OutFile      string   `json:"outfile"`
	Deduplicate  bool     `json:"deduplicate"`
	LimitTo      *LimitTo `json:"changes_bbox"`

	// Start selection and overrides, set from command line flags.
	StartSequence int       `json:"-"`
	StartDate     time.Time `json:"-"`
	StartFile     string    `json:"-"`
	IgnoreHeaders bool      `json:"-"`
	// URLExplicit marks URL as explicitly configured, as opposed to the
	// built-in default. Required for the conflict check against
	// replication URLs embedded in start files.
	URLExplicit bool `json:"-"`
	// ForceURL uses the configured URL even if the start file points to a
	// different replication server.
	ForceURL bool `json:"-"`
}

var DefaultConfig = Config{
	URL:           "https://planet.openstreetmap.org/replication/minute/",
	MaxSize:       100,
	Deduplicate:   true,
	StartSequence: -1,
}

func LoadConfig(filename string) (*Config, error) {
	conf := Config(DefaultConfig)

	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(b, &conf); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", filename)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", filename)
	}
	if _, ok := raw["replication_url"]; ok {
		conf.URLExplicit = true
	}

	if conf.URL == "" {
		return nil, errors.New("missing replication_url option")
	}

	if conf.MaxSize <= 0 {
		return nil, errors.New("max_size must be positive")
	}

	return &conf, nil
}

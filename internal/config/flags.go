package config

// This file implements CLI flag parsing. Flags are applied after the file
// and environment layers, and only when explicitly passed, so lower layers
// keep their values unless overridden on the command line.

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"iptvmerge/internal/aggregator"
	"iptvmerge/internal/dedupe"
	"iptvmerge/internal/prober"
)

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// flagValues holds raw flag values until the config layers are loaded.
type flagValues struct {
	configFile  string
	output      string
	sources     stringList
	dedupKey    string
	concurrency int
	timeout     time.Duration
	tlsMode     string
	sample      int
	unknown     string
	keepSkipped bool
	retries     int
	perHost     int
	runTimeout  time.Duration
	interval    time.Duration
	dbDriver    string
	dbURL       string
	httpPort    string
}

// ParseFlags parses args (without the program name), loads the file and
// environment layers and applies explicitly passed flags on top. Positional
// arguments are source URLs and replace the configured list.
func ParseFlags(args []string, stderr io.Writer) (*Config, error) {
	fs := flag.NewFlagSet("iptvmerge", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: iptvmerge [flags] [source-url ...]")
		fs.PrintDefaults()
	}

	var f flagValues
	fs.StringVar(&f.configFile, "config", os.Getenv("CONFIG_FILE"), "YAML config file")
	fs.StringVar(&f.output, "o", "", "Output playlist path")
	fs.Var(&f.sources, "source", "Source playlist URL (repeatable)")
	fs.StringVar(&f.dedupKey, "dedup", "", "Dedup key: endpoint | pair")
	fs.IntVar(&f.concurrency, "concurrency", 0, "Number of probe workers")
	fs.DurationVar(&f.timeout, "timeout", 0, "Per-probe timeout")
	fs.StringVar(&f.tlsMode, "tls", "", "TLS failure handling: strict | lenient")
	fs.IntVar(&f.sample, "sample", 0, "Probe only the first and last N endpoints (0 = all)")
	fs.StringVar(&f.unknown, "unknown", "", "Inconclusive probes: keep | discard")
	fs.BoolVar(&f.keepSkipped, "keep-skipped", true, "Keep skip-listed endpoints")
	fs.IntVar(&f.retries, "retries", 0, "Extra probe rounds over dead and unknown endpoints")
	fs.IntVar(&f.perHost, "per-host", 0, "Max in-flight probes per host (0 = unlimited)")
	fs.DurationVar(&f.runTimeout, "run-timeout", 0, "Deadline for a whole run (0 = none)")
	fs.DurationVar(&f.interval, "interval", 0, "Repeat the run at this interval (0 = run once)")
	fs.StringVar(&f.dbDriver, "db", "", "Run history store: sqlite | postgres | none")
	fs.StringVar(&f.dbURL, "db-url", "", "Database file or connection string")
	fs.StringVar(&f.httpPort, "http", "", "Serve the history API on this port")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := Load(f.configFile)
	if err != nil {
		return nil, err
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "o":
			cfg.OutputFile = f.output
		case "source":
			cfg.Sources = append([]string(nil), f.sources...)
		case "dedup":
			cfg.DedupKey = dedupe.KeyMode(f.dedupKey)
		case "concurrency":
			cfg.MaxConcurrency = f.concurrency
		case "timeout":
			cfg.HTTPTimeout = f.timeout
		case "tls":
			cfg.TLSMode = prober.TLSMode(f.tlsMode)
		case "sample":
			cfg.SampleSize = f.sample
		case "unknown":
			cfg.UnknownPolicy = aggregator.UnknownPolicy(f.unknown)
		case "keep-skipped":
			cfg.KeepSkipped = f.keepSkipped
		case "retries":
			cfg.RetryRounds = f.retries
		case "per-host":
			cfg.PerHostLimit = f.perHost
		case "run-timeout":
			cfg.RunTimeout = f.runTimeout
		case "interval":
			cfg.RunInterval = f.interval
		case "db":
			cfg.DatabaseDriver = f.dbDriver
		case "db-url":
			cfg.DatabaseURL = f.dbURL
		case "http":
			cfg.HTTPPort = f.httpPort
		}
	})
	if fs.NArg() > 0 {
		cfg.Sources = append([]string(nil), fs.Args()...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

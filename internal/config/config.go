// Package config loads the YAML configuration file that drives
// cuckoocached, with CLI flags (via pflag) overriding individual
// fields at startup.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/salviati/cuckoocache/internal/cuckoo"
	"github.com/salviati/cuckoocache/internal/server"
)

// Config is the full set of knobs accepted in the YAML config file.
// Field names mirror the on-disk keys via yaml tags; Load starts from
// Defaults and decodes the file over it, the same struct-of-knobs shape the
// cuckoo table itself uses rather than a fluent builder.
type Config struct {
	Daemonize   bool   `yaml:"daemonize"`
	PIDFilename string `yaml:"pid_filename"`

	LogName  string `yaml:"log_name"` // "" or "-" means stderr
	LogLevel string `yaml:"log_level"`

	ServerHost string `yaml:"server_host"`
	ServerPort int    `yaml:"server_port"`

	TCPBacklog  int `yaml:"tcp_backlog"`
	TCPPoolsize int `yaml:"tcp_poolsize"` // per-worker connection cap
	// WorkerCount is a supplement beyond spec.md's named configuration
	// surface: the spec names W workers in its topology (§4.3/§7) but
	// never ties the count to a config key, so it is exposed here
	// rather than hardcoded.
	WorkerCount int `yaml:"worker_count"`

	BufInitSize     int `yaml:"buf_init_size"`
	BufSockPoolsize int `yaml:"buf_sock_poolsize"`

	RingArrayCap int `yaml:"ring_array_cap"`

	// IdleTimeoutSecs supplements spec.md §5's idle-timeout behavior
	// with the knob that drives it; 0 disables idle eviction.
	IdleTimeoutSecs uint32 `yaml:"idle_timeout_secs"`

	CuckooItemSize int    `yaml:"cuckoo_item_size"`
	CuckooNItem    int    `yaml:"cuckoo_nitem"`
	CuckooPolicy   string `yaml:"cuckoo_policy"` // "random" or "expire_first"
	CuckooItemCAS  bool   `yaml:"cuckoo_item_cas"`

	ArrayNelemDelta int `yaml:"array_nelem_delta"`
	RequestPoolsize int `yaml:"request_poolsize"`

	MetricsAddr string `yaml:"metrics_addr"`
}

// Defaults returns the configuration memcached-compatible deployments
// expect out of the box.
func Defaults() Config {
	return Config{
		LogName:         "-",
		LogLevel:        "info",
		ServerHost:      "0.0.0.0",
		ServerPort:      11211,
		TCPBacklog:      1024,
		TCPPoolsize:     1024,
		WorkerCount:     4,
		BufInitSize:     4096,
		BufSockPoolsize: 64,
		RingArrayCap:    1024,
		IdleTimeoutSecs: 120,
		CuckooItemSize:  1024,
		CuckooNItem:     1 << 20,
		CuckooPolicy:    "random",
		ArrayNelemDelta: 128,
		RequestPoolsize: 256,
		MetricsAddr:     "127.0.0.1:11212",
	}
}

// Load reads path (if non-empty) over top of Defaults, then returns
// the merged result. An empty path is not an error: it means
// "defaults only", letting the CLI run config-file-free. A path that
// cannot be opened or parsed is an error.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("config: opening %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Flags holds the CLI overrides BindFlags registers onto fs, in the
// order the memcached CLI traditionally exposes them. Call Parse on
// fs, then Apply to merge the parsed values back into cfg.
type Flags struct {
	daemonize   *bool
	pidFile     *string
	logName     *string
	logLevel    *string
	host        *string
	port        *int
	backlog     *int
	poolsize    *int
	workers     *int
	cuckooNItem *int
	cuckooSize  *int
	policy      *string
	cas         *bool
}

// BindFlags registers pflag overrides mirroring the configuration
// surface table. Each flag defaults to cfg's value, so a flag not given
// on the command line leaves that field as cfg has it.
func BindFlags(fs *pflag.FlagSet, cfg Config) *Flags {
	return &Flags{
		daemonize:   fs.Bool("daemonize", cfg.Daemonize, "accepted but ignored: the process does not detach"),
		pidFile:     fs.String("pid-filename", cfg.PIDFilename, "accepted but ignored: no PID file is written"),
		logName:     fs.String("log-name", cfg.LogName, "log destination ('-' for stderr)"),
		logLevel:    fs.String("log-level", cfg.LogLevel, "log verbosity (debug|info|warn|error)"),
		host:        fs.String("server-host", cfg.ServerHost, "bind address"),
		port:        fs.Int("server-port", cfg.ServerPort, "bind port"),
		backlog:     fs.Int("tcp-backlog", cfg.TCPBacklog, "listener backlog"),
		poolsize:    fs.Int("tcp-poolsize", cfg.TCPPoolsize, "per-worker connection cap"),
		workers:     fs.Int("worker-count", cfg.WorkerCount, "number of I/O worker reactors"),
		cuckooNItem: fs.Int("cuckoo-nitem", cfg.CuckooNItem, "number of cuckoo table slots"),
		cuckooSize:  fs.Int("cuckoo-item-size", cfg.CuckooItemSize, "fixed per-item byte budget"),
		policy:      fs.String("cuckoo-policy", cfg.CuckooPolicy, "displacement policy: random|expire_first"),
		cas:         fs.Bool("cuckoo-item-cas", cfg.CuckooItemCAS, "enable per-item CAS stamps"),
	}
}

// Apply copies every flag's value (given or defaulted) into cfg. Must
// be called after fs.Parse.
func (fl *Flags) Apply(cfg Config) Config {
	cfg.Daemonize = *fl.daemonize
	cfg.PIDFilename = *fl.pidFile
	cfg.LogName = *fl.logName
	cfg.LogLevel = *fl.logLevel
	cfg.ServerHost = *fl.host
	cfg.ServerPort = *fl.port
	cfg.TCPBacklog = *fl.backlog
	cfg.TCPPoolsize = *fl.poolsize
	cfg.WorkerCount = *fl.workers
	cfg.CuckooNItem = *fl.cuckooNItem
	cfg.CuckooItemSize = *fl.cuckooSize
	cfg.CuckooPolicy = *fl.policy
	cfg.CuckooItemCAS = *fl.cas
	return cfg
}

// CuckooConfig translates the on-disk knobs into a cuckoo.Config,
// rejecting item sizes too small to hold even a minimal item rather
// than silently truncating.
func (c Config) CuckooConfig() (cuckoo.Config, error) {
	policy := cuckoo.PolicyRandom
	switch c.CuckooPolicy {
	case "", "random":
		policy = cuckoo.PolicyRandom
	case "expire_first":
		policy = cuckoo.PolicyExpireFirst
	default:
		return cuckoo.Config{}, fmt.Errorf("config: unknown cuckoo_policy %q", c.CuckooPolicy)
	}

	maxKeyLen := cuckoo.DefaultMaxKeyLen
	// cuckoo_item_size upper-bounds header+key+value; reserve the header
	// and key budget and hand whatever remains to the value. Validate
	// below (via cuckoo.Config.ItemSize) rejects a budget too small to
	// hold even a minimal header+maxkey+zero-value item.
	maxValLen := c.CuckooItemSize - cuckoo.HeaderSize - maxKeyLen
	if maxValLen < 0 {
		maxValLen = 0
	}

	cfg := cuckoo.Config{
		NumSlots:   c.CuckooNItem,
		MaxKeyLen:  maxKeyLen,
		MaxValLen:  maxValLen,
		Policy:     policy,
		CASEnabled: c.CuckooItemCAS,
		ItemSize:   c.CuckooItemSize,
	}.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return cuckoo.Config{}, err
	}
	return cfg, nil
}

// ServerConfig translates the on-disk knobs into a server.Config.
func (c Config) ServerConfig() server.Config {
	return server.Config{
		Host:            c.ServerHost,
		Port:            c.ServerPort,
		Backlog:         c.TCPBacklog,
		Workers:         c.WorkerCount,
		PerWorkerConns:  c.TCPPoolsize,
		BufInitSize:     c.BufInitSize,
		BufSockPoolsize: c.BufSockPoolsize,
		RingArrayCap:    c.RingArrayCap,
		IdleTimeoutSecs: c.IdleTimeoutSecs,
	}
}

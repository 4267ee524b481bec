// Command cuckoocached is a memcached-ASCII-compatible cache server
// backed by a fixed-capacity cuckoo hash table.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/salviati/cuckoocache/internal/config"
	"github.com/salviati/cuckoocache/internal/cuckoo"
	"github.com/salviati/cuckoocache/internal/engine"
	"github.com/salviati/cuckoocache/internal/log"
	"github.com/salviati/cuckoocache/internal/metrics"
	"github.com/salviati/cuckoocache/internal/server"
)

const usage = `cuckoocached [options] [config-file]

A memcached ASCII protocol cache backed by a fixed-capacity cuckoo
hash table. Options override values from config-file.`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, _ io.Reader, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("cuckoocached", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	showHelp := fs.BoolP("help", "h", false, "print usage and exit")
	showVersion := fs.BoolP("version", "v", false, "print version and exit")
	flagOverrides := config.BindFlags(fs, config.Defaults())

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showHelp {
		fmt.Fprintln(stdout, usage)
		fmt.Fprintln(stdout, fs.FlagUsages())
		return 0
	}
	if *showVersion {
		fmt.Fprintln(stdout, engine.Version)
		return 0
	}

	configPath := ""
	if rest := fs.Args(); len(rest) > 0 {
		configPath = rest[0]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	// Bind the overrides again with the loaded file as their defaults,
	// so a flag not given on the command line keeps the file's value.
	ofs := pflag.NewFlagSet("cuckoocached", pflag.ContinueOnError)
	ofs.SetOutput(io.Discard)
	ofs.BoolP("help", "h", false, "")
	ofs.BoolP("version", "v", false, "")
	flagOverrides = config.BindFlags(ofs, cfg)
	if err := ofs.Parse(args); err != nil {
		return 2
	}
	cfg = flagOverrides.Apply(cfg)

	logger := log.New(stderr, cfg.LogLevel)
	if cfg.LogName != "" && cfg.LogName != "-" {
		f, err := os.OpenFile(cfg.LogName, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 2
		}
		defer f.Close()
		logger = log.New(f, cfg.LogLevel)
	}

	cuckooCfg, err := cfg.CuckooConfig()
	if err != nil {
		logger.Error("invalid cuckoo configuration", "err", err)
		return 2
	}

	clock := cuckoo.NewClock()
	defer clock.Stop()

	tbl, err := cuckoo.Open(cuckooCfg, clock)
	if err != nil {
		logger.Error("failed to open storage engine", "err", err)
		return 2
	}

	reg := metrics.New()
	eng := engine.New(tbl, clock, reg)

	srv := server.New(cfg.ServerConfig(), eng, clock, logger, reg)
	if err := srv.Listen(); err != nil {
		logger.Error("failed to bind listener", "err", err)
		return 2
	}
	logger.Info("listening", "addr", srv.Addr().String())

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(reg)}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", "err", err)
		}
	}()

	installSignalHandlers(logger, cfg.LogName)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			logger.Error("server stopped", "err", err)
		}
	}

	srv.Shutdown()
	_ = metricsSrv.Close()
	return 0
}

func metricsMux(reg *metrics.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	return mux
}

// installSignalHandlers wires the two signal behaviors the ASCII-
// protocol spec's external-interfaces section calls for beyond plain
// shutdown: SIGPIPE is ignored (a client disconnecting mid-write must
// not kill the process) and SIGTTIN reopens the log file, supporting
// external log rotation (e.g. logrotate) without a restart. SIGSEGV is
// deliberately left to the Go runtime's own fatal-crash dump — see
// the discussion in SPEC_FULL.md's external-interfaces section.
func installSignalHandlers(logger *log.Logger, logName string) {
	signal.Ignore(syscall.SIGPIPE)

	if logName == "" || logName == "-" {
		return
	}
	rotate := make(chan os.Signal, 1)
	signal.Notify(rotate, syscall.SIGTTIN)
	go func() {
		for range rotate {
			f, err := os.OpenFile(logName, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				logger.Warn("log reopen failed", "err", err)
				continue
			}
			logger.Reopen(f)
		}
	}()
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/pkg/errors"
	"github.com/prometheus/common/version"

	"github.com/adaricorp/uup/probe"
	"github.com/adaricorp/uup/scheduler"
)

const (
	binName = "uup"

	defaultTimeout = 1.0
	defaultDelay   = 1.0
)

var (
	errUsage = errors.New("invalid usage")
)

// options is the fully resolved invocation, after flags, environment and
// configuration file have been merged.
type options struct {
	mode         scheduler.RunMode
	kind         probe.Kind
	host         string
	port         uint16
	timeout      time.Duration
	delay        time.Duration
	exclusive    bool
	json         bool
	errorsAsDown bool
	probeConfig  probe.Config
	hostResolver *AddrPort
	logLevel     string
	showVersion  bool
	showHelp     bool
	usage        string
}

func newFlagSet() *ff.FlagSet {
	return ff.NewFlagSet(binName)
}

func flagIsSet(fs *ff.FlagSet, name string) bool {
	f, ok := fs.GetFlag(name)
	return ok && f.IsSet()
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// parseOptions parses the command line. The first positional argument is the
// run mode; anything else is taken as a host to ping forever.
func parseOptions(args []string) (options, error) {
	opts := options{}

	fs := newFlagSet()
	displayVersion := fs.BoolLong("version", "Print version")
	protocol := fs.String('t', "type", string(probe.KindPing), "Probe type, i.e. ping")
	host := fs.String('H', "host", "", "Host to query")
	port := fs.Uint('p', "port", 0, "Port number to use (if relevant to the probe type)")
	count := fs.Uint64('c', "count", 0, "Number of additional attempts (if using count run mode)")
	timeout := fs.Float64('s', "timeout", defaultTimeout, "Timeout in seconds")
	delay := fs.Float64('d', "delay", defaultDelay, "Delay between attempts in seconds")
	exclusive := fs.Bool('e', "exclusive", "Expect all attempts to succeed")
	printJSON := fs.Bool('j', "json", "Print results as JSON")
	privileged := fs.BoolLong("privileged", "Use raw ICMP sockets (needs CAP_NET_RAW)")
	errorsAsDown := fs.BoolLong("errors-as-down", "Count probe errors as down attempts instead of aborting")
	configFilePath := fs.StringLong("config-file", "", "Path to configuration file")
	logLevel := fs.StringEnumLong(
		"log-level",
		"Log level: debug, info, warn, error",
		"info",
		"debug",
		"error",
		"warn",
	)

	opts.usage = fmt.Sprint(ffhelp.Flags(fs, "uup [FLAGS] <oneshot|forever|count|HOST>"))

	err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix(strings.ToUpper(binName)),
	)
	if errors.Is(err, ff.ErrHelp) {
		opts.showHelp = true
		return opts, nil
	}
	if err != nil {
		return opts, errors.Wrap(errUsage, err.Error())
	}

	opts.logLevel = *logLevel
	if *displayVersion {
		opts.showVersion = true
		return opts, nil
	}

	config := Config{}
	if *configFilePath != "" {
		if config, err = loadConfig(*configFilePath); err != nil {
			return opts, err
		}
	}
	opts.hostResolver = config.HostResolver
	probeConfig := config.ProbeConfiguration

	positional := fs.GetArgs()
	if len(positional) != 1 {
		return opts, errors.Wrap(errUsage, "First argument must be run mode or resolvable hostname")
	}

	if scheduler.IsRunMode(positional[0]) {
		var countArg *uint64
		if flagIsSet(fs, "count") {
			countArg = count
		}
		if opts.mode, err = scheduler.ParseRunMode(positional[0], countArg); err != nil {
			if errors.Is(err, scheduler.ErrCountRequired) {
				return opts, errors.Wrap(errUsage, `Must include --count argument when running in "count" mode`)
			}
			return opts, err
		}

		opts.host = *host
		if opts.host == "" {
			return opts, errors.Wrap(errUsage, "Must set --host argument")
		}

		opts.kind = probe.Kind(*protocol)
		if !flagIsSet(fs, "type") && probeConfig.Type != "" {
			opts.kind = probe.Kind(probeConfig.Type)
		}
	} else {
		opts.mode = scheduler.Forever()
		opts.host = positional[0]
		opts.kind = probe.KindPing
	}

	if *port > math.MaxUint16 {
		return opts, errors.Wrapf(errUsage, "Port must be <=%d; got: %d", math.MaxUint16, *port)
	}
	opts.port = uint16(*port)

	opts.timeout = secondsToDuration(*timeout)
	if !flagIsSet(fs, "timeout") && probeConfig.Timeout > 0 {
		opts.timeout = probeConfig.Timeout
	}
	if opts.timeout <= 0 {
		return opts, errors.Wrapf(errUsage, "Timeout must be >0.0; got: %g", *timeout)
	}

	opts.delay = secondsToDuration(*delay)
	if !flagIsSet(fs, "delay") && probeConfig.Delay != nil {
		opts.delay = *probeConfig.Delay
	}
	if opts.delay < 0 {
		return opts, errors.Wrapf(errUsage, "Delay must be >=0.0; got: %g", *delay)
	}

	opts.exclusive = *exclusive || probeConfig.Exclusive
	opts.json = *printJSON
	opts.errorsAsDown = *errorsAsDown
	opts.probeConfig = probe.Config{
		Privileged:  *privileged || probeConfig.Privileged,
		PayloadSize: probeConfig.PayloadSize,
		HTTP: probe.HTTPProbe{
			Method: probeConfig.HTTP.Method,
			Path:   probeConfig.HTTP.Path,
		},
	}

	return opts, nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	slogLevel := new(slog.LevelVar)
	switch level {
	case "debug":
		slogLevel.Set(slog.LevelDebug)
	case "warn":
		slogLevel.Set(slog.LevelWarn)
	case "error":
		slogLevel.Set(slog.LevelError)
	default:
		slogLevel.Set(slog.LevelInfo)
	}

	return slog.New(
		slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: slogLevel,
		}),
	)
}

func supportedKinds() string {
	names := []string{}
	for _, kind := range probe.Kinds() {
		names = append(names, string(kind))
	}
	return strings.Join(names, ", ")
}

// run executes one invocation and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseOptions(args)

	logger := newLogger(stderr, opts.logLevel)
	slog.SetDefault(logger)

	if err != nil {
		logger.Error("Invalid arguments", "error", err.Error())
		if errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "%s\n", opts.usage)
		}
		return exitError
	}

	if opts.showHelp {
		fmt.Fprintf(stderr, "%s\n", opts.usage)
		return exitHostUp
	}

	if opts.showVersion {
		fmt.Fprintf(stdout, "%s v%s built on %s\n", binName, version.Version, version.BuildDate)
		return exitHostUp
	}

	backend, err := probe.New(opts.kind, opts.probeConfig, logger)
	if err != nil {
		logger.Error(
			"No supported probe type with that name",
			"type",
			string(opts.kind),
			"supported",
			supportedKinds(),
		)
		return exitError
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	addr, err := resolveTarget(ctx, newResolver(opts.hostResolver), opts.host)
	if err != nil {
		logger.Error("Invalid IP address provided", "host", opts.host, "error", err.Error())
		return exitError
	}

	exitSignal := make(chan os.Signal, 1)
	signal.Notify(exitSignal, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(exitSignal)

	go func() {
		select {
		case sig := <-exitSignal:
			logger.Info("Got signal; exiting", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	sched := scheduler.New(
		backend,
		scheduler.Options{
			Mode:         opts.mode,
			Target:       probe.Target{Addr: addr, Port: opts.port},
			Timeout:      opts.timeout,
			Delay:        opts.delay,
			Exclusive:    opts.exclusive,
			JSON:         opts.json,
			ErrorsAsDown: opts.errorsAsDown,
		},
		scheduler.WithOutput(stdout),
		scheduler.WithLogger(logger),
	)

	up, err := sched.Run(ctx)
	if err != nil {
		logger.Error("Failed to run checks", "target", addr.String(), "error", err.Error())
		return exitError
	}

	return verdictExitCode(up)
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

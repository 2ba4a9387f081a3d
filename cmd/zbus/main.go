package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/troian/healthcheck"
	"go.uber.org/zap"

	"github.com/VolantMQ/zbus/configuration"
	"github.com/VolantMQ/zbus/metrics"
	"github.com/VolantMQ/zbus/mq"
)

type appContext struct {
	config  *configuration.Config
	broker  *mq.Broker
	metrics metrics.IFace
	health  *http.Server
	quit    chan struct{}
}

type command struct {
	desc string
	run  func(ctx context.Context, app *appContext, args []string) error
}

var commands = map[string]command{
	"produce": {"produce messages to topic", runProduce},
	"consume": {"consume messages of topic until interrupted", runConsume},
	"bench":   {"measure produce throughput", runBench},
	"call":    {"invoke rpc method served on topic", runCall},
	"query":   {"query server, topic or consume group state", runQuery},
	"declare": {"declare topic or consume group", runDeclare},
	"remove":  {"remove topic or consume group", runRemove},
	"empty":   {"empty topic or consume group", runEmpty},
}

var logger *zap.SugaredLogger

// these are provided at compile time
var (
	// GitCommit SHA hash
	GitCommit string

	// GitBranch if any
	GitBranch string

	// GitState repository state
	GitState string

	// GitSummary repository info
	GitSummary string

	// BuildDate build date
	BuildDate string

	// Version application version
	Version string
)

func init() {
	if Version == "" {
		Version = "UNKNOWN"
	}

	if BuildDate == "" {
		BuildDate = "UNKNOWN"
	}
}

func usage() {
	out := flag.CommandLine.Output()

	fmt.Fprintf(out, "usage: zbus [--config file] <command> [flags]\n\ncommands:\n") // nolint: errcheck

	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		fmt.Fprintf(out, "  %-8s %s\n", n, commands[n].desc) // nolint: errcheck
	}

	fmt.Fprintf(out, "\nflags:\n") // nolint: errcheck
	flag.PrintDefaults()
}

func newAppContext(config *configuration.Config) (*appContext, error) {
	app := &appContext{
		config:  config,
		metrics: metrics.New(nil),
		quit:    make(chan struct{}),
	}

	certs := make(map[string]string, len(config.Broker.TLS.Servers))
	for addr, t := range config.Broker.TLS.Servers {
		certs[addr] = t.Cert
	}

	var err error

	app.broker, err = mq.NewBroker(mq.BrokerConfig{
		Trackers:           config.Broker.TrackerList(),
		PoolSize:           config.Broker.PoolSize,
		VoteFactor:         config.Broker.VoteFactor,
		TrackerWait:        config.Broker.TrackerWaitDuration(),
		HeartbeatInterval:  config.Broker.HeartbeatDuration(),
		DefaultCertFile:    config.Broker.TLS.Default.Cert,
		CertFiles:          certs,
		InsecureSkipVerify: config.Broker.TLS.Default.Insecure,
		Auth: mq.Auth{
			Token:     config.Auth.Token,
			APIKey:    config.Auth.APIKey,
			SecretKey: config.Auth.SecretKey,
		},
		Metrics: app.metrics,
		Log:     configuration.GetLogger().Named("broker"),
	})
	if err != nil {
		return nil, err
	}

	if config.Health.Enabled {
		h := healthcheck.NewHandler()
		if err = app.broker.RegisterChecks(h); err != nil {
			app.broker.Dispose()
			return nil, err
		}

		app.health = &http.Server{
			Addr:    config.Health.Addr,
			Handler: h,
		}

		go func() {
			logger.Info("starting health server on " + app.health.Addr)
			if e := app.health.ListenAndServe(); e != nil && e != http.ErrServerClosed {
				logger.Error("health server: ", e.Error())
			}
		}()
	}

	if config.Metrics.Report > 0 {
		l := zap.NewStdLog(configuration.GetLogger().Named("metrics"))
		go metrics.Report(app.metrics.Registry(), time.Duration(config.Metrics.Report)*time.Second, l, app.quit)
	}

	return app, nil
}

func (app *appContext) shutdown() {
	close(app.quit)

	if app.health != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := app.health.Shutdown(ctx); err != nil {
			logger.Error("shutdown health server: ", err.Error())
		}
		cancel()
	}

	app.broker.Dispose()
}

func main() {
	os.Exit(run())
}

func run() int {
	logger = configuration.GetHumanLogger()

	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		return 2
	}

	cmd, ok := commands[flag.Arg(0)]
	if !ok {
		logger.Error("unknown command: ", flag.Arg(0))
		usage()
		return 2
	}

	config, err := configuration.ReadConfig()
	if err != nil {
		logger.Error("read config: ", err.Error())
		return 1
	}

	if err = configuration.ConfigureLoggers(&config.Log); err != nil {
		logger.Error("configure loggers: ", err.Error())
		return 1
	}

	logger = configuration.GetHumanLogger()
	logger.Debugf("\n\tbuild info:\n"+
		"\t\tcommit : %s\n"+
		"\t\tbranch : %s\n"+
		"\t\tstate  : %s\n"+
		"\t\tsummary: %s\n"+
		"\t\tdate   : %s\n"+
		"\t\tversion: %s\n", GitCommit, GitBranch, GitState, GitSummary, BuildDate, Version)

	app, err := newAppContext(config)
	if err != nil {
		logger.Error("create broker: ", err.Error())
		return 1
	}
	defer app.shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-ch:
			logger.Info("received signal: ", sig.String())
			cancel()
		case <-ctx.Done():
		}

		signal.Stop(ch)
	}()

	if err = cmd.run(ctx, app, flag.Args()[1:]); err != nil {
		logger.Error(flag.Arg(0), ": ", err.Error())
		return 1
	}

	return 0
}

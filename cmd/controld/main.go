package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nodequorum/controld/pkg/cib"
	"github.com/nodequorum/controld/pkg/config"
	"github.com/nodequorum/controld/pkg/controller"
	"github.com/nodequorum/controld/pkg/events"
	"github.com/nodequorum/controld/pkg/executor"
	"github.com/nodequorum/controld/pkg/fencing"
	"github.com/nodequorum/controld/pkg/log"
	"github.com/nodequorum/controld/pkg/messaging"
	"github.com/nodequorum/controld/pkg/metrics"
	"github.com/nodequorum/controld/pkg/peer"
	"github.com/nodequorum/controld/pkg/reconciler"
	"github.com/nodequorum/controld/pkg/security"
	"github.com/nodequorum/controld/pkg/transition"
	"github.com/nodequorum/controld/pkg/transport"
	"github.com/nodequorum/controld/pkg/types"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "controld",
	Short: "controld - the controller core of a high-availability cluster resource manager",
	Long: `controld coordinates cluster resource placement: a controller FSM
drives a transition graph engine, which dispatches resource actions to
an executor (LRM) client and fencing actions to a fencing coordinator,
over a gossip-style cluster messaging substrate.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"controld version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the controller daemon using a config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		// --log-level/--log-json on the command line win over the
		// config file; otherwise the file's log_level/log_json apply.
		if !cmd.Flags().Changed("log-level") && !cmd.Flags().Changed("log-json") {
			log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
		}
		return runDaemon(cfg)
	},
}

func init() {
	runCmd.Flags().String("config", "/etc/controld/controld.yaml", "Path to controld config file")
}

func runDaemon(cfg config.Config) error {
	logger := log.WithNodeID(cfg.NodeUname)
	logger.Info().Str("cluster", cfg.ClusterName).Msg("starting controld")

	if err := security.SetClusterEncryptionKey(security.DeriveKeyFromClusterID(cfg.ClusterName)); err != nil {
		return fmt.Errorf("setting cluster encryption key: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	peers := peer.NewCache(30*time.Second, broker)
	peers.Start()
	defer peers.Stop()

	tcpTransport, err := transport.NewTCPTransport(cfg.NodeUname, cfg.TransportBindAddr)
	if err != nil {
		return fmt.Errorf("creating transport: %w", err)
	}
	defer tcpTransport.Close()

	msgLayer := messaging.NewLayer(cfg.NodeUname, tcpTransport, peers, broker, 256)
	msgLayer.Start()
	defer msgLayer.Stop()

	cibClient, err := cib.NewBoltClient(cfg.CIBEndpoint)
	if err != nil {
		return fmt.Errorf("opening cib store: %w", err)
	}
	defer cibClient.Close()

	execClient := executor.NewClient(cfg.NodeUname, executor.NewOCFRunner(), broker, logger)
	execClient.SetCIB(cibClient)
	execClient.SetShutdownLockEnabled(cfg.ShutdownLockEnabled)

	fenceRegistry := fencing.NewRegistry()
	fenceCoordinator := fencing.NewCoordinator(fenceRegistry, msgLayer, broker)
	fenceCoordinator.SetWatchdog(cfg.FencingWatchdog)
	defer fenceCoordinator.Shutdown()

	throttle := transition.NewThrottle(cfg.BatchLimitFloor, cfg.BatchLimitCeil)

	fsm := controller.NewContext(cfg.NodeUname, controller.Deps{
		Peers:     peers,
		Messaging: msgLayer,
		CIB:       cibClient,
		Executor:  execClient,
		Fencer:    fenceCoordinator,
		Broker:    broker,
		Throttle:  throttle,
	})

	recon := reconciler.NewReconciler(broker, fsm)
	recon.Start()
	defer recon.Stop()

	election, err := controller.NewElection(controller.ElectionConfig{
		NodeID:   cfg.NodeUname,
		BindAddr: cfg.RaftBindAddr,
		DataDir:  cfg.DataDir + "/raft",
		Timeout:  cfg.ElectionTimeout,
	})
	if err != nil {
		return fmt.Errorf("creating election group: %w", err)
	}
	if cfg.Bootstrap {
		if err := election.Bootstrap(controller.ElectionConfig{NodeID: cfg.NodeUname, BindAddr: cfg.RaftBindAddr}); err != nil {
			logger.Warn().Err(err).Msg("bootstrap failed, assuming already bootstrapped")
		}
	}
	go election.Watch(fsm)
	defer election.Stop()

	collector := metrics.NewCollector()
	collector.Register("raft-election", func() (bool, string) {
		election.ReportStats()
		return election.Probe()
	})
	collector.Register("cluster-messaging", func() (bool, string) {
		return true, "transport listening on " + cfg.TransportBindAddr
	})
	collector.Start()
	defer collector.Stop()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("cib", true, "bolt store open")

	go func() {
		http.Handle("/metrics", metrics.Handler())
		http.Handle("/health", metrics.HealthHandler())
		http.Handle("/ready", metrics.ReadyHandler())
		http.Handle("/live", metrics.LivenessHandler())
		if err := http.ListenAndServe(cfg.MetricsListen, nil); err != nil {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	logger.Info().Str("addr", cfg.MetricsListen).Msg("metrics endpoint listening")

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fsm.Run(runCtx)

	fsm.Post(controller.InputEvent{Input: types.InputElection, Reason: "startup"})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutdown signal received")

	fsm.Post(controller.InputEvent{Input: types.InputShutdown, Reason: "signal received"})
	time.Sleep(cfg.ShutdownEscalate)
	fsm.Stop()

	logger.Info().Msg("controld stopped")
	return nil
}

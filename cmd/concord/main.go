package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/concord/pkg/agent"
	"github.com/cuemby/concord/pkg/clog"
	"github.com/cuemby/concord/pkg/config"
	"github.com/cuemby/concord/pkg/election"
	"github.com/cuemby/concord/pkg/health"
	"github.com/cuemby/concord/pkg/idle"
	"github.com/cuemby/concord/pkg/markfile"
	"github.com/cuemby/concord/pkg/membership"
	"github.com/cuemby/concord/pkg/metrics"
	"github.com/cuemby/concord/pkg/recording"
	"github.com/cuemby/concord/pkg/servicehost"
	"github.com/cuemby/concord/pkg/types"
)

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
	Use:   "concord",
	Short: "concord - the consensus module agent for a replicated state-machine cluster",
	Long: `concord drives one node's consensus module: cluster membership, leader
election coordination, client session lifecycle, command ordering, replicated-log
replay, snapshotting, and coordinated termination, sitting between a transport
layer, a durable recording/archive subsystem, and one or more out-of-process
clustered services.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("concord version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	runCmd.Flags().String("config", "", "Path to a YAML config file")
	runCmd.Flags().String("node-id", "", "Numeric member id for this node (required)")
	runCmd.Flags().StringSlice("peer", nil, "host:port for an existing cluster member; logged at startup only, the raft submodule is bootstrapped with this node alone (repeatable)")
	runCmd.Flags().String("raft-bind-addr", "127.0.0.1:9010", "Address the election submodule's raft transport binds to")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	clog.Init(clog.Config{Level: clog.Level(logLevel), JSONOutput: logJSON})
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("concord %s (%s, built %s)\n", Version, Commit, BuildTime)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run this node's consensus module agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		nodeIDStr, _ := cmd.Flags().GetString("node-id")
		peers, _ := cmd.Flags().GetStringSlice("peer")
		raftBindAddr, _ := cmd.Flags().GetString("raft-bind-addr")

		if nodeIDStr == "" {
			return fmt.Errorf("--node-id is required")
		}
		nodeIDInt, err := strconv.Atoi(nodeIDStr)
		if err != nil {
			return fmt.Errorf("--node-id must be numeric: %w", err)
		}
		nodeID := int32(nodeIDInt)

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg.NodeID = nodeIDStr

		log := clog.WithNodeID(nodeIDStr)

		recordingLog, err := recording.Open(cfg.DataDir, cfg.FileSyncLevel)
		if err != nil {
			return fmt.Errorf("open recording log: %w", err)
		}
		defer recordingLog.Close()

		archive := recording.NewLocalArchive()

		bootstrapPeers := map[int32]string{nodeID: raftBindAddr}
		electionSub, err := election.NewRaftSubmodule(election.Config{
			NodeID:           nodeIDStr,
			BindAddr:         raftBindAddr,
			DataDir:          cfg.DataDir,
			HeartbeatTimeout: cfg.LeaderHeartbeatTimeout,
			ElectionTimeout:  cfg.LeaderHeartbeatTimeout,
		}, log, bootstrapPeers)
		if err != nil {
			return fmt.Errorf("start election submodule: %w", err)
		}

		svcHost := servicehost.NewBroker()
		markWriter := markfile.NewWriter(cfg.DataDir+"/concord.mark", 1*time.Second)
		healthChecker := health.NewChecker()

		members := membership.New()
		members.AddActive(&types.ClusterMember{ID: nodeID, MemberEndpoint: raftBindAddr, IsLeader: false})

		a := agent.New(agent.Deps{
			Config:       cfg,
			Log:          log,
			NodeID:       nodeID,
			RecordingLog: recordingLog,
			Archive:      archive,
			Election:     electionSub,
			ServiceHost:  svcHost,
			MarkWriter:   markWriter,
			Idle:         idle.DefaultBackoff(),
			Hook: func() {
				log.Info().Msg("termination hook: node fully stopped")
			},
		}, members)

		ctx := context.Background()
		if err := a.Recover(ctx); err != nil {
			return fmt.Errorf("recover: %w", err)
		}
		healthChecker.Register("recovery", true, "recovered")

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.HandleFunc("/health", healthChecker.Handler())
			mux.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) { health.LivenessHandler()(w, r) })
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics/health endpoint listening")

		if len(peers) > 0 {
			log.Info().Strs("peers", peers).Msg("peer endpoints configured (dynamic join wiring is done by the transport layer)")
		}

		stop := make(chan struct{})
		done := make(chan struct{})
		go func() {
			a.Run(stop)
			close(done)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		sig := <-sigCh
		if sig == syscall.SIGTERM {
			log.Info().Msg("SIGTERM received, requesting graceful shutdown")
			a.SetControl(agent.ToggleShutdown)
		} else {
			log.Info().Msg("interrupt received, requesting graceful shutdown")
			a.SetControl(agent.ToggleShutdown)
		}

		select {
		case <-done:
		case <-time.After(cfg.TerminationTimeout):
			log.Warn().Msg("termination timeout exceeded, aborting")
			a.SetControl(agent.ToggleAbort)
			close(stop)
			<-done
		}

		log.Info().Msg("shutdown complete")
		return nil
	},
}

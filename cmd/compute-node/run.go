package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/compute-node/crypto/nodekey"
	"github.com/sage-x-project/compute-node/executor"
	"github.com/sage-x-project/compute-node/health"
	"github.com/sage-x-project/compute-node/internal/config"
	"github.com/sage-x-project/compute-node/internal/logger"
	"github.com/sage-x-project/compute-node/metrics"
	"github.com/sage-x-project/compute-node/node"
	"github.com/sage-x-project/compute-node/p2p"
	"github.com/sage-x-project/compute-node/registry/nodes"
	"github.com/sage-x-project/compute-node/worker"
)

var (
	envFile  string
	yamlFile string
)

// metricsShutdownTimeout bounds how long the metrics HTTP server is given
// to drain in-flight scrapes during shutdown.
const metricsShutdownTimeout = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the compute node",
	Long: `Load configuration from the environment (optionally via a .env file and
a YAML overlay), connect to the gossip network, and serve ping/task traffic
until interrupted.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&envFile, "env-file", ".env", "path to a .env file to load before reading configuration")
	runCmd.Flags().StringVar(&yamlFile, "config", "", "optional YAML configuration overlay")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.Options{DotEnvPath: envFile, YAMLPath: yamlFile})
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	keyPair, err := nodekey.FromHex(cfg.SecretKeyHex)
	if err != nil {
		return fmt.Errorf("load node secret key: %w", err)
	}

	adminKeyBytes, err := hex.DecodeString(cfg.AdminPublicKey)
	if err != nil {
		return fmt.Errorf("decode admin public key: %w", err)
	}
	adminKey, err := nodekey.ParseCompressedPublicKey(adminKeyBytes)
	if err != nil {
		return fmt.Errorf("parse admin public key: %w", err)
	}

	models, err := parseModels(cfg.Models)
	if err != nil {
		return err
	}

	const protocol = "compute-node/1"

	commander := p2p.NewWSGossip(cfg.ListenAddr, protocol)

	registry := nodes.New(cfg.NetworkType)
	registry.PopulateWithStatics(nil)
	registry.PopulateWithEnv(nodes.EnvOverrides{
		Bootstrap: parsePeers(cfg.BootstrapPeers),
		Relay:     parsePeers(cfg.RelayPeers),
		RPC:       parsePeers(cfg.RPCPeers),
	})

	pool := worker.NewPool()

	n := node.New(node.Config{
		KeyPair:                keyPair,
		AdminPublicKey:         adminKey,
		Models:                 models,
		OllamaHost:             cfg.OllamaHost,
		OllamaPort:             cfg.OllamaPort,
		RemoteExecutorEndpoint: cfg.RemoteExecutorEndpoint,
		Protocol:               protocol,
	}, commander, registry, pool)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
	go func() {
		logger.Info("serving metrics", logger.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorMsg("metrics server failed", logger.Error(err))
		}
	}()

	checker := health.NewHealthChecker(0)
	checker.RegisterCheck("peers", health.PeerConnectivityCheck(commander))
	checker.RegisterCheck("registry", health.RegistryFreshnessCheck(registry))
	healthServer := health.NewServer(checker, cfg.HealthAddr)
	if err := healthServer.Start(); err != nil {
		return fmt.Errorf("start health server: %w", err)
	}
	logger.Info("serving health checks", logger.String("addr", cfg.HealthAddr))

	if err := commander.Listen(); err != nil {
		return fmt.Errorf("start gossip listener: %w", err)
	}
	logger.Info("listening for gossip connections", logger.String("addr", cfg.ListenAddr))

	logger.Info("node starting", logger.String("address", keyPair.AddressHex()), logger.String("network", string(cfg.NetworkType)))

	runErr := n.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", logger.Error(err))
	}
	if err := healthServer.Stop(shutdownCtx); err != nil {
		logger.Warn("health server shutdown failed", logger.Error(err))
	}

	return runErr
}

func parseModels(names []string) ([]executor.Model, error) {
	models := make([]executor.Model, 0, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		parts := strings.SplitN(name, ":", 2)
		m := executor.Model{Name: parts[0]}
		if len(parts) == 2 {
			m.Provider = parts[1]
		} else {
			m.Provider = "ollama"
		}
		models = append(models, m)
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("no models configured")
	}
	return models, nil
}

func parsePeers(entries []string) []nodes.Peer {
	peers := make([]nodes.Peer, 0, len(entries))
	for _, e := range entries {
		if e == "" {
			continue
		}
		parts := strings.SplitN(e, "@", 2)
		if len(parts) == 2 {
			peers = append(peers, nodes.Peer{ID: parts[0], Multiaddr: parts[1]})
		} else {
			peers = append(peers, nodes.Peer{Multiaddr: parts[0]})
		}
	}
	return peers
}

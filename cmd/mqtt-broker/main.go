// Command mqtt-broker runs one broker node: the MQTT subscription and
// delivery engine (internal/broker) wired against a meta cluster for
// leader election/retain/resource state and a journal cluster for the
// durable per-topic log. Accepting real MQTT sockets (TCP/TLS/WebSocket/
// QUIC) and decoding CONNECT/PUBLISH packets is out of scope here; this
// entrypoint wires the engine and keeps it running.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/robustmq/robustmq/internal/broker"
	"github.com/robustmq/robustmq/internal/client"
	"github.com/robustmq/robustmq/internal/rpc"
	"github.com/robustmq/robustmq/internal/types"
	"github.com/robustmq/robustmq/pkg/config"
	"github.com/robustmq/robustmq/pkg/log"
	"github.com/robustmq/robustmq/pkg/metrics"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mqtt-broker",
	Short: "RobustMQ MQTT broker — subscription and delivery engine",
	RunE:  runBroker,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	rootCmd.Flags().Uint64("node-id", 1, "This node's ID, as registered with meta")
	rootCmd.Flags().String("cluster", "default", "Cluster name")
	rootCmd.Flags().String("meta-addr", "127.0.0.1:9982", "A meta service node's gRPC address")
	rootCmd.Flags().String("advertise-addr", "127.0.0.1:1883", "Address other nodes record for this broker")
	rootCmd.Flags().String("metrics-addr", "127.0.0.1:9994", "HTTP listen address for /metrics and /healthz")
	rootCmd.Flags().String("config", "", "Path to an optional YAML ClusterConfig file")
}

func loadClusterConfig(path string) (config.ClusterConfig, error) {
	var cfg config.ClusterConfig
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func runBroker(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadClusterConfig(configPath)
	if err != nil {
		return err
	}
	config.Init(cfg)

	nodeID, _ := cmd.Flags().GetUint64("node-id")
	cluster, _ := cmd.Flags().GetString("cluster")
	metaAddr, _ := cmd.Flags().GetString("meta-addr")
	advertiseAddr, _ := cmd.Flags().GetString("advertise-addr")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	pool := rpc.NewPool()
	defer pool.Close()
	leader := &rpc.LeaderTracker{}
	leader.Set(metaAddr)
	metaClient := client.NewMetaClient(pool, leader, nodeID, nil)

	if err := metaClient.RegisterNode(types.Node{
		NodeID: nodeID, ClusterName: cluster, InnerRPCAddr: advertiseAddr,
		Extend: map[string]string{"role": "broker"},
	}); err != nil {
		return fmt.Errorf("register with meta: %w", err)
	}

	journalClient := client.NewJournalClient(cluster, pool, metaClient)
	dispatcher := client.NewLocalDispatcher()

	b := broker.NewBroker(cluster, broker.Deps{
		LeaderCheck:    metaClient,
		ExclusiveCheck: metaClient,
		RetainStorage:  metaClient,
		Appender:       journalClient,
		Reader:         journalClient,
		Offsets:        metaClient,
		Dispatcher:     dispatcher,
	})
	dispatcher.SetConnections(b.Connections)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", metrics.HealthHandler())
	mux.Handle("/readyz", metrics.ReadyHandler())
	httpServer := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server stopped", err)
		}
	}()
	log.WithNode(nodeID).Info().Str("cluster", cluster).Msg("mqtt broker engine running")

	heartbeatStop := make(chan struct{})
	go runHeartbeat(cluster, nodeID, metaClient, heartbeatStop)

	waitForShutdown()
	close(heartbeatStop)
	_ = httpServer.Close()
	return nil
}

func runHeartbeat(cluster string, nodeID uint64, meta *client.MetaClient, stop chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := meta.Heartbeat(cluster, nodeID); err != nil {
				log.Errorf("heartbeat to meta failed", err)
			}
		case <-stop:
			return
		}
	}
}

func waitForShutdown() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
}

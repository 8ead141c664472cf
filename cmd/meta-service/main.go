// Command meta-service runs one node of the RobustMQ meta cluster: the
// Raft-replicated node/shard/segment/MQTT-resource state machine that
// journal and broker nodes read from and write through.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"gopkg.in/yaml.v3"

	"github.com/robustmq/robustmq/internal/meta"
	"github.com/robustmq/robustmq/internal/rpc"
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
	Use:   "meta-service",
	Short: "RobustMQ meta service — Raft-replicated cluster state machine",
	RunE:  runMetaService,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	rootCmd.Flags().Uint64("node-id", 1, "This node's Raft server ID")
	rootCmd.Flags().String("cluster", "default", "Cluster name")
	rootCmd.Flags().String("raft-addr", "127.0.0.1:9981", "Raft transport bind address")
	rootCmd.Flags().String("rpc-addr", "127.0.0.1:9982", "gRPC listen address for MetaService")
	rootCmd.Flags().String("metrics-addr", "127.0.0.1:9983", "HTTP listen address for /metrics and /healthz")
	rootCmd.Flags().String("data-dir", "./data/meta", "Raft log and KV data directory")
	rootCmd.Flags().String("join", "", "Existing leader's rpc-addr to join as a voter, empty to bootstrap a new cluster")
	rootCmd.Flags().String("config", "", "Path to an optional YAML ClusterConfig file")
}

// loadClusterConfig decodes an optional YAML file into a ClusterConfig.
// An empty path yields the zero-value config, since meta-service can run
// with no cluster-wide overrides configured yet.
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

func runMetaService(cmd *cobra.Command, args []string) error {
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
	raftAddr, _ := cmd.Flags().GetString("raft-addr")
	rpcAddr, _ := cmd.Flags().GetString("rpc-addr")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	join, _ := cmd.Flags().GetString("join")

	node, err := meta.New(meta.Config{NodeID: nodeID, Cluster: cluster, BindAddr: raftAddr, DataDir: dataDir})
	if err != nil {
		return fmt.Errorf("create meta node: %w", err)
	}

	if join == "" {
		if err := node.Bootstrap(); err != nil {
			return fmt.Errorf("bootstrap cluster: %w", err)
		}
	} else {
		if err := node.Join(); err != nil {
			return fmt.Errorf("join cluster: %w", err)
		}
		if err := joinLeader(join, nodeID, raftAddr); err != nil {
			return fmt.Errorf("register with leader %s: %w", join, err)
		}
	}
	defer node.Shutdown()

	svc := meta.NewService(node)

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(rpc.LeaderInterceptor(node)))
	grpcServer.RegisterService(&meta.ServiceDesc, svc)

	lis, err := net.Listen("tcp", rpcAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", rpcAddr, err)
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Errorf("meta gRPC server stopped", err)
		}
	}()
	log.WithNode(nodeID).Info().Str("addr", rpcAddr).Msg("meta service listening")

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

	waitForShutdown()
	grpcServer.GracefulStop()
	_ = httpServer.Close()
	return nil
}

// joinLeader asks leaderAddr's meta node to add this node as a Raft
// voter, reusing the same hand-authored ServiceDesc over a throwaway
// connection pool rather than a long-lived client.
func joinLeader(leaderAddr string, nodeID uint64, raftAddr string) error {
	pool := rpc.NewPool()
	defer pool.Close()

	conn, err := pool.Get(leaderAddr)
	if err != nil {
		return err
	}
	callCtx, cancel := rpc.CallContext(context.Background())
	defer cancel()
	req := &meta.AddVoterRequest{NodeID: nodeID, Address: raftAddr}
	resp := &meta.AddVoterResponse{}
	return conn.Invoke(callCtx, "/meta.MetaService/AddVoter", req, resp)
}

func waitForShutdown() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
}

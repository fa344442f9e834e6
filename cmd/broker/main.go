package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bromq-dev/broker/pkg/admission"
	"github.com/bromq-dev/broker/pkg/cluster"
	"github.com/bromq-dev/broker/pkg/conn"
	"github.com/bromq-dev/broker/pkg/listeners"
	"github.com/bromq-dev/broker/pkg/membership"
	"github.com/bromq-dev/broker/pkg/retained"
	"github.com/bromq-dev/broker/pkg/session"
	"github.com/bromq-dev/broker/pkg/sharedstore"
	"github.com/bromq-dev/broker/pkg/subtree"
)

var (
	mqttAddr  = flag.String("addr", ":1883", "MQTT listen address")
	mqttsAddr = flag.String("tls-addr", "", "MQTTS listen address (defaults to :8883 when -cert/-key are set)")
	wsAddr    = flag.String("ws-addr", ":8083", "WebSocket listen address")
	wsPath    = flag.String("ws-path", "/mqtt", "WebSocket listen path")

	certFile = flag.String("cert", "", "TLS certificate file (optional)")
	keyFile  = flag.String("key", "", "TLS private key file (optional)")

	nodeID = flag.String("node-id", "", "cluster node id (default: generated)")

	clusterMode = flag.String("cluster-mode", "local", "routing fabric: local, sharedkv, or grpc")

	storeAddr     = flag.String("store-addr", "localhost:6379", "shared store (Redis) address")
	storePassword = flag.String("store-password", "", "shared store password")

	grpcListenAddr  = flag.String("grpc-addr", ":7947", "grpc mode: this node's routing listen address")
	gossipBindPort  = flag.Int("gossip-port", 7946, "grpc mode: memberlist gossip bind port")
	gossipJoinAddrs = flag.String("gossip-join", "", "grpc mode: comma-separated peer gossip addresses")

	connectRate          = flag.Float64("connect-rate", 50, "process-wide accepted CONNECTs per second (0 disables)")
	maxConnPerAddr       = flag.Int("max-conn-per-addr", 100, "max concurrent connections per source address (0 disables)")
	publishRatePerClient = flag.Float64("publish-rate", 0, "sustained publishes/sec per client (0 disables)")
	publishRateGlobal    = flag.Float64("publish-rate-global", 0, "sustained publishes/sec across all clients (0 disables)")
)

func main() {
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	id := *nodeID
	if id == "" {
		id = fmt.Sprintf("node-%d", time.Now().UnixNano())
	}

	var store *sharedstore.Store
	needsStore := cluster.Mode(*clusterMode) == cluster.ModeSharedKV
	if needsStore {
		var err error
		store, err = sharedstore.New(sharedstore.Config{
			Addr:     *storeAddr,
			Password: *storePassword,
			NodeID:   id,
		})
		if err != nil {
			log.Error("connecting to shared store", "error", err)
			os.Exit(1)
		}
	}

	clusterCfg := cluster.Config{Mode: cluster.Mode(*clusterMode), NodeID: id}
	if store != nil {
		clusterCfg.Store = store
	}
	if cluster.Mode(*clusterMode) == cluster.ModeGRPC {
		clusterCfg.GRPCListenAddr = *grpcListenAddr
		clusterCfg.GossipBindPort = *gossipBindPort
		if *gossipJoinAddrs != "" {
			clusterCfg.GossipJoinAddrs = strings.Split(*gossipJoinAddrs, ",")
		}
	}

	clus, err := cluster.New(clusterCfg)
	if err != nil {
		log.Error("building cluster fabric", "error", err)
		os.Exit(1)
	}

	var node *conn.Node
	evict := func(clientID string) {
		if node != nil {
			node.DisconnectClient(clientID, "force-disconnect")
		}
	}

	var sessions session.Manager
	var retainedStore retained.Store
	var memberTracker *membership.Tracker

	if store != nil {
		sessions = session.NewShared(store, evict)
		retainedStore = retained.NewShared(context.Background(), store)
		memberTracker = membership.New(store, membership.Config{
			OnJoined: func(peer string) { log.Info("node joined", "node_id", peer) },
			OnLeft:   func(peer string) { log.Info("node left", "node_id", peer) },
		})
	} else {
		sessions = session.NewLocal(evict)
		retainedStore = retained.NewLocal()
	}

	admissionLimiter := admission.New(admission.Config{
		ConnectRate:           *connectRate,
		MaxConnectionsPerAddr: *maxConnPerAddr,
		PublishRate:           *publishRatePerClient,
		GlobalPublishRate:     *publishRateGlobal,
	})

	node = conn.New(conn.Config{}, conn.Deps{
		Subtree:    subtree.New(),
		Retained:   retainedStore,
		Sessions:   sessions,
		Cluster:    clus,
		Membership: memberTracker,
		Admission:  admissionLimiter,
		Logger:     log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := node.Start(ctx); err != nil {
		log.Error("starting node", "error", err)
		os.Exit(1)
	}

	tcp := listeners.NewTCP("tcp", *mqttAddr, nil)
	go func() {
		if err := tcp.Serve(node); err != nil {
			log.Error("tcp listener stopped", "error", err)
		}
	}()
	log.Info("mqtt listening", "addr", *mqttAddr)

	ws := listeners.NewWebSocket("ws", *wsAddr, &listeners.WebSocketConfig{Path: *wsPath})
	go func() {
		if err := ws.Serve(node); err != nil {
			log.Error("websocket listener stopped", "error", err)
		}
	}()
	log.Info("websocket listening", "addr", *wsAddr, "path", *wsPath)

	var tlsListener *listeners.TCP
	if *certFile != "" && *keyFile != "" {
		cert, err := tls.LoadX509KeyPair(*certFile, *keyFile)
		if err != nil {
			log.Error("loading tls certificate", "error", err)
			os.Exit(1)
		}
		tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
		addr := *mqttsAddr
		if addr == "" {
			addr = ":8883"
		}
		tlsListener = listeners.NewTCP("tcp+tls", addr, &listeners.TCPConfig{TLSConfig: tlsCfg})
		go func() {
			if err := tlsListener.Serve(node); err != nil {
				log.Error("tls listener stopped", "error", err)
			}
		}()
		log.Info("mqtts listening", "addr", addr)
	}

	log.Info("broker started", "node_id", id, "cluster_mode", *clusterMode)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")

	tcp.Close()
	ws.Close()
	if tlsListener != nil {
		tlsListener.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := node.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	log.Info("broker stopped")
}

package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"rollbackmatch/server"
)

func main() {
	var (
		port           int
		maxPlayers     int
		adminAddr      string
		provisionerURL string
		proxyHost      string
		logPath        string
	)
	flag.IntVar(&port, "port", 41234, "UDP port to listen on for match traffic")
	flag.IntVar(&maxPlayers, "max-players", 2, "match size served by the local stub provisioner when no provisioner-url is set")
	flag.StringVar(&adminAddr, "admin-addr", ":8090", "HTTP listen address for the admin/observability surface")
	flag.StringVar(&provisionerURL, "provisioner-url", os.Getenv("MVSI_SERVER"), "base URL of the match-provisioning HTTP service")
	flag.StringVar(&proxyHost, "proxy-host", "", "if set, run as a non-host proxy relaying to this host:port instead of hosting matches")
	flag.StringVar(&logPath, "log-file", "rollbackmatch.log", "structured log output path")
	flag.Parse()

	if err := server.InitLogger(logPath); err != nil {
		panic(err)
	}
	defer server.SyncLogger()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		server.Log.Fatalw("udp listen failed", "port", port, "err", err)
	}
	defer conn.Close()

	registry := server.NewRegistry()
	var provisioner server.Provisioner
	if provisionerURL == "" {
		server.Log.Infow("no provisioner-url set, using local stub provisioner", "maxPlayers", maxPlayers)
		provisioner = server.StubProvisioner{MaxPlayers: uint8(maxPlayers), MatchDuration: 216000}
	} else {
		provisioner = server.NewHTTPProvisioner(provisionerURL)
	}
	sender := server.NewUDPSender(conn)
	handshake := server.NewHandshakeManager(registry, provisioner, sender)
	dispatcher := server.NewDispatcher(conn, registry, handshake, sender)

	if proxyHost != "" {
		hostAddr, err := net.ResolveUDPAddr("udp", proxyHost)
		if err != nil {
			server.Log.Fatalw("invalid proxy-host", "proxyHost", proxyHost, "err", err)
		}
		dispatcher.EnableProxyMode(hostAddr)
		server.Log.Infow("running in non-host proxy mode", "hostAddr", hostAddr.String())
	}

	var running atomic.Bool
	running.Store(true)
	go dispatcher.Run(&running)

	admin := server.NewAdminServer(registry, dispatcher)
	stream := server.NewAdminStreamHub(registry, dispatcher)
	streamStop := make(chan struct{})
	go stream.Run(2*time.Second, streamStop)

	mux := http.NewServeMux()
	mux.HandleFunc("/admin/matches", admin.HandleMatches)
	mux.HandleFunc("/metrics", admin.HandleMetrics)
	mux.HandleFunc("/admin/stream", stream.HandleAdminStream)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	httpSrv := &http.Server{Addr: adminAddr, Handler: mux}
	go func() {
		server.Log.Infow("admin surface listening", "addr", adminAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			server.Log.Errorw("admin http server failed", "err", err)
		}
	}()

	server.Log.Infow("match server listening", "port", port, "udpAddr", conn.LocalAddr().String())
	fmt.Fprintf(os.Stdout, "rollbackmatch listening on udp/%d, admin on %s\n", port, adminAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	server.Log.Info("shutting down")
	running.Store(false)
	close(streamStop)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
}

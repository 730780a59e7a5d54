// Command resolverd runs the recursive, caching DNS resolver.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/foxglovedns/resolverd/internal/config"
	"github.com/foxglovedns/resolverd/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML deployment config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("resolverd: %v", err)
	}

	fmt.Println("resolverd: recursive caching DNS resolver")
	fmt.Printf("listening on %s\n", cfg.ListenAddr)

	reg := prometheus.NewRegistry()
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Printf("resolverd: metrics listener stopped: %v", err)
			}
		}()
		fmt.Printf("metrics on %s/metrics\n", cfg.MetricsAddr)
	}

	srv := server.New(cfg, reg)

	ctx, cancel := context.WithCancel(context.Background())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("resolverd: shutting down")
		cancel()
	}()

	srv.Run(ctx)
}

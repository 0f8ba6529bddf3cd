package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"banward/internal/daemon"
	"banward/internal/server"
	"banward/pkg/blocker"
	"banward/pkg/config"
	"banward/pkg/firewall"
	"banward/pkg/persist"
	"banward/pkg/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration", "error", err)
	}

	v4, v6 := buildBackends(cfg)
	fw := firewall.NewReconciler(v4, v6, cfg.Chain, cfg.Hooks, cfg.Action)

	st := store.New()
	pm := persist.NewManager(persist.OSFS{}, st, cfg.DurablePath, cfg.VolatilePath, cfg.DurablePeriod.Std(), cfg.CompressDurable)
	pm.Load()

	bl := blocker.New(st, fw, blocker.Policy{
		Attempts: cfg.Attempts,
		Period:   cfg.Period.Std(),
		BanTime:  cfg.BanTime.Std(),
	})

	now := time.Now().Unix()
	for _, address := range cfg.Whitelist {
		if err := bl.Whitelist(address, now); err != nil {
			log.Error("failed to whitelist", "address", address, "error", err)
		}
	}
	if err := bl.ReassertAll(); err != nil {
		log.Error("failed to reassert loaded bans", "error", err)
	}

	d := daemon.New(st, bl, fw, pm, cfg.TickInterval.Std())
	srv := server.New(d, cfg.Listen)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting server", "listen", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)

	for {
		select {
		case <-reload:
			log.Info("reload signal, forcing durable write")
			if err := d.Flush(); err != nil {
				log.Error("forced save failed", "error", err)
			}

		case err := <-serverErr:
			// Stop through the regular path so the daemon still takes
			// its final forced snapshot before the process exits.
			log.Error("server failed", "error", err)
			cancel()
			<-done
			os.Exit(1)

		case <-stop:
			log.Info("stopping")
			if err := srv.Shutdown(); err != nil {
				log.Error("failed to stop server", "error", err)
			}
			cancel()
			<-done
			return
		}
	}
}

func buildBackends(cfg config.Config) (firewall.Backend, firewall.Backend) {
	if cfg.Firewall == "memory" {
		chains := make([]string, 0, len(cfg.Hooks))
		for _, h := range cfg.Hooks {
			chains = append(chains, h.Chain)
		}
		m := firewall.NewMemory(chains...)
		return m, m
	}

	v4, err := firewall.NewIPTables()
	if err != nil {
		log.Fatal("iptables unavailable", "error", err)
	}
	v6, err := firewall.NewIP6Tables()
	if err != nil {
		log.Fatal("ip6tables unavailable", "error", err)
	}
	return v4, v6
}

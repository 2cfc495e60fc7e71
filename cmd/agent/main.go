// Command agent runs a single KarmaCadabra marketplace agent: one identity,
// one role, one heartbeat loop, until told to stop.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/karmacadabra/agent/internal/agent"
	"github.com/karmacadabra/agent/internal/config"
)

func main() {
	log := logrus.WithField("app", "karmacadabra-agent")

	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		log.WithError(err).Fatal("parse flags")
	}

	cfg, err := config.Load(flags)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	log = log.WithField("agent", cfg.Name).WithField("role", string(cfg.Role))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := agent.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("build agent")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	a.Stop()
	cancel()
	<-done
}

// Command dtmeshd runs a standalone dtmesh engine, advertising and
// discovering peers over the configured transport and serving no UI of its
// own.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	dtmesh "github.com/Akrittt/dtmesh"
	"github.com/Akrittt/dtmesh/config"
	"github.com/Akrittt/dtmesh/transport"
)

func main() {
	configPath := flag.String("config", "dtmesh.toml", "path to the daemon's TOML configuration file")
	initFlag := flag.Bool("init", false, "write a default configuration file to -config and exit")
	logLevel := flag.String("log-level", "info", "logrus log level (debug, info, warn, error)")
	flag.Parse()

	if *initFlag {
		def := config.Default()
		def.SelfUserID = uuid.NewString()
		if err := config.Save(*configPath, def); err != nil {
			fmt.Fprintf(os.Stderr, "error: writing default config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote default configuration to %s (self_user_id=%s)\n", *configPath, def.SelfUserID)
		return
	}

	if level, err := logrus.ParseLevel(*logLevel); err == nil {
		logrus.SetLevel(level)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(1)
	}

	tr, err := buildTransport(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: building transport: %v\n", err)
		os.Exit(1)
	}

	engine, err := dtmesh.New(&dtmesh.Options{
		SelfUserID: cfg.SelfUserID,
		DBPath:     cfg.DBPath,
		CryptoSeed: cfg.CryptoSeed,
		Transport:  tr,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: starting engine: %v\n", err)
		os.Exit(1)
	}
	logrus.WithField("self_user_id", engine.SelfUserID()).Info("dtmeshd: engine started")

	go logEvents(engine)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logrus.Info("dtmeshd: shutting down")
	if err := engine.Shutdown(); err != nil {
		logrus.WithError(err).Error("dtmeshd: shutdown reported an error")
	}
}

func buildTransport(cfg *config.Config) (transport.PeerTransport, error) {
	switch cfg.Transport {
	case "quic":
		peers := make(map[string]string, len(cfg.StaticPeers))
		for _, p := range cfg.StaticPeers {
			peers[p.EndpointID] = p.Addr
		}
		return transport.NewQUICTransport(cfg.ListenAddr, peers)
	case "loopback":
		return transport.NewLoopbackTransport(transport.NewLoopbackHub()), nil
	case "udp", "":
		return transport.NewUDPTransport(cfg.ListenAddr, cfg.BroadcastAddr)
	default:
		return nil, fmt.Errorf("dtmeshd: unknown transport %q", cfg.Transport)
	}
}

func logEvents(engine *dtmesh.Engine) {
	for ev := range engine.Events() {
		fields := logrus.Fields{"kind": ev.Kind}
		if ev.MessageID != "" {
			fields["message_id"] = ev.MessageID
		}
		if ev.PeerID != "" {
			fields["peer_id"] = ev.PeerID
		}
		if ev.Reason != nil {
			fields["reason"] = ev.Reason
		}
		logrus.WithFields(fields).Debug("dtmeshd: event")
	}
}

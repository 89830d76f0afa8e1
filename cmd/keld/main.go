package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	log "github.com/ipfs/go-log/v2"

	"xdao.co/kel/config"
	"xdao.co/kel/engine"
	"xdao.co/kel/event"
	"xdao.co/kel/kel"
	"xdao.co/kel/keys"
	"xdao.co/kel/registry"
	"xdao.co/kel/storage/storeregistry"
	"xdao.co/kel/telemetry"
	"xdao.co/kel/transport/grpcapi"

	_ "xdao.co/kel/storage/boltdb"
	_ "xdao.co/kel/storage/localfs"
	_ "xdao.co/kel/storage/memory"
	_ "xdao.co/kel/storage/sqlite"
)

var logger = log.Logger("kel/keld")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("keld", flag.ContinueOnError)
	configPath := fs.String("config", "", "TOML config file")
	listen := fs.String("listen", "", "listen address (overrides config)")
	backend := fs.String("backend", "", "storage backend name (overrides config)")
	logLevel := fs.String("log-level", "", "log level (overrides config)")
	listBackends := fs.Bool("list-backends", false, "List supported backends and exit")

	flagOpts := storeregistry.Options{}
	storeregistry.RegisterFlags(fs, storeregistry.UsageDaemon, flagOpts)

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *listBackends {
		for _, b := range storeregistry.List(storeregistry.UsageDaemon) {
			if b.Description == "" {
				_, _ = fmt.Fprintf(stdout, "%s\n", b.Name)
				continue
			}
			_, _ = fmt.Fprintf(stdout, "%s\t%s\n", b.Name, b.Description)
		}
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *backend != "" {
		cfg.Storage.Backend = *backend
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	for k, v := range flagOpts {
		cfg.Storage.Options[k] = v
	}
	if err := log.SetLogLevel("*", cfg.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warnf("telemetry shutdown: %v", err)
		}
	}()

	store, err := storeregistry.Open(cfg.Storage.Backend, storeregistry.UsageDaemon, cfg.Storage.Options)
	if err != nil {
		return err
	}

	var proc *registry.Processor
	opts := []engine.Option{
		engine.WithMaxEscrow(cfg.Engine.MaxEscrow),
		engine.WithMaxEscrowIdentifiers(cfg.Engine.MaxEscrowIdentifiers),
		engine.WithMaxBufferedReceipts(cfg.Engine.MaxBufferedReceipts),
		// Registry events wait on anchors in issuer logs; retry them after
		// every admission.
		engine.WithAdmitHook(func(ctx context.Context, _ *event.Message, _ kel.KeyState) {
			if n := proc.ProcessEscrow(ctx); n > 0 {
				logger.Infof("applied %d escrowed registry events", n)
			}
		}),
	}
	if cfg.Engine.WitnessSeed != "" {
		w, err := witnessSigner(cfg.Engine.WitnessSeed)
		if err != nil {
			_ = store.Close()
			return err
		}
		logger.Infof("receipting as witness %s", w.PublicKey())
		opts = append(opts, engine.WithWitnessSigner(w))
	}
	eng, err := engine.New(ctx, store, opts...)
	if err != nil {
		_ = store.Close()
		return err
	}
	defer eng.Close()
	proc = registry.NewProcessor(eng)

	lis, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}
	defer lis.Close()

	logger.Infof("keld starting (backend=%s, digest=%s)", cfg.Storage.Backend, cfg.Digest)
	d := grpcapi.NewDaemon(&grpcapi.Server{Engine: eng, Registry: proc})
	return d.Serve(ctx, lis)
}

func witnessSigner(seedHex string) (keys.Signer, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("witness seed: %w", err)
	}
	return keys.NewEd25519Signer(seed)
}

package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/witmproxy/witmproxy/pkg/ca"
	"github.com/witmproxy/witmproxy/pkg/config"
	"github.com/witmproxy/witmproxy/pkg/logging"
	"github.com/witmproxy/witmproxy/pkg/plugin"
	"github.com/witmproxy/witmproxy/pkg/predicate"
	"github.com/witmproxy/witmproxy/pkg/proxy"
	"github.com/witmproxy/witmproxy/pkg/sandbox"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proxy front-end in the foreground",
	Long: `Bring up the full proxy pipeline in the foreground: open the
CA, load the plugin registry, bind the front-end listener, and run until
interrupted.

Apart from cert status and daemon status/logs, which read files this
binary writes, the daemon, proxy, cert, and plugin commands are thin
boundary stubs (see each command's help).`,
	RunE: runServe,
}

var (
	serveConfigPath string
	serveLogFile    string
	serveListenAddr string
)

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "path to a config file (yaml/toml/json)")
	serveCmd.Flags().StringVar(&serveLogFile, "log-file", "", "override the configured event log path")
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", "", "override the configured listen address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath, appDir)
	if err != nil {
		return err
	}
	if serveLogFile != "" {
		cfg.LogFilePath = serveLogFile
	}

	if err := os.MkdirAll(cfg.AppDir, 0700); err != nil {
		return err
	}

	textHandler := slog.NewTextHandler(os.Stderr, nil)
	log := slog.New(textHandler)

	jsonlSink, err := logging.NewJSONLWriter(cfg.LogFilePath)
	if err != nil {
		return err
	}
	defer jsonlSink.Close()

	emitter := logging.NewEmitter(logging.EmitterConfig{
		RunID:       uuid.NewString(),
		AgentSystem: "witmproxy",
	}, jsonlSink)
	defer emitter.Close()

	caInst, err := ca.Open(cfg.AppDir, cfg.LeafCacheCapacity)
	if err != nil {
		return err
	}

	dbStore, err := plugin.OpenStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer dbStore.Close()

	runtime := sandbox.NewRuntime(log)
	engine, err := predicate.NewEngine()
	if err != nil {
		return err
	}

	registry, err := plugin.NewRegistry(dbStore, runtime, engine, log)
	if err != nil {
		return err
	}

	srv := proxy.New(cfg, caInst, registry, log, emitter)
	if err := srv.Start(serveListenAddr); err != nil {
		return err
	}
	log.Info("proxy listening", "addr", srv.Addr().String())

	if err := publishServices(cfg.AppDir, srv.Addr().String()); err != nil {
		log.Warn("failed to publish services.json", "error", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	return srv.Shutdown(10 * time.Second)
}

// publishServices writes services.json so external tooling (and the
// admin UI) can discover the running front-end's bound address without
// parsing logs.
func publishServices(dir, proxyAddr string) error {
	payload := struct {
		Proxy string `json:"proxy"`
	}{Proxy: proxyAddr}
	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "services.json"), b, 0644)
}

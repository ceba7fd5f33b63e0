package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/yndnr/psastore-go/internal/core/service"
	"github.com/yndnr/psastore-go/internal/infra/buildinfo"
	"github.com/yndnr/psastore-go/internal/infra/confloader"
	"github.com/yndnr/psastore-go/internal/infra/shutdown"
	"github.com/yndnr/psastore-go/internal/server/config"
	"github.com/yndnr/psastore-go/internal/server/httpserver"
	"github.com/yndnr/psastore-go/internal/server/httpserver/handler"
	"github.com/yndnr/psastore-go/internal/server/localserver"
	"github.com/yndnr/psastore-go/internal/storage"
	"github.com/yndnr/psastore-go/internal/telemetry/logger"
	"github.com/yndnr/psastore-go/internal/telemetry/metric"
	"github.com/yndnr/psastore-go/pkg/crypto/adaptive"
	"github.com/yndnr/psastore-go/pkg/ipc"
)

// serviceIDs maps service names to their IPC service identifiers.
var serviceIDs = map[string]uint32{
	service.ServicePS:  ipc.SIDProtectedStorage,
	service.ServiceITS: ipc.SIDInternalTrustedStorage,
}

// store is one opened storage service.
type store struct {
	name    string
	engine  *storage.Engine
	service *service.StorageService
}

func run(ctx context.Context, configFile string, overrides map[string]any) error {
	cfg, err := loadConfig(configFile, overrides, true)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	slogLogger := logger.Slog(log)

	info := buildinfo.Get()
	log.Info("starting psastore-server",
		"version", info.Version,
		"commit", info.Commit,
		"config", configFile)

	var reg *metric.Registry
	if cfg.Telemetry.Metrics {
		reg = metric.NewRegistry()
	}

	stores, err := openStores(ctx, cfg, reg, slogLogger)
	if err != nil {
		return err
	}

	sh := shutdown.NewHandler(cfg.Server.ShutdownTimeout, slogLogger)

	// Hooks run in reverse order: listeners stop before the stores close.
	for _, st := range stores {
		st := st
		sh.OnShutdown("store "+st.name, func(context.Context) error {
			return st.engine.Close()
		})
	}

	local, err := newLocalServer(cfg, stores, reg, slogLogger)
	if err != nil {
		sh.Shutdown()
		return err
	}
	sh.OnShutdown("local server", local.Shutdown)
	go func() {
		log.Info("local server listening", "path", cfg.Server.Local.Path)
		if err := local.ListenAndServe(); err != nil {
			log.Error("local server error", "error", err)
			sh.Trigger("local server failed")
		}
	}()

	if cfg.Server.HTTP.Enabled {
		hs := newHTTPServer(cfg, stores, reg, slogLogger)
		sh.OnShutdown("http server", hs.Shutdown)
		go func() {
			log.Info("HTTP server listening", "addr", cfg.Server.HTTP.Addr, "tls", cfg.Server.HTTP.TLSCertFile != "", "mtls", cfg.Server.HTTP.ClientCAFile != "")
			if err := hs.ListenAndServe(); err != nil {
				log.Error("HTTP server error", "error", err)
				sh.Trigger("http server failed")
			}
		}()
	}

	reload := func() { reloadConfig(configFile, overrides, log) }
	sh.OnReload(reload)
	if configFile != "" {
		w, err := confloader.NewWatcher(confloader.WithWatcherLogger(slogLogger))
		if err != nil {
			log.Warn("configuration watcher disabled", "error", err)
		} else if err := w.Watch(configFile); err != nil {
			w.Stop()
			log.Warn("configuration watcher disabled", "error", err)
		} else {
			w.OnChange(func(string) { reload() })
			w.StartAsync()
			sh.OnShutdown("config watcher", func(context.Context) error { return w.Stop() })
		}
	}

	log.Info("server started", "services", len(stores))
	if err := sh.Wait(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("server stopped gracefully")
	return nil
}

// loadConfig reads defaults, the optional file, PSASTORE_ variables and
// the flag overrides, in that order. prepare creates the data directory.
func loadConfig(configFile string, overrides map[string]any, prepare bool) (*config.ServerConfig, error) {
	cfg := config.Default()

	var opts []confloader.Option
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}
	loader := confloader.NewLoader(opts...)
	if len(overrides) > 0 {
		if err := loader.LoadMap(overrides); err != nil {
			return nil, err
		}
	}
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}

	check := config.Check
	if prepare {
		check = config.Verify
	}
	if err := check(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// initLogger builds the process logger and installs it as the default.
func initLogger(cfg *config.ServerConfig) (logger.Logger, error) {
	log, err := logger.New(cfg.Log.LoggerConfig())
	if err != nil {
		return nil, err
	}
	logger.SetDefault(log)
	return log, nil
}

// reloadConfig applies the settings that can change at runtime. Only the
// log level is live; other changes take effect on restart.
func reloadConfig(configFile string, overrides map[string]any, log logger.Logger) {
	cfg, err := loadConfig(configFile, overrides, false)
	if err != nil {
		log.Error("configuration reload failed", "error", err)
		return
	}
	old := logger.GetLevel()
	logger.SetLevel(cfg.Log.Level)
	log.Info("configuration reloaded", "log_level", logger.GetLevel(), "previous_level", old)
}

// openStores opens and recovers every enabled service. On error the
// stores opened so far are closed.
func openStores(ctx context.Context, cfg *config.ServerConfig, reg *metric.Registry, log *slog.Logger) (stores []*store, err error) {
	if log == nil {
		log = slog.Default()
	}
	kc, err := cfg.Security.KeyConfig()
	if err != nil {
		return nil, err
	}
	defer adaptive.ZeroKey(kc.Passphrase)

	var master []byte
	if kc.Enabled() {
		master, err = adaptive.MasterKey(kc, cfg.SaltPath())
		if err != nil {
			return nil, fmt.Errorf("master key: %w", err)
		}
		defer adaptive.ZeroKey(master)
	}

	defer func() {
		if err != nil {
			for _, st := range stores {
				st.engine.Close()
			}
			stores = nil
		}
	}()

	services := cfg.Services()
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		st, err := openStore(ctx, cfg, name, services[name], master, reg, log)
		if err != nil {
			return stores, fmt.Errorf("open %s: %w", name, err)
		}
		stores = append(stores, st)
	}

	if reg != nil {
		sources := make([]metric.StoreSource, 0, len(stores))
		for _, st := range stores {
			sources = append(sources, st.engine)
		}
		if err := reg.Registerer().Register(metric.NewStoreCollector(sources...)); err != nil {
			return stores, fmt.Errorf("register store metrics: %w", err)
		}
	}
	return stores, nil
}

func openStore(ctx context.Context, cfg *config.ServerConfig, name string, sc config.ServiceConfig, master []byte, reg *metric.Registry, log *slog.Logger) (*store, error) {
	log = log.With("service", name)

	var codecKey []byte
	if sc.Sealed(master != nil) {
		codecKey = master
	}
	c, err := adaptive.ForService(codecKey, name, adaptive.CipherType(sc.Cipher))
	if err != nil {
		return nil, fmt.Errorf("record cipher: %w", err)
	}
	codec := storage.NewRecordCodec(c)

	backend, err := storage.Open(sc.BackendConfig(name, cfg.ServiceDir(name)), codec, log)
	if err != nil {
		return nil, err
	}
	if b, ok := backend.(*storage.BadgerBackend); ok && reg != nil {
		b.RegisterMetrics(reg.Registerer(), name)
	}

	engine, err := storage.New(sc.EngineConfig(name, log), backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	if err := engine.Recover(ctx); err != nil {
		engine.Close()
		return nil, fmt.Errorf("recover: %w", err)
	}

	opts := sc.ServiceOptions()
	if reg != nil {
		opts.Recorder = reg
	}
	log.Info("storage service ready",
		"backend", sc.Backend,
		"sealed", codec.Sealed(),
		"entries", engine.Count())

	return &store{
		name:    name,
		engine:  engine,
		service: service.NewStorageService(name, engine, opts),
	}, nil
}

func newLocalServer(cfg *config.ServerConfig, stores []*store, reg *metric.Registry, log *slog.Logger) (*localserver.Server, error) {
	lc := cfg.Server.Local
	mode, err := lc.FileMode()
	if err != nil {
		return nil, fmt.Errorf("server.local.socket_mode: %w", err)
	}

	var opts []localserver.Option
	if log != nil {
		opts = append(opts, localserver.WithLogger(log))
	}
	if reg != nil {
		opts = append(opts, localserver.WithMetrics(reg))
	}
	srv := localserver.New(localserver.Config{
		Path:             lc.Path,
		Mode:             mode,
		DefaultPartition: lc.DefaultPartition,
		MaxConnections:   lc.MaxConnections,
		MaxMessageSize:   lc.MaxMessageSize,
		RateLimit:        lc.RateLimit,
		RateBurst:        lc.RateBurst,
		IdleTimeout:      lc.IdleTimeout,
	}, opts...)

	for _, st := range stores {
		sid, ok := serviceIDs[st.name]
		if !ok {
			return nil, fmt.Errorf("no service id for %s", st.name)
		}
		srv.Register(sid, st.service)
	}
	return srv, nil
}

func newHTTPServer(cfg *config.ServerConfig, stores []*store, reg *metric.Registry, log *slog.Logger) *httpserver.Server {
	hc := cfg.Server.HTTP
	backings := make(map[string]handler.Backing, len(stores))
	for _, st := range stores {
		backings[st.name] = handler.Backing{Service: st.service, Store: st.engine}
	}

	router := httpserver.NewRouter(&httpserver.RouterConfig{
		Backings:       backings,
		Metrics:        reg,
		Logger:         log,
		AdminAllowList: hc.AllowList,
		RateLimit:      hc.RateLimit,
		RateBurst:      hc.RateBurst,
		EnableAudit:    true,
	})
	return httpserver.New(httpserver.Config{
		Addr:         hc.Addr,
		TLSCertFile:  hc.TLSCertFile,
		TLSKeyFile:   hc.TLSKeyFile,
		ClientCAFile: hc.ClientCAFile,
		ReadTimeout:  hc.ReadTimeout,
		WriteTimeout: hc.WriteTimeout,
		Logger:       log,
	}, router)
}

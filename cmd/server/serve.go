package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Guti2010/compute-server/internal/admin"
	"github.com/Guti2010/compute-server/internal/config"
	"github.com/Guti2010/compute-server/internal/handlers"
	"github.com/Guti2010/compute-server/internal/jobs"
	"github.com/Guti2010/compute-server/internal/metrics"
	"github.com/Guti2010/compute-server/internal/registry"
	"github.com/Guti2010/compute-server/internal/router"
	"github.com/Guti2010/compute-server/internal/sched"
	"github.com/Guti2010/compute-server/internal/server"
	"github.com/Guti2010/compute-server/internal/telemetry"
	"github.com/Guti2010/compute-server/internal/util"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP/1.0 compute server",
	RunE:  runServe,
}

func newLogger(level string) *zap.Logger {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(&lumberjack.Logger{
			Filename:   "compute-server.log",
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     14,
			Compress:   true,
		}),
		lvl,
	)
	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(os.Stdout),
		lvl,
	)
	return zap.New(zapcore.NewTee(core, consoleCore))
}

func runServe(cmd *cobra.Command, args []string) error {
	bootLog := zap.NewExample()
	loader, err := config.NewLoader(configPath, bootLog)
	if err != nil {
		return err
	}
	cfg := loader.Current()

	log := newLogger(cfg.LogLevel)
	defer log.Sync()

	handlers.SetDataDir(cfg.DataDir)

	collector := metrics.New(cfg.MetricsRingCapacity)
	reg := registry.Defaults(cfg.CPUTimeout, cfg.IOTimeout)

	pools := map[registry.Category]*sched.Pool{
		registry.Basic:    sched.New("basic", cfg.Basic.Workers, cfg.Basic.Capacity, collector),
		registry.CPUBound: sched.New("cpu_bound", cfg.CPUBound.Workers, cfg.CPUBound.Capacity, collector),
		registry.IOBound:  sched.New("io_bound", cfg.IOBound.Workers, cfg.IOBound.Capacity, collector),
	}

	var store *jobs.Store
	if cfg.JobStorePath != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			log.Warn("could not create data dir, job persistence disabled", zap.Error(err))
		} else {
			store = jobs.NewStore(cfg.JobStorePath, log)
		}
	}

	jobCfg := map[registry.Category]jobs.CategoryConfig{
		registry.Basic:    {Workers: cfg.Basic.Workers, Capacity: cfg.JobQueueBasic, AgingWindow: cfg.JobAgingWindow, DisableAging: cfg.JobDisableAging},
		registry.CPUBound: {Workers: cfg.CPUBound.Workers, Capacity: cfg.JobQueueCPUBound, AgingWindow: cfg.JobAgingWindow, DisableAging: cfg.JobDisableAging},
		registry.IOBound:  {Workers: cfg.IOBound.Workers, Capacity: cfg.JobQueueIOBound, AgingWindow: cfg.JobAgingWindow, DisableAging: cfg.JobDisableAging},
	}
	jobman := jobs.NewManager(reg, util.NewUUIDGen(), util.RealClock, log, store, cfg.JobGraceCeiling, jobCfg)

	promReg := prometheus.NewRegistry()
	exporter := telemetry.NewExporter(promReg)
	collector.Subscribe(exporter.Record)

	adminSrv := admin.New(cfg.AdminAddr, promReg, log)
	adminSrv.Start()

	stopGaugeRefresh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				exporter.RefreshGauges(collector.Snapshot())
			case <-stopGaugeRefresh:
				return
			}
		}
	}()

	dispatcher := router.New(reg, pools, jobman, collector)
	srv := server.New(dispatcher, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info("serving HTTP/1.0", zap.String("addr", cfg.ListenAddr))
		errCh <- srv.ListenAndServe(cfg.ListenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("listener failed", zap.Error(err))
		}
	}

	close(stopGaugeRefresh)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	_ = adminSrv.Shutdown(ctx)
	dispatcher.Close()
	for _, p := range pools {
		p.Close()
	}

	return nil
}

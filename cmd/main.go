package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dyson"
	"dyson/collect"
	"dyson/config"
)

func main() {
	if err := Command().Execute(); err != nil {
		os.Exit(1)
	}
}

func Command() *cobra.Command {
	c := &cobra.Command{
		Use:          "dyson",
		Short:        "Runs the self-consistent Dyson iteration",
		RunE:         runFunc,
		SilenceUsage: true,
	}
	AddFlags(c.Flags())
	return c
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.Encoding = "console"
	return cfg.Build()
}

// loadParams 读取输入文件；存在检查点时优先使用上次保存的参数
func loadParams(log *zap.Logger, input, workspace string) (*config.Params, error) {
	p, err := config.Load(input)
	if err != nil {
		return nil, err
	}
	paths := p.Paths(workspace)
	if _, err := os.Stat(paths.Weight); err != nil {
		return p, nil
	}
	log.Info("load previous DYSON_para file", zap.String("file", paths.Para))
	prev, err := config.Load(paths.Para)
	if err != nil {
		log.Warn("previous DYSON_para file unusable, use input file instead", zap.Error(err))
		return p, nil
	}
	return prev, nil
}

// serveMetrics 在 addr 上提供 /metrics，返回关闭函数
func serveMetrics(log *zap.Logger, addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func runFunc(c *cobra.Command, args []string) error {
	cfg, err := ParseFlags(c.Flags(), args)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := loadParams(log, cfg.InputFile, cfg.Workspace)
	if err != nil {
		log.Error("failed to load parameters", zap.String("file", cfg.InputFile), zap.Error(err))
		return err
	}

	if cfg.Collect {
		log.Info("collect statistics only")
		m, err := p.IndexMap()
		if err != nil {
			return err
		}
		if _, err := collect.New(cfg.Workspace, m, p.Dyson.Order, log).CollectOnly(ctx); err != nil {
			log.Error("collection fails", zap.Error(err))
			return err
		}
		return nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if cfg.MetricsAddr != "" {
		defer serveMetrics(log, cfg.MetricsAddr, reg)()
	}

	d, err := dyson.New(p, cfg.Workspace, dyson.WithLogger(log), dyson.WithMetrics(dyson.NewMetrics(reg)))
	if err != nil {
		log.Error("failed to initialize", zap.Error(err))
		return err
	}
	if err := d.Run(ctx); err != nil {
		log.Error("dyson fails", zap.Error(err))
		return err
	}
	log.Info("calculation ended")
	return nil
}

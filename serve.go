package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"MinerWs/global"
	"MinerWs/global/config"
	"MinerWs/logger"
	"MinerWs/service/nacos"
	"MinerWs/service/rpc"
	"MinerWs/service/session"
	"MinerWs/service/ws"
	"MinerWs/service/ws/handlers"
	"MinerWs/tools/errs"
	"MinerWs/tools/safe"
	"MinerWs/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the miner websocket gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.AppConfig) error {
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		return errs.ErrArgs.WrapMsg(err.Error())
	}
	global.ConfigIds(cfg)

	var cl global.Cleanup
	defer cl.Run()

	// 1) 基础设施
	store, err := global.ConfigStore(ctx, cfg, &cl)
	if err != nil {
		return err
	}
	emitter, err := global.ConfigEmitter(cfg, &cl)
	if err != nil {
		return err
	}
	tracker, err := global.ConfigPresence(ctx, cfg, &cl)
	if err != nil {
		return err
	}
	jwtOpts, err := security.NewOptions([]byte(cfg.Security.JWTSecret), cfg.Security.JWTAlg, cfg.Security.TokenTTL)
	if err != nil {
		return err
	}

	// 2) 会话表 + 消息处理
	var gw *ws.Gateway
	reg := session.NewRegistry(session.ManagerConf{
		IdleTTL:    cfg.Session.IdleTTL,
		SweepEvery: cfg.Session.SweepEvery,
		OnEvict:    func(s session.Session) { gw.Evict(s) },
	})
	table := ws.NewHandlerTable()
	if err := handlers.Register(table, emitter); err != nil {
		return err
	}
	table.Freeze()

	gw = ws.NewGateway(ws.Deps{
		Registry: reg,
		Store:    store,
		Events:   emitter,
		Auth:     ws.NewJWTAuthenticator(jwtOpts),
		Handlers: table,
		Presence: tracker,
		RSABits:  cfg.Security.RSABits,
	})
	reg.Start(ctx)
	cl.Add(reg.Close)

	// 3) HTTP + WS
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	global.ConfigMiddleware(engine, cfg)
	srv := ws.NewServer(gw, ws.ServerConf{
		Path:           cfg.WS.Path,
		ReadTimeout:    cfg.WS.ReadTimeout,
		WriteWait:      cfg.WS.WriteWait,
		SendQueue:      cfg.WS.SendQueue,
		MaxMessageSize: cfg.WS.MaxMessageSize,
		AllowedOrigins: cfg.WS.AllowedOrigins,
		AdminToken:     cfg.Server.AdminToken,
	})
	srv.RegisterRoutes(engine)
	httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: engine, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 2)
	safe.Go("http", func() {
		logger.Info("[HTTP] listening", zap.String("addr", cfg.Server.Addr), zap.String("ws", cfg.WS.Path))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errs.WrapMsg(err, "http serve", "addr", cfg.Server.Addr)
		}
	})

	// 4) gRPC 健康检查
	var health *rpc.HealthServer
	if cfg.Server.GrpcAddr != "" {
		health = rpc.NewHealthServer()
		safe.Go("grpc-health", func() {
			if err := health.ListenAndServe(cfg.Server.GrpcAddr); err != nil {
				errCh <- err
			}
		})
		health.SetServing(true)
	}

	// 5) nacos 配置热更新 + 服务注册
	if cfg.Nacos.Enabled {
		stopNacos, err := startNacos(cfg, reg)
		if err != nil {
			logger.Warn("nacos unavailable, continuing with local config", zap.Error(err))
		} else {
			cl.Add(stopNacos)
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down", zap.Int("sessions", reg.Count()))
	case err = <-errCh:
		logger.Error("server failed", zap.Error(err))
	}

	if health != nil {
		health.SetServing(false)
		defer health.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if e := httpSrv.Shutdown(shutdownCtx); e != nil {
		logger.Warn("http shutdown", zap.Error(e))
	}
	_ = gw.Shutdown(shutdownCtx)
	return err
}

// startNacos 监听远端配置并注册实例，返回停止函数
func startNacos(cfg *config.AppConfig, reg *session.Registry) (func(), error) {
	nc := cfg.Nacos
	cfgCli, err := nacos.NewConfigClient(nc)
	if err != nil {
		return nil, err
	}

	current := cfg
	watcher := nacos.NewWatcher(cfgCli, nc.DataID, nc.Group, func(data string) error {
		next, err := config.Reload(current, []byte(data))
		if err != nil {
			return err
		}
		before, after := current.Hot(), next.Hot()
		if after.LogLevel != before.LogLevel {
			if err := logger.SetLevel(after.LogLevel); err != nil {
				return err
			}
		}
		if after.IdleTTL != before.IdleTTL {
			reg.SetIdleTTL(after.IdleTTL)
		}
		logger.Info("config reloaded", zap.String("log_level", after.LogLevel), zap.Duration("idle_ttl", after.IdleTTL))
		current = next
		return nil
	})
	if err := watcher.Start(); err != nil {
		cfgCli.CloseClient()
		return nil, err
	}

	stops := []func(){func() { _ = watcher.Stop(); cfgCli.CloseClient() }}
	if nc.Register {
		namingCli, err := nacos.NewNamingClient(nc)
		if err != nil {
			logger.Warn("nacos naming unavailable, skip register", zap.Error(err))
			return stops[0], nil
		}
		ip, port := advertise(cfg)
		nreg := nacos.NewRegistry(namingCli, nc.ServiceName, ip, port).WithNode(cfg.NodeID, global.NodeName(cfg), cfg.WS.Path)
		if err := nreg.Register(); err != nil {
			logger.Warn("nacos register failed", zap.Error(err))
		}
		stops = append(stops, func() {
			if err := nreg.Deregister(); err != nil {
				logger.Warn("nacos deregister failed", zap.Error(err))
			}
			namingCli.CloseClient()
		})
	}
	return func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}, nil
}

func advertise(cfg *config.AppConfig) (string, uint64) {
	ip := cfg.Nacos.AdvertiseIP
	host, portStr, err := net.SplitHostPort(cfg.Server.Addr)
	if err != nil {
		return "127.0.0.1", 0
	}
	if ip == "" {
		ip = host
	}
	if ip == "" || ip == "0.0.0.0" {
		ip = "127.0.0.1"
	}
	port, _ := strconv.ParseUint(portStr, 10, 64)
	return ip, port
}

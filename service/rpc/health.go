package rpc

import (
	"context"
	"errors"
	"net"
	"sync"

	"MinerWs/logger"
	"MinerWs/tools/errs"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName 网关在 grpc health 中登记的服务名
const ServiceName = "minerws.Gateway"

// HealthServer 对外暴露 grpc.health.v1，供 LB/k8s 探活
type HealthServer struct {
	srv    *grpc.Server
	health *health.Server

	mu  sync.Mutex
	lis net.Listener
}

func NewHealthServer(opts ...grpc.ServerOption) *HealthServer {
	h := &HealthServer{
		srv:    grpc.NewServer(opts...),
		health: health.NewServer(),
	}
	grpc_health_v1.RegisterHealthServer(h.srv, h.health)
	h.health.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return h
}

// SetServing 切换网关服务状态；空服务名（整体状态）同步切换
func (h *HealthServer) SetServing(serving bool) {
	st := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		st = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(ServiceName, st)
	h.health.SetServingStatus("", st)
}

// Serve blocks until Stop; lis is owned by the server afterwards.
func (h *HealthServer) Serve(lis net.Listener) error {
	h.mu.Lock()
	h.lis = lis
	h.mu.Unlock()
	logger.Info("grpc health listening", zap.String("addr", lis.Addr().String()))
	if err := h.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return errs.WrapMsg(err, "grpc serve")
	}
	return nil
}

func (h *HealthServer) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errs.WrapMsg(err, "grpc listen", "addr", addr)
	}
	return h.Serve(lis)
}

// Stop 先标记 NOT_SERVING 再优雅退出
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.srv.GracefulStop()
}

// Check 探测远端网关的健康状态，health 子命令使用
func Check(ctx context.Context, conn grpc.ClientConnInterface, service string) (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, errs.WrapMsg(err, "health check", "service", service)
	}
	return resp.GetStatus(), nil
}

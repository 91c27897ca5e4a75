package main

import (
	"context"
	"fmt"
	"time"

	"MinerWs/service/rpc"
	"MinerWs/tools/errs"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func newHealthCmd() *cobra.Command {
	var (
		target  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe a running gateway over grpc.health.v1",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return errs.WrapMsg(err, "dial", "target", target)
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			st, err := rpc.Check(ctx, conn, rpc.ServiceName)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), st.String())
			if st != grpc_health_v1.HealthCheckResponse_SERVING {
				return errs.New("gateway not serving", "status", st.String())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "127.0.0.1:50051", "grpc health address")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "probe timeout")
	return cmd
}

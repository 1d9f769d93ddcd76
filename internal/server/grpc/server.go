// Package grpc binds the panel to its hostname/port: the standard gRPC
// health service plus a small token-authenticated Panel service whose
// messages are google.protobuf.Struct values.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/rosepanel/internal/logging"
	"github.com/dmitrijs2005/rosepanel/internal/server/accounts"
	"github.com/dmitrijs2005/rosepanel/internal/server/models"
	"github.com/dmitrijs2005/rosepanel/internal/server/permissions"
	"github.com/dmitrijs2005/rosepanel/internal/server/thorns"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Panel is the slice of the account manager served over the network.
type Panel interface {
	RegisterOrLogin(ctx context.Context, email, password string, registering bool) (*accounts.Account, error)
	Resolve(ctx context.Context, token string) (*accounts.Account, error)
	Logout(ctx context.Context, acct *accounts.Account) (bool, error)
	SetPermission(ctx context.Context, acct *accounts.Account, target string, perm permissions.Permission, value bool) error
	ListServers(ctx context.Context, acct *accounts.Account, ownOnly bool) ([]models.Server, error)
	CreateServer(ctx context.Context, acct *accounts.Account, req thorns.CreateRequest) (*thorns.CreateResult, error)
	StartServer(ctx context.Context, acct *accounts.Account, idOrName string) (*thorns.Handle, error)
	StopServer(ctx context.Context, acct *accounts.Account, idOrName string) error
	DeleteServer(ctx context.Context, acct *accounts.Account, idOrName string) error
}

type GRPCServer struct {
	address string
	panel   Panel
	logger  logging.Logger
	health  *health.Server
}

func NewGRPCServer(address string, l logging.Logger, panel Panel) *GRPCServer {
	return &GRPCServer{
		address: address,
		panel:   panel,
		logger:  l.With("module", "grpc_server"),
		health:  health.NewServer(),
	}
}

// Run listens on the configured address until ctx is cancelled.
func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	s.logger.Info(ctx, "Starting gRPC server", "address", s.address)
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.accessTokenInterceptor))

	healthpb.RegisterHealthServer(srv, s.health)
	srv.RegisterService(&panelServiceDesc, s)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(panelServiceName, healthpb.HealthCheckResponse_SERVING)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	// starts accepting incoming connections
	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}

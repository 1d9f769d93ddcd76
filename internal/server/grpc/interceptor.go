package grpc

import (
	"context"
	"errors"
	"strings"

	"github.com/dmitrijs2005/rosepanel/internal/common"
	"github.com/dmitrijs2005/rosepanel/internal/logging"
	"github.com/dmitrijs2005/rosepanel/internal/server/accounts"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type ctxKey string

const AccountKey ctxKey = "account"

// publicMethods need no token.
var publicMethods = map[string]bool{
	methodPath("Login"):         true,
	methodPath("Register"):      true,
	methodPath("ValidateToken"): true,
}

func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {

	if publicMethods[info.FullMethod] || strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
		return handler(ctx, req)
	}

	var accessToken string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(common.AccessTokenHeaderName)
		if len(values) > 0 {
			accessToken = values[0]
		}
	}
	if len(accessToken) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	acct, err := s.panel.Resolve(ctx, accessToken)
	if err != nil {
		s.logger.Info(ctx, "rejected token", "token", logging.ShortToken(accessToken), "error", err)
		return nil, toStatus(err)
	}

	ctx = context.WithValue(ctx, AccountKey, acct)
	return handler(ctx, req)
}

// accountFrom returns the account stored by the interceptor.
func accountFrom(ctx context.Context) (*accounts.Account, error) {
	acct, ok := ctx.Value(AccountKey).(*accounts.Account)
	if !ok || acct == nil {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}
	return acct, nil
}

// toStatus maps the core error taxonomy to gRPC codes. Anything else is
// reported as an opaque internal error.
func toStatus(err error) error {
	var pe *common.PermissionError
	if errors.As(err, &pe) {
		return permissionStatus(err, pe)
	}

	switch {
	case errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrInvalidCredentials):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, common.ErrInsufficientPermissions):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, common.ErrAccountNotFound), errors.Is(err, common.ErrServerDoesNotExist):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, common.ErrAccountAlreadyExists), errors.Is(err, common.ErrServerExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, common.ErrMissingRequiredFields), errors.Is(err, common.ErrInvalidServerName):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrServerRunning):
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	return status.Error(codes.Internal, "internal error")
}

// permissionStatus carries the missing permission's name as a needed_perms
// detail next to the message.
func permissionStatus(err error, pe *common.PermissionError) error {
	st := status.New(codes.PermissionDenied, err.Error())
	detail, derr := structpb.NewStruct(map[string]interface{}{
		"needed_perms": []interface{}{pe.Name},
	})
	if derr != nil {
		return st.Err()
	}
	if withDetail, derr := st.WithDetails(detail); derr == nil {
		st = withDetail
	}
	return st.Err()
}

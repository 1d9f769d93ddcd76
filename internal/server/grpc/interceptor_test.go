package grpc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dmitrijs2005/rosepanel/internal/common"
	"github.com/dmitrijs2005/rosepanel/internal/server/accounts"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// helper to build server
func newTestServer(tokens map[string]*accounts.Account) *GRPCServer {
	return NewGRPCServer("", nopLogger{}, &fakePanel{tokens: tokens})
}

func TestInterceptor_PublicMethod_AllowsWithoutToken(t *testing.T) {
	s := newTestServer(nil)

	for _, method := range []string{methodPath("Login"), methodPath("Register"), "/grpc.health.v1.Health/Check"} {
		handlerCalled := false
		h := func(ctx context.Context, req interface{}) (interface{}, error) {
			handlerCalled = true
			return "ok", nil
		}

		resp, err := s.accessTokenInterceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: method}, h)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", method, err)
		}
		if !handlerCalled || resp != "ok" {
			t.Fatalf("%s: handler was not called", method)
		}
	}
}

func TestInterceptor_MissingToken(t *testing.T) {
	s := newTestServer(nil)

	info := &grpc.UnaryServerInfo{FullMethod: methodPath("StopServer")}
	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Fatal("handler should not be called when token missing")
		return nil, nil
	}

	_, err := s.accessTokenInterceptor(context.Background(), nil, info, h)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", status.Code(err))
	}
	if status.Convert(err).Message() != "missing token" {
		t.Fatalf("expected 'missing token', got %q", status.Convert(err).Message())
	}
}

func TestInterceptor_InvalidToken(t *testing.T) {
	s := newTestServer(nil)

	md := metadata.New(map[string]string{common.AccessTokenHeaderName: "expired"})
	ctx := metadata.NewIncomingContext(context.Background(), md)
	info := &grpc.UnaryServerInfo{FullMethod: methodPath("StopServer")}

	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Fatal("handler should not be called for invalid token")
		return nil, nil
	}

	_, err := s.accessTokenInterceptor(ctx, nil, info, h)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", status.Code(err))
	}
}

func TestInterceptor_ValidToken_SetsAccount(t *testing.T) {
	want := &accounts.Account{Email: "a@b.com", CurrentSession: "good"}
	s := newTestServer(map[string]*accounts.Account{"good": want})

	md := metadata.New(map[string]string{common.AccessTokenHeaderName: "good"})
	ctx := metadata.NewIncomingContext(context.Background(), md)
	info := &grpc.UnaryServerInfo{FullMethod: methodPath("StopServer")}

	var got *accounts.Account
	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		got, _ = accountFrom(ctx)
		return "ok", nil
	}

	if _, err := s.accessTokenInterceptor(ctx, nil, info, h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Fatalf("account not propagated in context: got %v want %v", got, want)
	}
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{common.ErrInvalidToken, codes.Unauthenticated},
		{common.ErrInvalidCredentials, codes.Unauthenticated},
		{&common.PermissionError{Permission: 8, Name: "CREATE_SERVERS"}, codes.PermissionDenied},
		{fmt.Errorf("wrap: %w", common.ErrServerDoesNotExist), codes.NotFound},
		{common.ErrAccountNotFound, codes.NotFound},
		{common.ErrServerExists, codes.AlreadyExists},
		{common.MissingFields("identifier"), codes.InvalidArgument},
		{common.ErrServerRunning, codes.FailedPrecondition},
		{errors.New("disk on fire"), codes.Internal},
	}
	for _, tt := range tests {
		if got := status.Code(toStatus(tt.err)); got != tt.want {
			t.Errorf("toStatus(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
	if msg := status.Convert(toStatus(errors.New("secret path"))).Message(); msg != "internal error" {
		t.Errorf("internal errors must be opaque, got %q", msg)
	}
}

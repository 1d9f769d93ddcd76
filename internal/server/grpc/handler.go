package grpc

import (
	"context"
	"encoding/json"

	"github.com/dmitrijs2005/rosepanel/internal/common"
	"github.com/dmitrijs2005/rosepanel/internal/server/accounts"
	"github.com/dmitrijs2005/rosepanel/internal/server/models"
	"github.com/dmitrijs2005/rosepanel/internal/server/permissions"
	"github.com/dmitrijs2005/rosepanel/internal/server/thorns"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const panelServiceName = "rosepanel.Panel"

func methodPath(name string) string {
	return "/" + panelServiceName + "/" + name
}

type panelMethod func(s *GRPCServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

var panelMethods = map[string]panelMethod{
	"Register":      (*GRPCServer).Register,
	"Login":         (*GRPCServer).Login,
	"Logout":        (*GRPCServer).Logout,
	"ValidateToken": (*GRPCServer).ValidateToken,
	"Permissions":   (*GRPCServer).Permissions,
	"SetPermission": (*GRPCServer).SetPermission,
	"ListServers":   (*GRPCServer).ListServers,
	"CreateServer":  (*GRPCServer).CreateServer,
	"StartServer":   (*GRPCServer).StartServer,
	"StopServer":    (*GRPCServer).StopServer,
	"DeleteServer":  (*GRPCServer).DeleteServer,
}

var panelServiceDesc = grpc.ServiceDesc{
	ServiceName: panelServiceName,
	HandlerType: (*interface{})(nil),
	Methods:     methodDescs(),
	Streams:     []grpc.StreamDesc{},
	Metadata:    "rosepanel/panel.proto",
}

func methodDescs() []grpc.MethodDesc {
	descs := make([]grpc.MethodDesc, 0, len(panelMethods))
	for name, fn := range panelMethods {
		descs = append(descs, grpc.MethodDesc{MethodName: name, Handler: unaryHandler(name, fn)})
	}
	return descs
}

// unaryHandler adapts a panelMethod the way generated service code does.
func unaryHandler(name string, fn panelMethod) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(*GRPCServer)
		if interceptor == nil {
			return fn(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodPath(name)}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return fn(s, ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func (s *GRPCServer) Register(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.login(ctx, in, true)
}

func (s *GRPCServer) Login(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.login(ctx, in, false)
}

func (s *GRPCServer) login(ctx context.Context, in *structpb.Struct, registering bool) (*structpb.Struct, error) {
	acct, err := s.panel.RegisterOrLogin(ctx, stringField(in, "email_address"), stringField(in, "password"), registering)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]interface{}{
		"email_address": acct.Email,
		"token":         acct.CurrentSession,
	})
}

func (s *GRPCServer) Logout(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	acct, err := accountFrom(ctx)
	if err != nil {
		return nil, err
	}
	ok, err := s.panel.Logout(ctx, acct)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]interface{}{"revoked": ok})
}

// ValidateToken reports whether a token belongs to a live session. Identity
// failures are an answer, not an error.
func (s *GRPCServer) ValidateToken(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	token := stringField(in, "token")
	if token == "" {
		return nil, toStatus(common.MissingFields("token"))
	}
	acct, err := s.panel.Resolve(ctx, token)
	if err != nil {
		if accounts.IsAuthError(err) {
			return structpb.NewStruct(map[string]interface{}{"valid": false})
		}
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]interface{}{
		"valid":         true,
		"email_address": acct.Email,
	})
}

// Permissions lists the names of the permissions the caller holds.
func (s *GRPCServer) Permissions(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	acct, err := accountFrom(ctx)
	if err != nil {
		return nil, err
	}
	names := permissions.Names(acct.Permissions.Held())
	list := make([]interface{}, 0, len(names))
	for _, n := range names {
		list = append(list, n)
	}
	return structpb.NewStruct(map[string]interface{}{
		"email_address": acct.Email,
		"permissions":   list,
	})
}

func (s *GRPCServer) SetPermission(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	acct, err := accountFrom(ctx)
	if err != nil {
		return nil, err
	}
	target := stringField(in, "email_address")
	if target == "" {
		return nil, toStatus(common.MissingFields("email_address"))
	}
	perm, err := permissions.Parse(stringField(in, "permission"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	value := in.GetFields()["value"].GetBoolValue()
	if err := s.panel.SetPermission(ctx, acct, target, perm, value); err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{}, nil
}

func (s *GRPCServer) ListServers(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	acct, err := accountFrom(ctx)
	if err != nil {
		return nil, err
	}
	ownOnly := true
	if v, ok := in.GetFields()["own_only"]; ok {
		ownOnly = v.GetBoolValue()
	}
	servers, err := s.panel.ListServers(ctx, acct, ownOnly)
	if err != nil {
		return nil, toStatus(err)
	}
	list := make([]interface{}, 0, len(servers))
	for i := range servers {
		m, err := toMap(&servers[i])
		if err != nil {
			return nil, status.Error(codes.Internal, "internal error")
		}
		list = append(list, m)
	}
	return structpb.NewStruct(map[string]interface{}{"servers": list})
}

func (s *GRPCServer) CreateServer(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	acct, err := accountFrom(ctx)
	if err != nil {
		return nil, err
	}

	var body struct {
		Identifier  string            `json:"identifier"`
		Description string            `json:"description"`
		InitCmd     string            `json:"init_cmd"`
		InstallCmds []string          `json:"install_cmds"`
		KillSignal  models.KillSignal `json:"kill_signal"`
		Hostname    string            `json:"hostname"`
		Port        *int              `json:"port"`
		Resources   models.Resources  `json:"resources"`
	}
	if err := fromStruct(in, &body); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	res, err := s.panel.CreateServer(ctx, acct, thorns.CreateRequest{
		Identifier:  body.Identifier,
		Description: body.Description,
		InitCmd:     body.InitCmd,
		InstallCmds: body.InstallCmds,
		KillSignal:  body.KillSignal,
		Hostname:    body.Hostname,
		Port:        body.Port,
		Resources:   body.Resources,
	})
	if err != nil {
		return nil, toStatus(err)
	}

	out := map[string]interface{}{
		"server_unique_id": res.SUID,
		"success":          res.Created && res.InstallErr == nil,
		"created":          res.Created,
	}
	if res.InstallErr != nil {
		out["error"] = res.InstallErr.Error()
		out["failed_at_index"] = res.FailedAt
	} else if res.Err != nil {
		s.logger.Error(ctx, "create failed", "error", res.Err)
		out["error"] = "cannot create server directory"
	}
	return structpb.NewStruct(out)
}

func (s *GRPCServer) StartServer(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	acct, err := accountFrom(ctx)
	if err != nil {
		return nil, err
	}
	h, err := s.panel.StartServer(ctx, acct, stringField(in, "server"))
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]interface{}{
		"server_unique_id": h.SUID(),
		"process_pid":      h.PID(),
	})
}

func (s *GRPCServer) StopServer(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	acct, err := accountFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.panel.StopServer(ctx, acct, stringField(in, "server")); err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{}, nil
}

func (s *GRPCServer) DeleteServer(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	acct, err := accountFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.panel.DeleteServer(ctx, acct, stringField(in, "server")); err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{}, nil
}

func stringField(in *structpb.Struct, name string) string {
	return in.GetFields()[name].GetStringValue()
}

func toMap(v interface{}) (map[string]interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	err = json.Unmarshal(b, &m)
	return m, err
}

func fromStruct(in *structpb.Struct, dst interface{}) error {
	b, err := json.Marshal(in.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

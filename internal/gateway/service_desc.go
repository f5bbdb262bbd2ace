package gateway

import (
	"context"

	"google.golang.org/grpc"

	"github.com/openraccoon/raccoon/pkg/models"
	"github.com/openraccoon/raccoon/pkg/wire"
)

// Service names as they appear in gRPC method paths. The descriptors
// below are written by hand against the JSON codec; they follow the
// layout protoc would generate so the registration and client surfaces
// look familiar.
const (
	agentServiceName   = "raccoon.v1.AgentService"
	sandboxServiceName = "raccoon.v1.SandboxService"
)

// AgentServiceServer is the server API for the agent service.
type AgentServiceServer interface {
	ExecuteAgent(*wire.ExecuteAgentRequest, AgentService_ExecuteAgentServer) error
	GetAgentConfig(context.Context, *wire.GetAgentConfigRequest) (*wire.GetAgentConfigResponse, error)
	ValidateTools(context.Context, *wire.ValidateToolsRequest) (*wire.ValidateToolsResponse, error)
	SubmitToolApproval(context.Context, *wire.SubmitToolApprovalRequest) (*wire.SubmitToolApprovalResponse, error)
}

// AgentService_ExecuteAgentServer is the send side of a turn stream.
type AgentService_ExecuteAgentServer interface {
	Send(*models.TurnEvent) error
	grpc.ServerStream
}

type agentExecuteAgentServer struct{ grpc.ServerStream }

func (x *agentExecuteAgentServer) Send(ev *models.TurnEvent) error {
	return x.ServerStream.SendMsg(ev)
}

// RegisterAgentServiceServer registers srv with the gRPC server.
func RegisterAgentServiceServer(s grpc.ServiceRegistrar, srv AgentServiceServer) {
	s.RegisterService(&agentServiceDesc, srv)
}

var agentServiceDesc = grpc.ServiceDesc{
	ServiceName: agentServiceName,
	HandlerType: (*AgentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetAgentConfig", Handler: getAgentConfigHandler},
		{MethodName: "ValidateTools", Handler: validateToolsHandler},
		{MethodName: "SubmitToolApproval", Handler: submitToolApprovalHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "ExecuteAgent", Handler: executeAgentHandler, ServerStreams: true},
	},
}

func executeAgentHandler(srv any, stream grpc.ServerStream) error {
	in := new(wire.ExecuteAgentRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(AgentServiceServer).ExecuteAgent(in, &agentExecuteAgentServer{stream})
}

func getAgentConfigHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.GetAgentConfigRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServiceServer).GetAgentConfig(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + agentServiceName + "/GetAgentConfig"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AgentServiceServer).GetAgentConfig(ctx, req.(*wire.GetAgentConfigRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func validateToolsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.ValidateToolsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServiceServer).ValidateTools(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + agentServiceName + "/ValidateTools"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AgentServiceServer).ValidateTools(ctx, req.(*wire.ValidateToolsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func submitToolApprovalHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.SubmitToolApprovalRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServiceServer).SubmitToolApproval(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + agentServiceName + "/SubmitToolApproval"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AgentServiceServer).SubmitToolApproval(ctx, req.(*wire.SubmitToolApprovalRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// AgentServiceClient is the client API for the agent service.
type AgentServiceClient interface {
	ExecuteAgent(ctx context.Context, in *wire.ExecuteAgentRequest, opts ...grpc.CallOption) (AgentService_ExecuteAgentClient, error)
	GetAgentConfig(ctx context.Context, in *wire.GetAgentConfigRequest, opts ...grpc.CallOption) (*wire.GetAgentConfigResponse, error)
	ValidateTools(ctx context.Context, in *wire.ValidateToolsRequest, opts ...grpc.CallOption) (*wire.ValidateToolsResponse, error)
	SubmitToolApproval(ctx context.Context, in *wire.SubmitToolApprovalRequest, opts ...grpc.CallOption) (*wire.SubmitToolApprovalResponse, error)
}

// AgentService_ExecuteAgentClient is the receive side of a turn stream.
type AgentService_ExecuteAgentClient interface {
	Recv() (*models.TurnEvent, error)
	grpc.ClientStream
}

type agentServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAgentServiceClient creates a client over an established connection.
// The connection must use the JSON codec (grpc.CallContentSubtype(CodecName)).
func NewAgentServiceClient(cc grpc.ClientConnInterface) AgentServiceClient {
	return &agentServiceClient{cc}
}

func (c *agentServiceClient) ExecuteAgent(ctx context.Context, in *wire.ExecuteAgentRequest, opts ...grpc.CallOption) (AgentService_ExecuteAgentClient, error) {
	stream, err := c.cc.NewStream(ctx, &agentServiceDesc.Streams[0], "/"+agentServiceName+"/ExecuteAgent", opts...)
	if err != nil {
		return nil, err
	}
	x := &agentExecuteAgentClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type agentExecuteAgentClient struct{ grpc.ClientStream }

func (x *agentExecuteAgentClient) Recv() (*models.TurnEvent, error) {
	ev := new(models.TurnEvent)
	if err := x.ClientStream.RecvMsg(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func (c *agentServiceClient) GetAgentConfig(ctx context.Context, in *wire.GetAgentConfigRequest, opts ...grpc.CallOption) (*wire.GetAgentConfigResponse, error) {
	out := new(wire.GetAgentConfigResponse)
	if err := c.cc.Invoke(ctx, "/"+agentServiceName+"/GetAgentConfig", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentServiceClient) ValidateTools(ctx context.Context, in *wire.ValidateToolsRequest, opts ...grpc.CallOption) (*wire.ValidateToolsResponse, error) {
	out := new(wire.ValidateToolsResponse)
	if err := c.cc.Invoke(ctx, "/"+agentServiceName+"/ValidateTools", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentServiceClient) SubmitToolApproval(ctx context.Context, in *wire.SubmitToolApprovalRequest, opts ...grpc.CallOption) (*wire.SubmitToolApprovalResponse, error) {
	out := new(wire.SubmitToolApprovalResponse)
	if err := c.cc.Invoke(ctx, "/"+agentServiceName+"/SubmitToolApproval", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// SandboxServiceServer is the server API for the sandbox service.
type SandboxServiceServer interface {
	ExecuteCode(*wire.ExecuteCodeRequest, SandboxService_ExecuteCodeServer) error
	CreateSandbox(context.Context, *wire.CreateSandboxRequest) (*wire.CreateSandboxResponse, error)
	UploadFile(context.Context, *wire.UploadFileRequest) (*wire.UploadFileResponse, error)
	DestroySandbox(context.Context, *wire.DestroySandboxRequest) (*wire.DestroySandboxResponse, error)
}

// SandboxService_ExecuteCodeServer is the send side of an execution stream.
type SandboxService_ExecuteCodeServer interface {
	Send(*models.SandboxEvent) error
	grpc.ServerStream
}

type sandboxExecuteCodeServer struct{ grpc.ServerStream }

func (x *sandboxExecuteCodeServer) Send(ev *models.SandboxEvent) error {
	return x.ServerStream.SendMsg(ev)
}

// RegisterSandboxServiceServer registers srv with the gRPC server.
func RegisterSandboxServiceServer(s grpc.ServiceRegistrar, srv SandboxServiceServer) {
	s.RegisterService(&sandboxServiceDesc, srv)
}

var sandboxServiceDesc = grpc.ServiceDesc{
	ServiceName: sandboxServiceName,
	HandlerType: (*SandboxServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateSandbox", Handler: createSandboxHandler},
		{MethodName: "UploadFile", Handler: uploadFileHandler},
		{MethodName: "DestroySandbox", Handler: destroySandboxHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "ExecuteCode", Handler: executeCodeHandler, ServerStreams: true},
	},
}

func executeCodeHandler(srv any, stream grpc.ServerStream) error {
	in := new(wire.ExecuteCodeRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SandboxServiceServer).ExecuteCode(in, &sandboxExecuteCodeServer{stream})
}

func createSandboxHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.CreateSandboxRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SandboxServiceServer).CreateSandbox(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + sandboxServiceName + "/CreateSandbox"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SandboxServiceServer).CreateSandbox(ctx, req.(*wire.CreateSandboxRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func uploadFileHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.UploadFileRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SandboxServiceServer).UploadFile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + sandboxServiceName + "/UploadFile"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SandboxServiceServer).UploadFile(ctx, req.(*wire.UploadFileRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func destroySandboxHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.DestroySandboxRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SandboxServiceServer).DestroySandbox(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + sandboxServiceName + "/DestroySandbox"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SandboxServiceServer).DestroySandbox(ctx, req.(*wire.DestroySandboxRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// SandboxServiceClient is the client API for the sandbox service.
type SandboxServiceClient interface {
	ExecuteCode(ctx context.Context, in *wire.ExecuteCodeRequest, opts ...grpc.CallOption) (SandboxService_ExecuteCodeClient, error)
	CreateSandbox(ctx context.Context, in *wire.CreateSandboxRequest, opts ...grpc.CallOption) (*wire.CreateSandboxResponse, error)
	UploadFile(ctx context.Context, in *wire.UploadFileRequest, opts ...grpc.CallOption) (*wire.UploadFileResponse, error)
	DestroySandbox(ctx context.Context, in *wire.DestroySandboxRequest, opts ...grpc.CallOption) (*wire.DestroySandboxResponse, error)
}

// SandboxService_ExecuteCodeClient is the receive side of an execution
// stream.
type SandboxService_ExecuteCodeClient interface {
	Recv() (*models.SandboxEvent, error)
	grpc.ClientStream
}

type sandboxServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewSandboxServiceClient creates a client over an established connection.
func NewSandboxServiceClient(cc grpc.ClientConnInterface) SandboxServiceClient {
	return &sandboxServiceClient{cc}
}

func (c *sandboxServiceClient) ExecuteCode(ctx context.Context, in *wire.ExecuteCodeRequest, opts ...grpc.CallOption) (SandboxService_ExecuteCodeClient, error) {
	stream, err := c.cc.NewStream(ctx, &sandboxServiceDesc.Streams[0], "/"+sandboxServiceName+"/ExecuteCode", opts...)
	if err != nil {
		return nil, err
	}
	x := &sandboxExecuteCodeClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type sandboxExecuteCodeClient struct{ grpc.ClientStream }

func (x *sandboxExecuteCodeClient) Recv() (*models.SandboxEvent, error) {
	ev := new(models.SandboxEvent)
	if err := x.ClientStream.RecvMsg(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func (c *sandboxServiceClient) CreateSandbox(ctx context.Context, in *wire.CreateSandboxRequest, opts ...grpc.CallOption) (*wire.CreateSandboxResponse, error) {
	out := new(wire.CreateSandboxResponse)
	if err := c.cc.Invoke(ctx, "/"+sandboxServiceName+"/CreateSandbox", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sandboxServiceClient) UploadFile(ctx context.Context, in *wire.UploadFileRequest, opts ...grpc.CallOption) (*wire.UploadFileResponse, error) {
	out := new(wire.UploadFileResponse)
	if err := c.cc.Invoke(ctx, "/"+sandboxServiceName+"/UploadFile", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sandboxServiceClient) DestroySandbox(ctx context.Context, in *wire.DestroySandboxRequest, opts ...grpc.CallOption) (*wire.DestroySandboxResponse, error) {
	out := new(wire.DestroySandboxResponse)
	if err := c.cc.Invoke(ctx, "/"+sandboxServiceName+"/DestroySandbox", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

package gateway

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/openraccoon/raccoon/internal/config"
	"github.com/openraccoon/raccoon/internal/observability"
	"github.com/openraccoon/raccoon/internal/sandbox"
	"github.com/openraccoon/raccoon/pkg/models"
	"github.com/openraccoon/raccoon/pkg/wire"
)

// SandboxRuntime is the part of the sandbox manager the service needs.
type SandboxRuntime interface {
	Create(ctx context.Context, conversationID, template string, limits *models.SandboxLimits) (models.SandboxInfo, error)
	Execute(ctx context.Context, sandboxID, code, language string) (<-chan models.SandboxEvent, error)
	Upload(ctx context.Context, sandboxID, path string, content []byte) (models.FileUpload, error)
	Destroy(ctx context.Context, sandboxID string) error
}

// SandboxService serves sandbox lifecycle and streaming code execution.
type SandboxService struct {
	sandboxes SandboxRuntime
	cfg       *config.Config
	logger    *observability.Logger
}

// NewSandboxService builds the sandbox service facade.
func NewSandboxService(sandboxes SandboxRuntime, cfg *config.Config, logger *observability.Logger) *SandboxService {
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
	}
	return &SandboxService{sandboxes: sandboxes, cfg: cfg, logger: logger}
}

// CreateSandbox provisions a sandbox for a conversation.
func (s *SandboxService) CreateSandbox(ctx context.Context, req *wire.CreateSandboxRequest) (*wire.CreateSandboxResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	info, err := s.sandboxes.Create(ctx, req.ConversationID, req.Template, req.Limits)
	if err != nil {
		if errors.Is(err, sandbox.ErrAPIKeyNotConfigured) {
			return nil, status.Error(codes.FailedPrecondition, err.Error())
		}
		return nil, status.Errorf(codes.Internal, "create sandbox: %v", err)
	}
	return &wire.CreateSandboxResponse{Sandbox: info}, nil
}

// ExecuteCode runs code in a sandbox and streams stdout/stderr/result
// events to the client. Each call is bounded by the code-execution
// deadline; when it fires before the sandbox reports a result, the
// stream ends with a synthetic execution_timeout error event.
func (s *SandboxService) ExecuteCode(req *wire.ExecuteCodeRequest, stream SandboxService_ExecuteCodeServer) error {
	if req == nil {
		return status.Error(codes.InvalidArgument, "request is required")
	}
	if req.SandboxID == "" || req.Code == "" {
		return status.Error(codes.InvalidArgument, "sandbox_id and code are required")
	}

	ctx, cancel := context.WithTimeout(stream.Context(), s.cfg.CodeExecutionDeadline())
	defer cancel()

	events, err := s.sandboxes.Execute(ctx, req.SandboxID, req.Code, req.Language)
	if err != nil {
		if errors.Is(err, sandbox.ErrSandboxNotFound) {
			return status.Error(codes.NotFound, err.Error())
		}
		return status.Errorf(codes.Internal, "execute code: %v", err)
	}

	var sendErr error
	sawTerminal := false
	for ev := range events {
		if sendErr != nil {
			continue
		}
		ev := ev
		if err := stream.Send(&ev); err != nil {
			s.logger.Warn(stream.Context(), "client stopped receiving sandbox events",
				"sandbox_id", req.SandboxID, "error", err)
			sendErr = err
			cancel()
			continue
		}
		if ev.Terminal() {
			sawTerminal = true
		}
	}
	if sendErr != nil {
		return sendErr
	}

	if !sawTerminal && errors.Is(ctx.Err(), context.DeadlineExceeded) && stream.Context().Err() == nil {
		timeout := models.SandboxEvent{
			Type:     models.SandboxError,
			Code:     models.ErrCodeExecutionTimeout,
			Message:  "code execution deadline exceeded",
			ExitCode: -1,
		}
		return stream.Send(&timeout)
	}
	return nil
}

// UploadFile writes a file into a sandbox.
func (s *SandboxService) UploadFile(ctx context.Context, req *wire.UploadFileRequest) (*wire.UploadFileResponse, error) {
	if req == nil || req.SandboxID == "" || req.Path == "" {
		return nil, status.Error(codes.InvalidArgument, "sandbox_id and path are required")
	}
	upload, err := s.sandboxes.Upload(ctx, req.SandboxID, req.Path, req.Content)
	if err != nil {
		if errors.Is(err, sandbox.ErrSandboxNotFound) {
			return nil, status.Error(codes.NotFound, err.Error())
		}
		return nil, status.Errorf(codes.Internal, "upload file: %v", err)
	}
	return &wire.UploadFileResponse{File: upload}, nil
}

// DestroySandbox releases a sandbox. Destroying an unknown id succeeds.
func (s *SandboxService) DestroySandbox(ctx context.Context, req *wire.DestroySandboxRequest) (*wire.DestroySandboxResponse, error) {
	if req == nil || req.SandboxID == "" {
		return nil, status.Error(codes.InvalidArgument, "sandbox_id is required")
	}
	if err := s.sandboxes.Destroy(ctx, req.SandboxID); err != nil {
		return nil, status.Errorf(codes.Internal, "destroy sandbox: %v", err)
	}
	return &wire.DestroySandboxResponse{Destroyed: true}, nil
}

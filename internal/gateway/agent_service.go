package gateway

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/openraccoon/raccoon/internal/agent"
	"github.com/openraccoon/raccoon/internal/config"
	"github.com/openraccoon/raccoon/internal/observability"
	"github.com/openraccoon/raccoon/pkg/models"
	"github.com/openraccoon/raccoon/pkg/wire"
)

// TurnRunner is the part of the orchestrator the agent service needs.
type TurnRunner interface {
	Run(ctx context.Context, req *models.TurnRequest) (<-chan models.TurnEvent, error)
	SubmitApproval(requestID string, decision models.ApprovalDecision) error
}

// AgentService serves turn execution and its supporting unary RPCs.
type AgentService struct {
	runner TurnRunner
	cfg    *config.Config
	logger *observability.Logger
}

// NewAgentService builds the agent service facade.
func NewAgentService(runner TurnRunner, cfg *config.Config, logger *observability.Logger) *AgentService {
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
	}
	return &AgentService{runner: runner, cfg: cfg, logger: logger}
}

// ExecuteAgent runs one turn and streams its events to the client in
// order. The stream ends after the terminal complete or error event.
func (s *AgentService) ExecuteAgent(req *wire.ExecuteAgentRequest, stream AgentService_ExecuteAgentServer) error {
	if req == nil {
		return status.Error(codes.InvalidArgument, "request is required")
	}
	if len(req.Messages) == 0 {
		return status.Error(codes.InvalidArgument, "at least one message is required")
	}

	events, err := s.runner.Run(stream.Context(), req.TurnRequest())
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "start turn: %v", err)
	}

	// The turn's terminal send blocks until received, so keep draining
	// after a failed Send; otherwise the turn goroutine never exits.
	var sendErr error
	for ev := range events {
		if sendErr != nil {
			continue
		}
		ev := ev
		if err := stream.Send(&ev); err != nil {
			s.logger.Warn(stream.Context(), "client stopped receiving turn events",
				"conversation_id", req.ConversationID, "error", err)
			sendErr = err
		}
	}
	return sendErr
}

// GetAgentConfig reports the defaults a turn runs with when the request
// leaves the corresponding field unset.
func (s *AgentService) GetAgentConfig(_ context.Context, req *wire.GetAgentConfigRequest) (*wire.GetAgentConfigResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	return &wire.GetAgentConfigResponse{
		Model:           s.cfg.Providers.DefaultModel,
		Temperature:     0.7,
		MaxTokens:       4096,
		SystemPrompt:    "",
		Tools:           []models.ToolDescriptor{},
		DeadlineSeconds: s.cfg.Deadlines.AgentTurnSeconds,
	}, nil
}

// ValidateTools checks each submitted descriptor and reports a per-tool
// verdict. Nothing is registered.
func (s *AgentService) ValidateTools(_ context.Context, req *wire.ValidateToolsRequest) (*wire.ValidateToolsResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	results := make([]wire.ToolValidation, 0, len(req.Tools))
	for _, desc := range req.Tools {
		problems := agent.CheckDescriptor(desc)
		results = append(results, wire.ToolValidation{
			ToolName: desc.Name,
			Valid:    len(problems) == 0,
			Errors:   problems,
		})
	}
	return &wire.ValidateToolsResponse{Results: results}, nil
}

// SubmitToolApproval delivers an out-of-band approval decision to the
// turn waiting on it. Unknown or already-resolved request ids are
// reported in-band with Accepted false.
func (s *AgentService) SubmitToolApproval(_ context.Context, req *wire.SubmitToolApprovalRequest) (*wire.SubmitToolApprovalResponse, error) {
	if req == nil || req.RequestID == "" {
		return nil, status.Error(codes.InvalidArgument, "request_id is required")
	}
	scope := req.Scope
	if scope == "" {
		scope = models.ScopeAllowOnce
	}
	err := s.runner.SubmitApproval(req.RequestID, models.ApprovalDecision{
		Approved: req.Approved,
		Scope:    scope,
	})
	if err != nil {
		if errors.Is(err, agent.ErrNoSuchApproval) {
			return &wire.SubmitToolApprovalResponse{
				Accepted: false,
				Message:  err.Error(),
			}, nil
		}
		return nil, status.Errorf(codes.Internal, "submit approval: %v", err)
	}
	return &wire.SubmitToolApprovalResponse{Accepted: true}, nil
}

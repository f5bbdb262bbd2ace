package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/openraccoon/raccoon/internal/sandbox"
	"github.com/openraccoon/raccoon/pkg/models"
	"github.com/openraccoon/raccoon/pkg/wire"
)

type fakeSandboxRuntime struct {
	mu sync.Mutex

	createInfo models.SandboxInfo
	createErr  error

	executeEvents []models.SandboxEvent
	executeErr    error
	// holdOpen keeps the stream open without a terminal event until the
	// execution context dies.
	holdOpen bool

	uploadErr error
	uploads   map[string][]byte

	destroyed  []string
	destroyErr error
}

func (f *fakeSandboxRuntime) Create(_ context.Context, conversationID, template string, _ *models.SandboxLimits) (models.SandboxInfo, error) {
	if f.createErr != nil {
		return models.SandboxInfo{}, f.createErr
	}
	info := f.createInfo
	if info.SandboxID == "" {
		info = models.SandboxInfo{SandboxID: "sbx-1", Status: "ready", Template: template, ConversationID: conversationID}
	}
	return info, nil
}

func (f *fakeSandboxRuntime) Execute(ctx context.Context, _, _, _ string) (<-chan models.SandboxEvent, error) {
	if f.executeErr != nil {
		return nil, f.executeErr
	}
	out := make(chan models.SandboxEvent, len(f.executeEvents)+1)
	for _, ev := range f.executeEvents {
		out <- ev
	}
	if f.holdOpen {
		go func() {
			<-ctx.Done()
			close(out)
		}()
		return out, nil
	}
	close(out)
	return out, nil
}

func (f *fakeSandboxRuntime) Upload(_ context.Context, sandboxID, path string, content []byte) (models.FileUpload, error) {
	if f.uploadErr != nil {
		return models.FileUpload{}, f.uploadErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploads == nil {
		f.uploads = make(map[string][]byte)
	}
	f.uploads[sandboxID+":"+path] = content
	return models.FileUpload{Path: path, SizeBytes: len(content)}, nil
}

func (f *fakeSandboxRuntime) Destroy(_ context.Context, sandboxID string) error {
	if f.destroyErr != nil {
		return f.destroyErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, sandboxID)
	return nil
}

func recvAllSandboxEvents(t *testing.T, stream SandboxService_ExecuteCodeClient) []models.SandboxEvent {
	t.Helper()
	var got []models.SandboxEvent
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return got
		}
		if err != nil {
			t.Fatalf("Recv failed after %d events: %v", len(got), err)
		}
		got = append(got, *ev)
	}
}

func TestExecuteCodeStreamsEvents(t *testing.T) {
	runtime := &fakeSandboxRuntime{executeEvents: []models.SandboxEvent{
		{Type: models.SandboxStdout, Text: "1\n"},
		{Type: models.SandboxResult, Output: "1\n", ExitCode: 0, DurationMS: 12},
	}}
	conn := startGateway(t, &fakeRunner{}, runtime, testConfig())
	client := NewSandboxServiceClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stream, err := client.ExecuteCode(ctx, &wire.ExecuteCodeRequest{
		SandboxID: "sbx-1", Code: "print(1)", Language: "python",
	})
	if err != nil {
		t.Fatalf("ExecuteCode failed: %v", err)
	}
	got := recvAllSandboxEvents(t, stream)

	if len(got) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(got), got)
	}
	if got[0].Type != models.SandboxStdout || got[0].Text != "1\n" {
		t.Errorf("first event = %+v", got[0])
	}
	if got[1].Type != models.SandboxResult || got[1].ExitCode != 0 {
		t.Errorf("terminal event = %+v", got[1])
	}
}

func TestExecuteCodeUnknownSandbox(t *testing.T) {
	runtime := &fakeSandboxRuntime{
		executeErr: fmt.Errorf("%w: sbx-ghost", sandbox.ErrSandboxNotFound),
	}
	conn := startGateway(t, &fakeRunner{}, runtime, testConfig())
	client := NewSandboxServiceClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stream, err := client.ExecuteCode(ctx, &wire.ExecuteCodeRequest{SandboxID: "sbx-ghost", Code: "print(1)"})
	if err != nil {
		t.Fatalf("ExecuteCode failed: %v", err)
	}
	_, err = stream.Recv()
	if status.Code(err) != codes.NotFound {
		t.Errorf("Recv err = %v, want NotFound", err)
	}
}

func TestExecuteCodeRequiresSandboxAndCode(t *testing.T) {
	conn := startGateway(t, &fakeRunner{}, &fakeSandboxRuntime{}, testConfig())
	client := NewSandboxServiceClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stream, err := client.ExecuteCode(ctx, &wire.ExecuteCodeRequest{SandboxID: "sbx-1"})
	if err != nil {
		t.Fatalf("ExecuteCode failed: %v", err)
	}
	_, err = stream.Recv()
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("Recv err = %v, want InvalidArgument", err)
	}
}

func TestExecuteCodeDeadlineSynthesizesTimeout(t *testing.T) {
	runtime := &fakeSandboxRuntime{
		executeEvents: []models.SandboxEvent{{Type: models.SandboxStdout, Text: "still running"}},
		holdOpen:      true,
	}
	cfg := testConfig()
	cfg.Deadlines.CodeExecutionSeconds = 1
	conn := startGateway(t, &fakeRunner{}, runtime, cfg)
	client := NewSandboxServiceClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stream, err := client.ExecuteCode(ctx, &wire.ExecuteCodeRequest{SandboxID: "sbx-1", Code: "while True: pass"})
	if err != nil {
		t.Fatalf("ExecuteCode failed: %v", err)
	}
	got := recvAllSandboxEvents(t, stream)

	if len(got) == 0 {
		t.Fatal("no events received")
	}
	last := got[len(got)-1]
	if last.Type != models.SandboxError {
		t.Fatalf("last event = %+v, want a synthesized error", last)
	}
	if last.Code != models.ErrCodeExecutionTimeout {
		t.Errorf("error code = %q, want %q", last.Code, models.ErrCodeExecutionTimeout)
	}
}

func TestCreateSandbox(t *testing.T) {
	runtime := &fakeSandboxRuntime{createInfo: models.SandboxInfo{
		SandboxID:      "sbx-42",
		Status:         "ready",
		Template:       "python",
		ConversationID: "conv-1",
		Limits:         models.SandboxLimits{CPUCount: 2, MemoryMB: 512, TimeoutSeconds: 300, NetworkEnabled: true},
	}}
	conn := startGateway(t, &fakeRunner{}, runtime, testConfig())
	client := NewSandboxServiceClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := client.CreateSandbox(ctx, &wire.CreateSandboxRequest{ConversationID: "conv-1", Template: "python"})
	if err != nil {
		t.Fatalf("CreateSandbox failed: %v", err)
	}
	if resp.Sandbox.SandboxID != "sbx-42" || resp.Sandbox.Limits.CPUCount != 2 {
		t.Errorf("sandbox = %+v", resp.Sandbox)
	}
}

func TestCreateSandboxWithoutAPIKey(t *testing.T) {
	runtime := &fakeSandboxRuntime{createErr: sandbox.ErrAPIKeyNotConfigured}
	conn := startGateway(t, &fakeRunner{}, runtime, testConfig())
	client := NewSandboxServiceClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := client.CreateSandbox(ctx, &wire.CreateSandboxRequest{ConversationID: "conv-1"})
	if status.Code(err) != codes.FailedPrecondition {
		t.Errorf("err = %v, want FailedPrecondition", err)
	}
}

func TestUploadFileRoundTripsContent(t *testing.T) {
	runtime := &fakeSandboxRuntime{}
	conn := startGateway(t, &fakeRunner{}, runtime, testConfig())
	client := NewSandboxServiceClient(conn)

	content := []byte{0x00, 0x01, 0xFF, 'a', '\n'}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := client.UploadFile(ctx, &wire.UploadFileRequest{
		SandboxID: "sbx-1",
		Path:      "/workspace/blob.bin",
		Content:   content,
	})
	if err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}
	if resp.File.Path != "/workspace/blob.bin" || resp.File.SizeBytes != len(content) {
		t.Errorf("file = %+v", resp.File)
	}

	runtime.mu.Lock()
	stored := runtime.uploads["sbx-1:/workspace/blob.bin"]
	runtime.mu.Unlock()
	if !bytes.Equal(stored, content) {
		t.Errorf("stored content = %v, want %v", stored, content)
	}
}

func TestDestroySandbox(t *testing.T) {
	runtime := &fakeSandboxRuntime{}
	conn := startGateway(t, &fakeRunner{}, runtime, testConfig())
	client := NewSandboxServiceClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := client.DestroySandbox(ctx, &wire.DestroySandboxRequest{SandboxID: "sbx-1"})
	if err != nil {
		t.Fatalf("DestroySandbox failed: %v", err)
	}
	if !resp.Destroyed {
		t.Error("destroyed = false")
	}

	runtime.mu.Lock()
	defer runtime.mu.Unlock()
	if len(runtime.destroyed) != 1 || runtime.destroyed[0] != "sbx-1" {
		t.Errorf("destroyed ids = %v", runtime.destroyed)
	}
}

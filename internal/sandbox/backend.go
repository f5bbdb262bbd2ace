// Package sandbox manages code-execution sandboxes on an external
// backend: lifecycle bookkeeping, streamed execution output, file
// upload, and an idle reaper that releases abandoned sandboxes.
package sandbox

import (
	"context"

	"github.com/openraccoon/raccoon/pkg/models"
)

// Backend provisions and drives sandboxes on the external service. The
// manager owns all bookkeeping; a backend only talks to the service.
type Backend interface {
	// Create provisions a sandbox from a template and returns its id.
	Create(ctx context.Context, template string, limits models.SandboxLimits) (string, error)

	// Execute runs code in a sandbox and streams its output events. The
	// channel is closed when the execution ends or ctx is cancelled.
	Execute(ctx context.Context, sandboxID, code, language string) (<-chan models.SandboxEvent, error)

	// Upload writes a file into the sandbox filesystem.
	Upload(ctx context.Context, sandboxID, path string, content []byte) error

	// Destroy releases the sandbox resource.
	Destroy(ctx context.Context, sandboxID string) error
}

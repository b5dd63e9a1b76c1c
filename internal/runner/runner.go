// Package runner defines the data model for GitHub Actions self-hosted
// runners and the contract every registration backend must satisfy.
// Nothing here is persisted: each value is a snapshot taken at query time
// and discarded after use.
package runner

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Status is the connection state reported by the registration API.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Repository scopes every remote call to one owner/repo pair.
type Repository struct {
	Owner string
	Name  string
}

func (r Repository) String() string {
	return r.Owner + "/" + r.Name
}

// Runner is an immutable snapshot of a registered runner.
type Runner struct {
	ID     int64
	Name   string
	OS     string
	Status Status
	Busy   bool
	Labels []string
}

// HasLabel reports whether label is one of the runner's labels.  The
// comparison is exact.
func (r Runner) HasLabel(label string) bool {
	return slices.Contains(r.Labels, label)
}

// Online reports whether the runner is connected and ready for jobs.
func (r Runner) Online() bool {
	return r.Status == StatusOnline
}

// RegistrationToken is a short-lived credential a freshly provisioned
// machine uses to register itself as a runner.
type RegistrationToken struct {
	Token     string
	ExpiresAt time.Time
}

// Registry is the contract for the remote registration API.
//
// Implementations are plain request/response wrappers.  They must not
// retry on their own: the only retry policy lives in the readiness
// waiter.
type Registry interface {
	// ListRunners returns every runner visible in repo, following
	// pagination so callers always see the complete set.
	ListRunners(ctx context.Context, repo Repository) ([]Runner, error)

	// CreateRegistrationToken mints a new registration token for repo.
	CreateRegistrationToken(ctx context.Context, repo Repository) (*RegistrationToken, error)

	// RemoveRunner deletes the runner identified by id.  The deletion is
	// irreversible.
	RemoveRunner(ctx context.Context, repo Repository, id int64) error
}

// NewLabel returns a fresh label suitable for correlating a provisioned
// machine with its registration record.
func NewLabel() string {
	return fmt.Sprintf("runner-%s", uuid.NewString()[:8])
}

// Package gitexport pushes config_backup snapshots to a customer's
// GitHub repository on job.success, as an Event Publisher subscriber. It
// uses go-github/v57's own WithAuthToken helper so the adapter doesn't
// carry golang.org/x/oauth2 as an additional dependency.
package gitexport

import (
	"context"
	"fmt"

	"github.com/google/go-github/v57/github"

	"github.com/ternarybob/netctl/internal/models"
)

// SnapshotSource fetches the ConfigSnapshots a config_backup job produced,
// satisfied by store.Store.
type SnapshotSource interface {
	ConfigSnapshotsByJob(ctx context.Context, jobID string) ([]*models.ConfigSnapshot, error)
}

// Adapter pushes config_backup snapshots to the repository named by each
// subscription's Target, authenticating per-subscription: EventSubscription
// .Secret carries that customer's GitHub token, since a shared process-wide
// token would let one tenant's export reach another's repository.
type Adapter struct {
	snapshots SnapshotSource
}

// New builds a gitexport Adapter.
func New(snapshots SnapshotSource) *Adapter {
	return &Adapter{snapshots: snapshots}
}

// Deliver pushes one commit per device config snapshot belonging to the
// job named in event.Payload. Only job.success is meaningful here; other
// event types are accepted as no-ops so a subscription can be registered
// for a broader set of types without the adapter erroring per-kind.
func (a *Adapter) Deliver(ctx context.Context, sub models.EventSubscription, event models.Event) error {
	if event.Type != models.EventJobSuccess {
		return nil
	}

	job, ok := event.Payload.(*models.Job)
	if !ok {
		// When replayed from storage the payload arrives as decoded JSON
		// rather than a *models.Job; the job id is still present there.
		jobID, err := jobIDFromPayload(event.Payload)
		if err != nil {
			return fmt.Errorf("gitexport: unable to resolve job id from event payload: %w", err)
		}
		return a.pushSnapshots(ctx, sub, jobID)
	}
	return a.pushSnapshots(ctx, sub, job.ID)
}

func (a *Adapter) pushSnapshots(ctx context.Context, sub models.EventSubscription, jobID string) error {
	if sub.Secret == nil || *sub.Secret == "" {
		return fmt.Errorf("gitexport: subscription %s has no GitHub token configured", sub.ID)
	}
	owner, repo, branch, err := parseTarget(sub.Target)
	if err != nil {
		return err
	}
	client := github.NewClient(nil).WithAuthToken(*sub.Secret)

	snaps, err := a.snapshots.ConfigSnapshotsByJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("gitexport: load snapshots: %w", err)
	}
	for _, snap := range snaps {
		path := fmt.Sprintf("configs/%s.cfg", snap.DeviceID)
		message := fmt.Sprintf("backup: %s at %s", snap.DeviceID, snap.CreatedAt.Format("2006-01-02T15:04:05Z"))
		content := []byte(snap.Text)

		opts := &github.RepositoryContentFileOptions{
			Message: github.String(message),
			Content: content,
			Branch:  github.String(branch),
		}

		existing, _, _, err := client.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: branch})
		if err == nil && existing != nil {
			opts.SHA = existing.SHA
			if _, _, err := client.Repositories.UpdateFile(ctx, owner, repo, path, opts); err != nil {
				return fmt.Errorf("gitexport: update %s: %w", path, err)
			}
			continue
		}

		if _, _, err := client.Repositories.CreateFile(ctx, owner, repo, path, opts); err != nil {
			return fmt.Errorf("gitexport: create %s: %w", path, err)
		}
	}
	return nil
}

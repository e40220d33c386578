package reconcile

import (
	"context"

	"keydates/internal/model"
)

// Collaborator is the surface presentation code (CLI, HTTP) talks to. Each
// callback maps directly onto a Reconciler operation.
type Collaborator struct {
	r *Reconciler
}

// NewCollaborator wraps r.
func NewCollaborator(r *Reconciler) *Collaborator {
	return &Collaborator{r: r}
}

// OnEventSubmitted handles a new event from a form. An empty id is filled in.
func (c *Collaborator) OnEventSubmitted(ctx context.Context, ev model.Event) (model.Event, error) {
	if ev.ID == "" {
		ev.ID = model.NewID()
	}
	return ev, c.r.Upsert(ctx, ev)
}

// OnEventEdited handles an edited event; its position in the list is kept.
// An event deleted in the meantime yields ErrNotFound.
func (c *Collaborator) OnEventEdited(ctx context.Context, ev model.Event) error {
	return c.r.Update(ctx, ev)
}

// OnEventDeleted handles a delete request.
func (c *Collaborator) OnEventDeleted(ctx context.Context, ev model.Event) error {
	return c.r.Delete(ctx, ev)
}

// Reconciler returns the wrapped Reconciler.
func (c *Collaborator) Reconciler() *Reconciler { return c.r }

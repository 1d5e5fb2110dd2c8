package sync

import (
	"time"

	"github.com/matheus3301/wppsync/internal/store"
)

// Reconciler persists the sync checkpoints that survive a restart.
type Reconciler struct {
	db *store.DB

	lastActive string
}

// NewReconciler creates a new reconciler.
func NewReconciler(db *store.DB) *Reconciler {
	return &Reconciler{db: db}
}

// SaveActiveConversation records the open conversation. Repeated saves of
// the same id are skipped.
func (r *Reconciler) SaveActiveConversation(id string) error {
	if id == r.lastActive {
		return nil
	}
	if err := r.db.SetState(store.KeyActiveConversation, id); err != nil {
		return err
	}
	r.lastActive = id
	return nil
}

// ActiveConversation returns the last saved conversation id, or "".
func (r *Reconciler) ActiveConversation() (string, error) {
	return r.db.GetState(store.KeyActiveConversation)
}

// MarkConnected records when the live channel last came up.
func (r *Reconciler) MarkConnected(at time.Time) error {
	return r.db.MarkConnected(at)
}

// LastConnected returns when the live channel last came up.
func (r *Reconciler) LastConnected() (time.Time, error) {
	return r.db.LastConnected()
}

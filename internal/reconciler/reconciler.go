// Package reconciler implements the per-node reconciliation protocol of
// spec §4.4: read the cached node, compute the desired taint list, and
// write it back with optimistic concurrency.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/spotshield/taint-controller/internal/matcher"
	"github.com/spotshield/taint-controller/internal/planner"
	"github.com/spotshield/taint-controller/internal/taint"
)

// ErrConflict is returned by Reconcile when the update lost an optimistic
// concurrency race. Callers (internal/pipeline) re-enqueue immediately
// without backoff on this error, per spec §4.4/§5.
var ErrConflict = errors.New("node update conflict")

// NodeGetter reads a single node from the watch stream's local cache.
// corelisters.NodeLister already satisfies this shape.
type NodeGetter interface {
	Get(name string) (*corev1.Node, error)
}

// NodeUpdater writes a node back to the cluster API server.
// k8s.io/client-go/kubernetes/typed/core/v1.NodeInterface already
// satisfies this shape.
type NodeUpdater interface {
	Update(ctx context.Context, node *corev1.Node, opts metav1.UpdateOptions) (*corev1.Node, error)
}

// Reconciler drives one node through read → plan → write. Distinct
// Reconciler values share no mutable state with each other; Reconcile is
// safe to call concurrently for distinct node names, serialized per name
// by internal/pipeline.
type Reconciler struct {
	Nodes   NodeGetter
	Client  NodeUpdater
	Rules   []matcher.Rule
	Managed taint.Universe

	// Now returns the current time; overridable in tests. Defaults to
	// time.Now when nil.
	Now func() time.Time
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Reconcile converges the named node toward its desired taint state. A
// node that no longer exists in the local cache is treated as success
// (nothing to do). Context cancellation is checked between the read and
// the write so a shutting-down process does not issue late updates.
//
// A Forbidden or NotFound response from the write is a permanent
// rejection (spec §4.4 step 8, §7): it is logged at the call site via
// log.FromContext(ctx).Error and reported to the caller as success so the
// pipeline forgets the key instead of retrying.
func (r *Reconciler) Reconcile(ctx context.Context, name string) error {
	node, err := r.Nodes.Get(name)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("get node %s: %w", name, err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	desired := matcher.Evaluate(r.Rules, node.Status.Conditions)
	plan := planner.Plan(node.Spec.Taints, desired, r.Managed, r.now())
	if !plan.Changed {
		return nil
	}

	updated := node.DeepCopy()
	updated.Spec.Taints = plan.Taints

	if err := ctx.Err(); err != nil {
		return err
	}

	_, err = r.Client.Update(ctx, updated, metav1.UpdateOptions{})
	if err == nil {
		return nil
	}

	switch {
	case apierrors.IsConflict(err):
		return ErrConflict
	case apierrors.IsNotFound(err):
		log.FromContext(ctx).Error(err, "node disappeared before update could be applied, dropping", "node", name)
		return nil
	case apierrors.IsForbidden(err):
		log.FromContext(ctx).Error(err, "node update forbidden, dropping", "node", name)
		return nil
	default:
		return fmt.Errorf("update node %s: %w", name, err)
	}
}

// Package planner computes the minimal taint-list mutation needed to move
// a node from its current taints toward a desired set (spec §4.3).
package planner

import (
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/spotshield/taint-controller/internal/taint"
)

// Result is the outcome of Plan: either NoOp (Changed is false) or Apply
// (Changed is true, Taints holds the full new taint list to write back).
type Result struct {
	Changed bool
	Taints  []corev1.Taint
}

// Plan computes the new taint list for a node given its current taints,
// the desired taints from the matcher engine, and the managed universe
// that bounds what the controller may remove.
//
// The output list is (current ∩ desired) ∪ (desired \ current) ∪
// (current \ managed), built in that order so kept and added taints come
// before untouched foreign ones — purely cosmetic, since the comparison
// against current that decides NoOp is set-based, not positional: the
// set assembled here can differ in position from current_taints while
// still describing the same desired state, and emitting NoOp in that
// case avoids an unbounded rewrite loop caused only by slice ordering.
func Plan(current []corev1.Taint, desired []corev1.Taint, managed taint.Universe, now time.Time) Result {
	var next []corev1.Taint

	// Kept: in both current and desired. Copy verbatim so the original
	// TimeAdded survives.
	for _, c := range current {
		if taint.Contains(desired, c) {
			next = append(next, c)
		}
	}

	// Added: in desired but not current.
	for _, d := range desired {
		if taint.Contains(current, d) {
			continue
		}
		added := d
		if added.Effect == corev1.TaintEffectNoExecute {
			ts := metav1.NewTime(now)
			added.TimeAdded = &ts
		} else {
			added.TimeAdded = nil
		}
		next = append(next, added)
	}

	// Untouched: current taints outside the managed universe. Managed-ness
	// is decided by identity alone, so a taint equal to a rule's taint is
	// managed whoever wrote it, and is dropped once no rule desires it.
	for _, c := range current {
		if !managed.Contains(c) && !taint.Contains(next, c) {
			next = append(next, c)
		}
	}

	if sameSet(current, next) {
		return Result{Changed: false}
	}
	return Result{Changed: true, Taints: next}
}

// sameSet reports whether a and b contain the same taints under
// taint.Equal, irrespective of order or slice length padding.
func sameSet(a, b []corev1.Taint) bool {
	if len(a) != len(b) {
		return false
	}
	for _, t := range a {
		if !taint.Contains(b, t) {
			return false
		}
	}
	return true
}

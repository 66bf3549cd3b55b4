// Package taint defines the equivalence relation over corev1.Taint used
// throughout the reconciler (spec §4.1) and the managed-universe concept
// that bounds which taints the controller is allowed to remove.
package taint

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
)

// identity is the (key, value, effect) triple that two taints are compared
// on. TimeAdded is deliberately excluded: it is owned by whichever pass
// first wrote the taint, and comparing it would make the reconciler
// rewrite taints it had already applied on every pass.
type identity struct {
	key    string
	value  string
	effect corev1.TaintEffect
}

func identityOf(t corev1.Taint) identity {
	return identity{key: t.Key, value: t.Value, effect: t.Effect}
}

// Equal reports whether a and b are the same taint for reconciliation
// purposes: key, value and effect match; TimeAdded is ignored.
//
// corev1.Taint.MatchTaint compares only key and effect, which is not
// enough here — two taints with the same key/effect but different values
// are distinct desired states (e.g. different maintenance reasons), so a
// dedicated comparator is needed.
func Equal(a, b corev1.Taint) bool {
	return identityOf(a) == identityOf(b)
}

// ValidEffect reports whether e is one of the three effects the cluster
// API recognizes.
func ValidEffect(e corev1.TaintEffect) bool {
	switch e {
	case corev1.TaintEffectNoSchedule, corev1.TaintEffectPreferNoSchedule, corev1.TaintEffectNoExecute:
		return true
	default:
		return false
	}
}

// Validate checks that t has a non-empty key and a recognized effect.
func Validate(t corev1.Taint) error {
	if t.Key == "" {
		return fmt.Errorf("taint key must not be empty")
	}
	if !ValidEffect(t.Effect) {
		return fmt.Errorf("taint %q: unknown effect %q", t.Key, t.Effect)
	}
	return nil
}

// Contains reports whether set contains a taint equivalent to t.
func Contains(set []corev1.Taint, t corev1.Taint) bool {
	for _, c := range set {
		if Equal(c, t) {
			return true
		}
	}
	return false
}

// Find returns the taint in set equivalent to t, if any.
func Find(set []corev1.Taint, t corev1.Taint) (corev1.Taint, bool) {
	for _, c := range set {
		if Equal(c, t) {
			return c, true
		}
	}
	return corev1.Taint{}, false
}

// Universe is the set of taints the controller is authorized to add or
// remove, computed once from configuration (spec §4.6) and immutable for
// the process lifetime.
type Universe struct {
	taints []corev1.Taint
}

// NewUniverse builds a Universe from the taints named by the configured
// rules. Duplicates (under Equal) collapse to a single entry.
func NewUniverse(taints []corev1.Taint) Universe {
	var u Universe
	for _, t := range taints {
		if !Contains(u.taints, t) {
			u.taints = append(u.taints, t)
		}
	}
	return u
}

// Contains reports whether t is managed by this controller instance.
func (u Universe) Contains(t corev1.Taint) bool {
	return Contains(u.taints, t)
}

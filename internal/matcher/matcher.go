// Package matcher evaluates configured rules against a node's observed
// conditions to produce a desired taint set (spec §4.2). Evaluation is a
// pure function of its inputs: no hidden state, safe for concurrent
// callers.
package matcher

import (
	"fmt"
	"regexp"

	corev1 "k8s.io/api/core/v1"

	"github.com/spotshield/taint-controller/internal/taint"
)

// Predicate tests an observed condition's type for exact equality and its
// status against a compiled regular expression.
//
// The pattern is anchored full-string (^(?:pattern)$) at construction
// time rather than left to the regex engine's substring-match default —
// the source domain leaves this ambiguous, and full-string match is the
// least surprising reading of "status matches this pattern".
type Predicate struct {
	conditionType string
	pattern       *regexp.Regexp
	source        string
}

// NewPredicate compiles a predicate matching conditionType exactly and
// statusPattern as a full-string regular expression. Returns an error if
// the pattern fails to compile, so callers can reject it at config load
// rather than at reconcile time.
func NewPredicate(conditionType, statusPattern string) (Predicate, error) {
	re, err := regexp.Compile("^(?:" + statusPattern + ")$")
	if err != nil {
		return Predicate{}, fmt.Errorf("compiling status pattern %q: %w", statusPattern, err)
	}
	return Predicate{conditionType: conditionType, pattern: re, source: statusPattern}, nil
}

// Satisfied reports whether any of conditions has this predicate's type
// and a status matching its pattern.
func (p Predicate) Satisfied(conditions []corev1.NodeCondition) bool {
	for _, c := range conditions {
		if string(c.Type) == p.conditionType && p.pattern.MatchString(string(c.Status)) {
			return true
		}
	}
	return false
}

// Rule pairs a taint with the predicates that must all hold for the
// taint to be desired.
type Rule struct {
	Taint      corev1.Taint
	Predicates []Predicate
}

// NewRule validates and constructs a Rule. A rule with no predicates is
// rejected: spec §4.2 treats an empty predicate list as a config error,
// not as "always satisfied".
func NewRule(t corev1.Taint, predicates []Predicate) (Rule, error) {
	if len(predicates) == 0 {
		return Rule{}, fmt.Errorf("matcher rule for taint %q: must declare at least one condition", t.Key)
	}
	return Rule{Taint: t, Predicates: predicates}, nil
}

// satisfied reports whether every predicate in the rule holds against
// conditions (logical AND across predicates).
func (r Rule) satisfied(conditions []corev1.NodeCondition) bool {
	for _, p := range r.Predicates {
		if !p.Satisfied(conditions) {
			return false
		}
	}
	return true
}

// Evaluate computes the desired taint set for a node given its observed
// conditions: the union, under taint.Equal semantics, of the taints of
// every rule whose predicates are all satisfied.
func Evaluate(rules []Rule, conditions []corev1.NodeCondition) []corev1.Taint {
	var desired []corev1.Taint
	for _, r := range rules {
		if !r.satisfied(conditions) {
			continue
		}
		if !taint.Contains(desired, r.Taint) {
			desired = append(desired, r.Taint)
		}
	}
	return desired
}

// ManagedUniverse returns the set of taints named by rules, regardless of
// whether each rule is currently satisfied — the set the controller is
// authorized to add or remove (spec §4.6).
func ManagedUniverse(rules []Rule) []corev1.Taint {
	var universe []corev1.Taint
	for _, r := range rules {
		if !taint.Contains(universe, r.Taint) {
			universe = append(universe, r.Taint)
		}
	}
	return universe
}

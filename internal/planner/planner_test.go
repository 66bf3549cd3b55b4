package planner

import (
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/spotshield/taint-controller/internal/taint"
)

var fixedNow = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestPlanAddsNewNoExecuteTaintWithTimestamp(t *testing.T) {
	desired := []corev1.Taint{{Key: "pressure", Value: "memory", Effect: corev1.TaintEffectNoExecute}}
	managed := taint.NewUniverse(desired)

	result := Plan(nil, desired, managed, fixedNow)

	if !result.Changed {
		t.Fatal("expected a change when adding a new taint")
	}
	if len(result.Taints) != 1 {
		t.Fatalf("expected exactly one taint, got %+v", result.Taints)
	}
	got := result.Taints[0]
	if got.TimeAdded == nil || !got.TimeAdded.Time.Equal(fixedNow) {
		t.Errorf("expected TimeAdded = %v, got %+v", fixedNow, got.TimeAdded)
	}
}

func TestPlanNeverStampsNoSchedule(t *testing.T) {
	desired := []corev1.Taint{{Key: "k", Effect: corev1.TaintEffectNoSchedule}}
	managed := taint.NewUniverse(desired)

	result := Plan(nil, desired, managed, fixedNow)

	if !result.Changed || len(result.Taints) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Taints[0].TimeAdded != nil {
		t.Errorf("NoSchedule taint must never have TimeAdded set, got %+v", result.Taints[0].TimeAdded)
	}
}

func TestPlanIdempotentNoOp(t *testing.T) {
	ts := metav1.NewTime(fixedNow)
	existing := corev1.Taint{Key: "pressure", Value: "memory", Effect: corev1.TaintEffectNoExecute, TimeAdded: &ts}
	current := []corev1.Taint{existing}
	desired := []corev1.Taint{{Key: "pressure", Value: "memory", Effect: corev1.TaintEffectNoExecute}}
	managed := taint.NewUniverse(desired)

	result := Plan(current, desired, managed, fixedNow.Add(time.Hour))

	if result.Changed {
		t.Fatalf("expected NoOp on unchanged state, got %+v", result)
	}
}

func TestPlanPreservesTimeAddedOnKeep(t *testing.T) {
	original := metav1.NewTime(fixedNow)
	existing := corev1.Taint{Key: "k", Effect: corev1.TaintEffectNoExecute, TimeAdded: &original}
	// Desired still wants this taint, but another unrelated taint is newly desired too,
	// forcing Changed = true so we can observe that the kept taint's TimeAdded survives.
	desired := []corev1.Taint{
		{Key: "k", Effect: corev1.TaintEffectNoExecute},
		{Key: "other", Effect: corev1.TaintEffectNoSchedule},
	}
	managed := taint.NewUniverse(desired)

	result := Plan([]corev1.Taint{existing}, desired, managed, fixedNow.Add(time.Hour))

	if !result.Changed {
		t.Fatal("expected a change (new taint added)")
	}
	kept, ok := taint.Find(result.Taints, corev1.Taint{Key: "k", Effect: corev1.TaintEffectNoExecute})
	if !ok {
		t.Fatal("expected kept taint to survive")
	}
	if kept.TimeAdded == nil || !kept.TimeAdded.Time.Equal(fixedNow) {
		t.Errorf("expected original TimeAdded preserved, got %+v", kept.TimeAdded)
	}
}

func TestPlanPreservesUnmanagedTaint(t *testing.T) {
	foreign := corev1.Taint{Key: "cloud-vendor/maintenance", Effect: corev1.TaintEffectNoSchedule}
	current := []corev1.Taint{foreign}
	managed := taint.NewUniverse([]corev1.Taint{{Key: "pressure", Value: "memory", Effect: corev1.TaintEffectNoExecute}})

	result := Plan(current, nil, managed, fixedNow)

	if result.Changed {
		t.Fatalf("expected NoOp, unmanaged taint should be left untouched, got %+v", result)
	}
}

func TestPlanRemovesManagedTaintWhenRuleStopsMatching(t *testing.T) {
	managedTaint := corev1.Taint{Key: "pressure", Value: "memory", Effect: corev1.TaintEffectNoExecute}
	foreign := corev1.Taint{Key: "cloud-vendor/maintenance", Effect: corev1.TaintEffectNoSchedule}
	current := []corev1.Taint{managedTaint, foreign}
	managed := taint.NewUniverse([]corev1.Taint{managedTaint})

	// Rule no longer satisfied: desired is empty.
	result := Plan(current, nil, managed, fixedNow)

	if !result.Changed {
		t.Fatal("expected the managed taint to be removed")
	}
	if taint.Contains(result.Taints, managedTaint) {
		t.Errorf("expected managed taint removed, got %+v", result.Taints)
	}
	if !taint.Contains(result.Taints, foreign) {
		t.Errorf("expected foreign taint preserved, got %+v", result.Taints)
	}
}

func TestPlanConflictBetweenManagedAndForeignCoincidence(t *testing.T) {
	// A taint with the same identity as a managed one is never "foreign" —
	// managed-ness is determined purely by identity.
	shared := corev1.Taint{Key: "k", Effect: corev1.TaintEffectNoSchedule}
	managed := taint.NewUniverse([]corev1.Taint{shared})

	result := Plan([]corev1.Taint{shared}, nil, managed, fixedNow)

	if !result.Changed {
		t.Fatal("expected the taint to be removed since its rule no longer desires it")
	}
	if len(result.Taints) != 0 {
		t.Errorf("expected empty taint list, got %+v", result.Taints)
	}
}

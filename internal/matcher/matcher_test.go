package matcher

import (
	"testing"

	corev1 "k8s.io/api/core/v1"
)

func TestNewPredicateFullStringAnchor(t *testing.T) {
	p, err := NewPredicate("NetworkInterfaceCard", "Kaput|Ruined")
	if err != nil {
		t.Fatalf("NewPredicate: %v", err)
	}

	tests := []struct {
		status string
		want   bool
	}{
		{"Kaput", true},
		{"Ruined", true},
		{"kaput", false}, // case sensitive, per spec §8
		{"KaputNow", false}, // substring must not match — full string only
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			conditions := []corev1.NodeCondition{{Type: "NetworkInterfaceCard", Status: corev1.ConditionStatus(tt.status)}}
			if got := p.Satisfied(conditions); got != tt.want {
				t.Errorf("Satisfied(%q) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestNewPredicateInvalidRegex(t *testing.T) {
	if _, err := NewPredicate("Ready", "("); err == nil {
		t.Error("expected error for invalid regex")
	}
}

func TestNewRuleRejectsEmptyPredicates(t *testing.T) {
	if _, err := NewRule(corev1.Taint{Key: "k"}, nil); err == nil {
		t.Error("expected error for empty predicate list")
	}
}

func mustPredicate(t *testing.T, conditionType, pattern string) Predicate {
	t.Helper()
	p, err := NewPredicate(conditionType, pattern)
	if err != nil {
		t.Fatalf("NewPredicate(%q, %q): %v", conditionType, pattern, err)
	}
	return p
}

func TestEvaluateSingleRuleMatches(t *testing.T) {
	taint := corev1.Taint{Key: "pressure", Value: "memory", Effect: corev1.TaintEffectNoExecute}
	rule, err := NewRule(taint, []Predicate{mustPredicate(t, "NetworkInterfaceCard", "^Kaput$")})
	if err != nil {
		t.Fatalf("NewRule: %v", err)
	}

	conditions := []corev1.NodeCondition{{Type: "NetworkInterfaceCard", Status: "Kaput"}}
	got := Evaluate([]Rule{rule}, conditions)

	if len(got) != 1 || got[0] != taint {
		t.Errorf("Evaluate = %+v, want [%+v]", got, taint)
	}
}

func TestEvaluateMultiPredicateAND(t *testing.T) {
	taint := corev1.Taint{Key: "pressure", Value: "memory", Effect: corev1.TaintEffectNoExecute}
	rule, err := NewRule(taint, []Predicate{
		mustPredicate(t, "NIC", "Kaput|Ruined"),
		mustPredicate(t, "PrivateLink", "severed"),
	})
	if err != nil {
		t.Fatalf("NewRule: %v", err)
	}

	// Only the first predicate is satisfied.
	conditions := []corev1.NodeCondition{{Type: "NIC", Status: "Kaput"}}
	got := Evaluate([]Rule{rule}, conditions)

	if len(got) != 0 {
		t.Errorf("Evaluate = %+v, want empty (second predicate unsatisfied)", got)
	}
}

func TestEvaluateNoConditions(t *testing.T) {
	taint := corev1.Taint{Key: "k", Effect: corev1.TaintEffectNoSchedule}
	rule, err := NewRule(taint, []Predicate{mustPredicate(t, "Ready", "True")})
	if err != nil {
		t.Fatalf("NewRule: %v", err)
	}

	got := Evaluate([]Rule{rule}, nil)
	if len(got) != 0 {
		t.Errorf("Evaluate with no conditions = %+v, want empty", got)
	}
}

func TestEvaluateDedupesAcrossRules(t *testing.T) {
	shared := corev1.Taint{Key: "k", Effect: corev1.TaintEffectNoSchedule}
	r1, _ := NewRule(shared, []Predicate{mustPredicate(t, "A", "x")})
	r2, _ := NewRule(shared, []Predicate{mustPredicate(t, "B", "y")})

	conditions := []corev1.NodeCondition{{Type: "A", Status: "x"}, {Type: "B", Status: "y"}}
	got := Evaluate([]Rule{r1, r2}, conditions)

	if len(got) != 1 {
		t.Errorf("Evaluate = %+v, want exactly one taint (deduped)", got)
	}
}

func TestManagedUniverseIncludesUnsatisfiedRules(t *testing.T) {
	taint := corev1.Taint{Key: "k", Effect: corev1.TaintEffectNoSchedule}
	rule, _ := NewRule(taint, []Predicate{mustPredicate(t, "Ready", "never")})

	universe := ManagedUniverse([]Rule{rule})
	if len(universe) != 1 || universe[0] != taint {
		t.Errorf("ManagedUniverse = %+v, want [%+v] regardless of satisfaction", universe, taint)
	}
}

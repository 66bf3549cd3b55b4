// Package config loads and validates the controller's TOML configuration
// file (spec §6) and compiles it into the rule set the matcher and
// planner consume.
package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/BurntSushi/toml"
	corev1 "k8s.io/api/core/v1"
	"go.uber.org/zap/zapcore"

	"github.com/spotshield/taint-controller/internal/matcher"
	"github.com/spotshield/taint-controller/internal/taint"
)

// file is the raw shape decoded from TOML, kept separate from the
// compiled Config so validation errors can name the offending section.
type file struct {
	Server     serverSection     `toml:"server"`
	Log        logSection        `toml:"log"`
	Reconciler reconcilerSection `toml:"reconciler"`
}

type serverSection struct {
	Host string `toml:"host"`
	Port string `toml:"port"`
}

type logSection struct {
	MaxLevel string `toml:"max_level"`
}

type reconcilerSection struct {
	Matchers []matcherSection `toml:"matchers"`
}

type matcherSection struct {
	Taint      taintSection       `toml:"taint"`
	Conditions []conditionSection `toml:"conditions"`
}

type taintSection struct {
	Effect string `toml:"effect"`
	Key    string `toml:"key"`
	Value  string `toml:"value"`
}

type conditionSection struct {
	Type   string `toml:"type"`
	Status string `toml:"status"`
}

// Config is the compiled, validated configuration the rest of the
// process is wired from. It is immutable for the process lifetime
// (spec §3's "Lifecycle" invariant).
type Config struct {
	HealthAddr string
	LogLevel   zapcore.Level
	Rules      []matcher.Rule
	Managed    taint.Universe
}

// Load reads, decodes and validates the TOML file at path. Any failure
// is a configuration error: the caller should treat it as fatal at
// startup (spec §6/§7, exit code 1).
func Load(path string) (*Config, error) {
	var f file
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("decode config file %s: %w", path, err)
	}
	return build(f)
}

func build(f file) (*Config, error) {
	if len(f.Reconciler.Matchers) == 0 {
		return nil, fmt.Errorf("reconciler.matchers: must declare at least one matcher")
	}

	rules := make([]matcher.Rule, 0, len(f.Reconciler.Matchers))
	for i, m := range f.Reconciler.Matchers {
		rule, err := buildRule(m)
		if err != nil {
			return nil, fmt.Errorf("reconciler.matchers[%d]: %w", i, err)
		}
		rules = append(rules, rule)
	}

	level, err := parseLogLevel(f.Log.MaxLevel)
	if err != nil {
		return nil, fmt.Errorf("log.max_level: %w", err)
	}

	port := f.Server.Port
	if port == "" {
		port = "8080"
	}

	return &Config{
		HealthAddr: net.JoinHostPort(f.Server.Host, port),
		LogLevel:   level,
		Rules:      rules,
		Managed:    taint.NewUniverse(matcher.ManagedUniverse(rules)),
	}, nil
}

func buildRule(m matcherSection) (matcher.Rule, error) {
	effect, err := parseEffect(m.Taint.Effect)
	if err != nil {
		return matcher.Rule{}, fmt.Errorf("taint.effect: %w", err)
	}
	t := corev1.Taint{Key: m.Taint.Key, Value: m.Taint.Value, Effect: effect}
	if err := taint.Validate(t); err != nil {
		return matcher.Rule{}, err
	}

	if len(m.Conditions) == 0 {
		return matcher.Rule{}, fmt.Errorf("conditions: must declare at least one condition")
	}
	predicates := make([]matcher.Predicate, 0, len(m.Conditions))
	for j, c := range m.Conditions {
		p, err := matcher.NewPredicate(c.Type, c.Status)
		if err != nil {
			return matcher.Rule{}, fmt.Errorf("conditions[%d]: %w", j, err)
		}
		predicates = append(predicates, p)
	}

	return matcher.NewRule(t, predicates)
}

func parseEffect(s string) (corev1.TaintEffect, error) {
	e := corev1.TaintEffect(s)
	if !taint.ValidEffect(e) {
		return "", fmt.Errorf("unknown effect %q (want one of NoSchedule, PreferNoSchedule, NoExecute)", s)
	}
	return e, nil
}

// parseLogLevel maps spec §6's {trace,debug,info,warn,error} enum onto a
// zap level. zap has no "trace" level below debug, so trace collapses to
// debug — the closest available verbosity, consistent with logr's
// V(n)-above-Info model where deeper verbosity is still just "more
// debug", not a distinct level.
func parseLogLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "trace", "debug":
		return zapcore.DebugLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("unknown level %q (want one of trace, debug, info, warn, error)", s)
	}
}

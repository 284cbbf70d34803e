package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestResolve(t *testing.T) {
	if Resolve(Config{Enabled: false}) != nil {
		t.Error("disabled config should resolve to nil")
	}
	if Resolve(Config{Enabled: true}) != DefaultRegistry {
		t.Error("config without registerer should use DefaultRegistry")
	}
	if Resolve(DefaultConfig()) != DefaultRegistry {
		t.Error("default config should use DefaultRegistry")
	}

	reg := prometheus.NewRegistry()
	r := Resolve(Config{Enabled: true, Registry: reg})
	if r == nil || r == DefaultRegistry {
		t.Fatal("custom registerer should get its own registry")
	}

	r.Violations.WithLabelValues("api", "1s", "false").Inc()
	if got := testutil.ToFloat64(r.Violations.WithLabelValues("api", "1s", "false")); got != 1 {
		t.Errorf("violations = %v, want 1", got)
	}
	n, err := testutil.GatherAndCount(reg, "goquota_engine_violations_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 1 {
		t.Errorf("series = %d, want 1", n)
	}
}

func TestResolveSharesRegistryPerRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := Resolve(Config{Enabled: true, Registry: reg})
	second := Resolve(Config{Enabled: true, Registry: reg})
	if first != second {
		t.Error("same registerer should resolve to the same registry")
	}

	labeled := Resolve(Config{Enabled: true, Registry: reg, Namespace: "edge", Labels: prometheus.Labels{"zone": "a"}})
	if labeled == first {
		t.Error("different namespace should resolve to a new registry")
	}
}

package logging

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func stdoutConfig() *LogConfig {
	cfg := DefaultLogConfig()
	cfg.OutputPath = "stdout"
	cfg.Sampling = false
	return cfg
}

func TestNewLoggerFactoryWithStdoutOutput(t *testing.T) {
	factory, err := NewLoggerFactory(stdoutConfig())
	if err != nil {
		t.Fatalf("NewLoggerFactory: %v", err)
	}
	if factory.GetLogger("core") == nil {
		t.Fatal("GetLogger must return a non-nil logger")
	}
}

func TestNewLoggerFactoryAcceptsDefaultConfigWithStdout(t *testing.T) {
	cfg := DefaultLogConfig()
	cfg.OutputPath = "stdout"
	_, err := NewLoggerFactory(cfg)
	if err != nil {
		t.Fatalf("NewLoggerFactory with default config: %v", err)
	}
}

func TestGetLoggerCachesByModule(t *testing.T) {
	factory, err := NewLoggerFactory(stdoutConfig())
	if err != nil {
		t.Fatalf("NewLoggerFactory: %v", err)
	}

	a1 := factory.GetLogger("hashengine")
	a2 := factory.GetLogger("hashengine")
	if a1 != a2 {
		t.Fatal("GetLogger must return the same *zap.Logger instance for the same module on repeat calls")
	}
}

func TestWithComponentAddsField(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := zap.New(core)

	WithComponent(base, "stratum").Info("started")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if v, ok := entries[0].ContextMap()["component"]; !ok || v != "stratum" {
		t.Fatalf("expected component=stratum field, got %v", entries[0].ContextMap())
	}
}

func TestLogIfSkipsNilError(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := zap.New(core)

	LogIf(base, nil, "should not appear")
	if logs.Len() != 0 {
		t.Fatal("LogIf must not log when err is nil")
	}

	LogIf(base, errors.New("boom"), "should appear")
	if logs.Len() != 1 {
		t.Fatal("LogIf must log exactly once when err is non-nil")
	}
}

func TestSamplerAllowsBurstThenThrottles(t *testing.T) {
	s := &Sampler{interval: time.Hour, first: 2, thereafter: 3}

	results := make([]bool, 6)
	for i := range results {
		results[i] = s.Check()
	}

	want := []bool{true, true, false, false, true, false}
	for i := range want {
		if results[i] != want[i] {
			t.Fatalf("Check() call %d = %v, want %v (full sequence %v)", i, results[i], want[i], results)
		}
	}
}

package config

import "testing"

func TestApplyDefaultsClampsParallelBatch(t *testing.T) {
	c := &Config{ParallelBatch: 99}
	c.ApplyDefaults()
	if c.ParallelBatch != 10 {
		t.Fatalf("expected clamp to 10, got %d", c.ParallelBatch)
	}

	c = &Config{ParallelBatch: 0}
	c.ApplyDefaults()
	if c.ParallelBatch != 1 {
		t.Fatalf("expected clamp to 1, got %d", c.ParallelBatch)
	}
}

func TestApplyDefaultsReplenishIntervalRange(t *testing.T) {
	c := &Config{ReplenishIntervalSec: 999}
	c.ApplyDefaults()
	if c.ReplenishIntervalSec != 30 {
		t.Fatalf("expected clamp to 30, got %d", c.ReplenishIntervalSec)
	}
}

func TestApplyDefaultsLeavesValidValuesAlone(t *testing.T) {
	c := &Config{ParallelBatch: 3, ReplenishIntervalSec: 5, PythonPoolTargetSize: 4, MaxExecutionTimeSeconds: 20, MaxOutputBytes: 2048, MaxFilesPerSession: 12, MaxOutputFileCount: 3}
	c.ApplyDefaults()
	if c.ParallelBatch != 3 || c.ReplenishIntervalSec != 5 || c.PythonPoolTargetSize != 4 {
		t.Fatalf("ApplyDefaults mutated valid values: %+v", c)
	}
}

func TestZeroPoolTargetSizeIsAllowed(t *testing.T) {
	c := &Config{PythonPoolTargetSize: 0}
	c.ApplyDefaults()
	if c.PythonPoolTargetSize != 0 {
		t.Fatalf("a configured target size of 0 must stay 0 (disables warmup per SPEC_FULL §4.4/§8)")
	}
}

func TestApplyDefaultsClampsGzipMinBytes(t *testing.T) {
	c := &Config{GzipMinBytes: 0}
	c.ApplyDefaults()
	if c.GzipMinBytes != 65536 {
		t.Fatalf("expected default GzipMinBytes 65536, got %d", c.GzipMinBytes)
	}

	c = &Config{GzipMinBytes: 1024}
	c.ApplyDefaults()
	if c.GzipMinBytes != 1024 {
		t.Fatalf("ApplyDefaults mutated a valid GzipMinBytes: %d", c.GzipMinBytes)
	}
}

package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"northsea/internal/model"
)

type fixedNetwork string

func (f fixedNetwork) NetworkStatus() string { return string(f) }

func TestFill(t *testing.T) {
	p := NewProbe(fixedNetwork("degraded"))
	p.cpuPct = func(context.Context, time.Duration) ([]float64, error) { return []float64{23.46}, nil }
	p.memUsed = func(context.Context) (uint64, error) { return 2254857830, nil }

	var stats model.SystemStats
	p.Fill(context.Background(), &stats)
	if stats.CPUUsage != "23.5%" || stats.MemoryUsage != "2.1 GB" || stats.NetworkStatus != "degraded" {
		t.Fatalf("unexpected telemetry: %+v", stats)
	}
}

func TestFill_FailuresDegrade(t *testing.T) {
	p := NewProbe(nil)
	p.cpuPct = func(context.Context, time.Duration) ([]float64, error) { return nil, errors.New("no procfs") }
	p.memUsed = func(context.Context) (uint64, error) { return 0, errors.New("no procfs") }

	stats := model.SystemStats{TotalCollected: 5}
	p.Fill(context.Background(), &stats)
	if stats.CPUUsage != "unknown" || stats.MemoryUsage != "unknown" || stats.NetworkStatus != "good" {
		t.Fatalf("unexpected telemetry: %+v", stats)
	}
	if stats.TotalCollected != 5 {
		t.Fatalf("derived fields must be untouched")
	}
}

func TestFormatBytes(t *testing.T) {
	cases := map[uint64]string{
		512:             "512 B",
		2048:            "2.0 KB",
		5 * 1024 * 1024: "5.0 MB",
	}
	for in, want := range cases {
		if got := FormatBytes(in); got != want {
			t.Fatalf("FormatBytes(%d)=%q want %q", in, got, want)
		}
	}
}

package profiling

import (
	"testing"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/vanmon/config"
)

func TestProfileTypes(t *testing.T) {
	got := ProfileTypes([]string{"cpu", "mutex", "nope"})
	want := []pyroscope.ProfileType{pyroscope.ProfileCPU, pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration}
	if len(got) != len(want) {
		t.Fatalf("ProfileTypes() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ProfileTypes()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestKnownProfileTypesMapped(t *testing.T) {
	for _, name := range config.KnownProfileTypes {
		if len(ProfileTypes([]string{name})) == 0 {
			t.Errorf("profile type %q has no mapping", name)
		}
	}
}

func TestStartDisabled(t *testing.T) {
	p, err := Start(&config.ProfilingConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if p != nil {
		t.Error("Expected nil profiler when disabled")
	}
	if err := p.Stop(); err != nil {
		t.Errorf("Stop() on nil profiler error = %v", err)
	}
}

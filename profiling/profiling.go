// Package profiling runs continuous profiling against a Pyroscope server.
package profiling

import (
	"fmt"
	"maps"
	"runtime"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/vanmon/config"
)

// Profiler wraps the Pyroscope profiler
type Profiler struct {
	profiler *pyroscope.Profiler
	logger   *zap.Logger
}

var profileTypes = map[string][]pyroscope.ProfileType{
	"cpu":           {pyroscope.ProfileCPU},
	"alloc_objects": {pyroscope.ProfileAllocObjects},
	"alloc_space":   {pyroscope.ProfileAllocSpace},
	"inuse_objects": {pyroscope.ProfileInuseObjects},
	"inuse_space":   {pyroscope.ProfileInuseSpace},
	"goroutines":    {pyroscope.ProfileGoroutines},
	"mutex":         {pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration},
	"block":         {pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration},
}

// ProfileTypes maps configured profile names to Pyroscope profile types.
// Unknown names are skipped.
func ProfileTypes(names []string) []pyroscope.ProfileType {
	var out []pyroscope.ProfileType
	for _, name := range names {
		out = append(out, profileTypes[name]...)
	}
	return out
}

// Start starts the Pyroscope profiler in push mode. It returns nil when
// profiling is disabled.
func Start(cfg *config.ProfilingConfig, logger *zap.Logger) (*Profiler, error) {
	if !cfg.Enabled {
		logger.Info("profiling is disabled")
		return nil, nil
	}

	// Mutex and block profiles need their runtime sampling rates set
	for _, name := range cfg.ProfileTypes {
		switch name {
		case "mutex":
			runtime.SetMutexProfileFraction(cfg.MutexProfileRate)
		case "block":
			runtime.SetBlockProfileRate(cfg.BlockProfileRate)
		}
	}

	// Configure Pyroscope; auth and tenant are ignored by the client when empty
	types := ProfileTypes(cfg.ProfileTypes)
	pyroConfig := pyroscope.Config{
		ApplicationName:   cfg.ApplicationName,
		ServerAddress:     cfg.ServerAddress,
		BasicAuthUser:     cfg.BasicAuthUser,
		BasicAuthPassword: cfg.BasicAuthPassword,
		TenantID:          cfg.TenantID,
		Tags:              maps.Clone(cfg.Tags),
		ProfileTypes:      types,
		DisableGCRuns:     cfg.DisableGCRuns,
	}

	// Start the profiler
	profiler, err := pyroscope.Start(pyroConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to start Pyroscope profiler: %w", err)
	}

	logger.Info("Pyroscope profiler started",
		zap.String("server_address", cfg.ServerAddress),
		zap.String("application_name", cfg.ApplicationName),
		zap.Strings("profile_types", cfg.ProfileTypes),
	)

	return &Profiler{profiler: profiler, logger: logger}, nil
}

// Stop stops the profiler. Safe on nil.
func (p *Profiler) Stop() error {
	if p == nil || p.profiler == nil {
		return nil
	}

	if err := p.profiler.Stop(); err != nil {
		p.logger.Error("failed to stop profiler", zap.Error(err))
		return fmt.Errorf("profiler stop: %w", err)
	}

	p.logger.Info("Pyroscope profiler stopped")
	return nil
}

package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// LogLevelChanged is the only change applied without restart.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart, in schema order.
	RestartRequired []string
}

// Changed reports whether d carries any change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}

	sections := []struct {
		name     string
		old, new any
	}{
		{"correction", old.Correction, new.Correction},
		{"clarification", old.Clarification, new.Clarification},
		{"pipeline", old.Pipeline, new.Pipeline},
		{"batch", old.Batch, new.Batch},
		{"storage", old.Storage, new.Storage},
		{"providers", old.Providers, new.Providers},
		{"resilience", old.Resilience, new.Resilience},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}

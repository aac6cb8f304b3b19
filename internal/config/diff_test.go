package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/callscribe/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{ListenAddr: ":9090", LogLevel: config.LogInfo},
		Batch:     config.BatchConfig{MaxConcurrent: 5},
		Providers: config.ProvidersConfig{STT: []config.ProviderEntry{{Name: "whisper", BaseURL: "http://a"}}},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	d := config.Diff(baseConfig(), baseConfig())
	if d.Changed() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()

	next := baseConfig()
	next.Server.LogLevel = config.LogDebug

	d := config.Diff(baseConfig(), next)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	next := baseConfig()
	next.Server.ListenAddr = ":9191"
	next.Batch.MaxConcurrent = 10
	next.Providers.STT[0].BaseURL = "http://b"

	d := config.Diff(baseConfig(), next)
	want := []string{"server", "batch", "providers"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.LogLevelChanged {
		t.Error("LogLevelChanged should be false")
	}
}

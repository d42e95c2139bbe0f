package offline0

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("server:\n  origin: https://booking.example.com/\n"))
	require.NoError(t, err)

	assert.Equal(t, "https://booking.example.com", cfg.Server.Origin)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "v1", cfg.Caches.Version)
	assert.Equal(t, "/offline.html", cfg.Caches.OfflinePage)
	assert.Equal(t, ByteSize(64*mib), cfg.Storage.RAM.Max)
	assert.Equal(t, "leveldb", cfg.Storage.Queue.Driver)
	assert.Equal(t, 5*time.Second, cfg.Network.firstTimeoutDur)
	assert.Equal(t, 15*time.Second, cfg.Sync.Probe.everyDur)
	assert.Zero(t, cfg.Logging.logStatsEveryDur)
	assert.Contains(t, cfg.Caches.Precache, "/manifest.json")
}

func TestParseConfigOverridesFile(t *testing.T) {
	yml := `
server:
  origin: http://localhost:3000
caches:
  version: v2
storage:
  ram:
    max: 1.5mb
network:
  firstTimeout: 250ms
`
	cfg, err := ParseConfig([]byte(yml), func(cfg *Config) { cfg.Server.Port = 9000 })
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "v2", cfg.Caches.Version)
	assert.Equal(t, ByteSize(1.5*mib), cfg.Storage.RAM.Max)
	assert.Equal(t, 250*time.Millisecond, cfg.Network.firstTimeoutDur)
}

func TestParseConfigSQLiteQueuePath(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
server:
  origin: http://localhost:3000
storage:
  path: /var/lib/offline0/
  queue:
    driver: sqlite
`))
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/offline0/queue.db", cfg.Storage.Queue.Path)
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		yml  string
	}{
		{"missing origin", "caches:\n  version: v1\n"},
		{"relative origin", "server:\n  origin: /app\n"},
		{"ftp origin", "server:\n  origin: ftp://files.example.com\n"},
		{"bad driver", "server:\n  origin: http://a.test\nstorage:\n  queue:\n    driver: redis\n"},
		{"bad duration", "server:\n  origin: http://a.test\nnetwork:\n  firstTimeout: soon\n"},
		{"zero first timeout", "server:\n  origin: http://a.test\nnetwork:\n  firstTimeout: 0s\n"},
		{"negative probe", "server:\n  origin: http://a.test\nsync:\n  probe:\n    every: -1s\n"},
		{"offline page not a path", "server:\n  origin: http://a.test\ncaches:\n  offlinePage: offline.html\n"},
		{"bad size", "server:\n  origin: http://a.test\nstorage:\n  ram:\n    max: lots\n"},
		{"not yaml", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yml))
			require.Error(t, err)
			assert.True(t, IsKind(err, KindConfig), "got %v", err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offline0.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  origin: http://a.test\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://a.test", cfg.Server.Origin)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, IsKind(err, KindConfig))

	cfg, err = LoadConfig("", func(cfg *Config) { cfg.Server.Origin = "http://b.test" })
	require.NoError(t, err)
	assert.Equal(t, "http://b.test", cfg.Server.Origin)
}

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/boneybank/boneybank"
	"github.com/boneybank/boneybank/config"
	"github.com/boneybank/boneybank/kit/platform/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

const clusterToml = `
slot-duration = "500ms"
start-time = "10:30:00"

[[election]]
id = 1
url = "http://127.0.0.1:9001"

[[election]]
id = 2
url = "http://127.0.0.1:9002"

[[replica]]
id = 5
url = "http://127.0.0.1:9105"

[[replica]]
id = 4
url = "http://127.0.0.1:9104"

[[slot]]
frozen = []
suspected = []

[[slot]]
frozen = [4]
suspected = [4]

[logging]
format = "json"
level = "debug"

[transport]
retry-interval = "10ms"
`

const clusterYAML = `
slot-duration: 1s
election:
  - id: 1
    url: http://127.0.0.1:9001
replica:
  - id: 2
    url: http://127.0.0.1:9102
slot:
  - frozen: [2]
logging:
  level: warn
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Toml(t *testing.T) {
	c, err := config.Load(writeFile(t, "cluster.toml", clusterToml))
	require.NoError(t, err)

	require.Equal(t, config.Duration(500*time.Millisecond), c.SlotDuration)
	require.Equal(t, []boneybank.NodeID{1, 2}, c.ElectionIDs())
	require.Equal(t, []boneybank.NodeID{4, 5}, c.ReplicaIDs())
	require.Equal(t, "json", c.Logging.Format)
	require.Equal(t, zapcore.DebugLevel, c.Logging.Level)

	policy := c.RetryPolicy()
	require.Equal(t, 10*time.Millisecond, policy.Interval)
	require.Equal(t, time.Second, policy.MaxInterval, "unset values keep defaults")

	n, ok := c.Replica(5)
	require.True(t, ok)
	require.Equal(t, "http://127.0.0.1:9105", n.URL)
	_, ok = c.Election(5)
	require.False(t, ok)

	sched := c.Schedule()
	require.Equal(t, 2, sched.Len())
	row, ok := sched.Row(2)
	require.True(t, ok)
	require.True(t, row.IsFrozen(4))
	require.True(t, row.IsSuspected(4))
	require.False(t, row.IsFrozen(5))
}

func TestLoad_YAML(t *testing.T) {
	c, err := config.Load(writeFile(t, "cluster.yml", clusterYAML))
	require.NoError(t, err)

	require.Equal(t, config.Duration(time.Second), c.SlotDuration)
	require.Equal(t, []boneybank.NodeID{2}, c.ReplicaIDs())
	require.Equal(t, zapcore.WarnLevel, c.Logging.Level)
	require.Equal(t, "auto", c.Logging.Format)

	row, _ := c.Schedule().Row(1)
	require.True(t, row.IsFrozen(2))
}

func TestLoad_Missing(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *config.Config {
		c := config.NewConfig()
		c.Elections = []config.Node{{ID: 1, URL: "http://a"}}
		c.Replicas = []config.Node{{ID: 2, URL: "http://b"}}
		c.Slots = []config.Slot{{}}
		return c
	}

	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{name: "zero slot duration", mutate: func(c *config.Config) { c.SlotDuration = 0 }},
		{name: "no elections", mutate: func(c *config.Config) { c.Elections = nil }},
		{name: "no replicas", mutate: func(c *config.Config) { c.Replicas = nil }},
		{name: "no slots", mutate: func(c *config.Config) { c.Slots = nil }},
		{name: "duplicate across groups", mutate: func(c *config.Config) { c.Replicas[0].ID = 1 }},
		{name: "non-positive id", mutate: func(c *config.Config) { c.Elections[0].ID = 0 }},
		{name: "missing url", mutate: func(c *config.Config) { c.Replicas[0].URL = "" }},
		{name: "unknown frozen", mutate: func(c *config.Config) { c.Slots[0].Frozen = []boneybank.NodeID{9} }},
		{name: "unknown suspected", mutate: func(c *config.Config) { c.Slots[0].Suspected = []boneybank.NodeID{9} }},
		{name: "bad start time", mutate: func(c *config.Config) { c.StartTime = "noon" }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			require.Equal(t, errors.EInvalid, errors.ErrorCode(err))
		})
	}
}

func TestConfig_Start(t *testing.T) {
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.Local)

	c := config.NewConfig()
	got, err := c.Start(now)
	require.NoError(t, err)
	require.Equal(t, now, got)

	c.StartTime = "10:30:15"
	got, err = c.Start(now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 3, 1, 10, 30, 15, 0, time.Local), got)
}

func TestDuration_Text(t *testing.T) {
	var d config.Duration
	require.NoError(t, d.UnmarshalText(nil))
	require.Equal(t, config.Duration(0), d)
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	require.Equal(t, config.Duration(90*time.Second), d)
	require.Error(t, d.UnmarshalText([]byte("soon")))

	b, err := d.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "1m30s", string(b))
}

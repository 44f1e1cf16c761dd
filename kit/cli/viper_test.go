package cli

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewCommand_Precedence(t *testing.T) {
	tests := []struct {
		name     string
		env      string
		args     []string
		expected string
	}{
		{name: "default", expected: "http://127.0.0.1:9001"},
		{name: "env var", env: "http://env:1", expected: "http://env:1"},
		{name: "flag", args: []string{"--http-bind-address=http://flag:2"}, expected: "http://flag:2"},
		{name: "flag beats env", env: "http://env:1", args: []string{"--http-bind-address=http://flag:2"}, expected: "http://flag:2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.env != "" {
				require.NoError(t, os.Setenv("TESTD_HTTP_BIND_ADDRESS", tt.env))
				defer os.Unsetenv("TESTD_HTTP_BIND_ADDRESS")
			}

			var (
				addr     string
				id       int
				slot     time.Duration
				logLevel zapcore.Level
				ran      bool
			)
			cmd, err := NewCommand(viper.New(), &Program{
				Name: "testd",
				Opts: []Opt{
					{DestP: &addr, Flag: "http-bind-address", Default: "http://127.0.0.1:9001"},
					{DestP: &id, Flag: "id", Default: 1},
					{DestP: &slot, Flag: "slot-duration", Default: time.Second},
					{DestP: &logLevel, Flag: "log-level", Default: zapcore.WarnLevel},
				},
				Run: func() error {
					ran = true
					return nil
				},
			})
			require.NoError(t, err)
			cmd.SetArgs(tt.args)
			require.NoError(t, cmd.Execute())

			require.True(t, ran)
			require.Equal(t, tt.expected, addr)
			require.Equal(t, 1, id)
			require.Equal(t, time.Second, slot)
			require.Equal(t, zapcore.WarnLevel, logLevel)
		})
	}
}

func TestNewCommand_UnknownType(t *testing.T) {
	var f float32
	_, err := NewCommand(viper.New(), &Program{
		Name: "testd",
		Opts: []Opt{{DestP: &f, Flag: "ratio"}},
		Run:  func() error { return nil },
	})
	require.Error(t, err)
}

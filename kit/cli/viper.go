package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Opt is a single command-line option
type Opt struct {
	DestP    interface{} // pointer to the destination
	Flag     string
	Default  interface{}
	Desc     string
	Required bool
}

// Program parses CLI options
type Program struct {
	// Run is invoked by cobra on execute.
	Run func() error
	// Name is the name of the program in help usage and the env var prefix.
	Name string
	// Short is the one line description shown in help output.
	Short string
	// Opts are the command line/env var options to the program
	Opts []Opt
}

// NewCommand creates a new cobra command to be executed that respects env vars.
//
// Uses the upper-case version of the program's name as a prefix
// to all environment variables.
func NewCommand(v *viper.Viper, p *Program) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   p.Name,
		Short: p.Short,
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return p.Run()
		},
	}

	v.SetEnvPrefix(strings.ToUpper(p.Name))
	v.AutomaticEnv()
	// This normalizes "-" to an underscore in env names.
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if err := BindOptions(v, cmd, p.Opts); err != nil {
		return nil, err
	}
	return cmd, nil
}

// BindOptions adds opts to the specified command and automatically
// registers those options with viper. Values are resolved from viper when
// the command runs, so flags take precedence over env vars.
func BindOptions(v *viper.Viper, cmd *cobra.Command, opts []Opt) error {
	for _, o := range opts {
		flags := cmd.Flags()
		switch destP := o.DestP.(type) {
		case *string:
			var d string
			if o.Default != nil {
				d = o.Default.(string)
			}
			flags.StringVar(destP, o.Flag, d, o.Desc)
		case *int:
			var d int
			if o.Default != nil {
				d = o.Default.(int)
			}
			flags.IntVar(destP, o.Flag, d, o.Desc)
		case *int64:
			var d int64
			if o.Default != nil {
				d = o.Default.(int64)
			}
			flags.Int64Var(destP, o.Flag, d, o.Desc)
		case *bool:
			var d bool
			if o.Default != nil {
				d = o.Default.(bool)
			}
			flags.BoolVar(destP, o.Flag, d, o.Desc)
		case *time.Duration:
			var d time.Duration
			if o.Default != nil {
				d = o.Default.(time.Duration)
			}
			flags.DurationVar(destP, o.Flag, d, o.Desc)
		case *[]string:
			var d []string
			if o.Default != nil {
				d = o.Default.([]string)
			}
			flags.StringSliceVar(destP, o.Flag, d, o.Desc)
		case *zapcore.Level:
			d := zapcore.InfoLevel
			if o.Default != nil {
				d = o.Default.(zapcore.Level)
			}
			LevelVar(flags, destP, o.Flag, d, o.Desc)
		case pflag.Value:
			if o.Default != nil {
				if err := destP.Set(fmt.Sprint(o.Default)); err != nil {
					return fmt.Errorf("default for flag %q: %w", o.Flag, err)
				}
			}
			flags.Var(destP, o.Flag, o.Desc)
		default:
			return fmt.Errorf("unknown destination type %T for flag %q", o.DestP, o.Flag)
		}

		if err := v.BindPFlag(o.Flag, flags.Lookup(o.Flag)); err != nil {
			return err
		}
		if o.Required {
			if err := cmd.MarkFlagRequired(o.Flag); err != nil {
				return err
			}
		}
	}

	prev := cmd.PreRunE
	cmd.PreRunE = func(c *cobra.Command, args []string) error {
		for _, o := range opts {
			if err := setFromViper(v, c.Flags(), o); err != nil {
				return err
			}
		}
		if prev != nil {
			return prev(c, args)
		}
		return nil
	}
	return nil
}

// setFromViper copies the value viper resolved for o back into the flag set,
// which picks up env vars that were not given on the command line.
func setFromViper(v *viper.Viper, flags *pflag.FlagSet, o Opt) error {
	f := flags.Lookup(o.Flag)
	if f == nil || f.Changed || !v.IsSet(o.Flag) {
		return nil
	}
	val := v.Get(o.Flag)
	if s, ok := val.([]string); ok {
		val = strings.Join(s, ",")
	}
	s := fmt.Sprint(val)
	if s == f.Value.String() {
		return nil
	}
	if err := f.Value.Set(s); err != nil {
		return fmt.Errorf("invalid value %q for %s: %w", s, o.Flag, err)
	}
	return nil
}

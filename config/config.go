// Package config loads the cluster file shared by every node: the members
// of both groups, the slot duration and start time, and the per-slot
// schedule.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/boneybank/boneybank"
	"github.com/boneybank/boneybank/kit/platform/errors"
	"github.com/boneybank/boneybank/logger"
	"github.com/boneybank/boneybank/pkg/retry"
	"github.com/boneybank/boneybank/schedule"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultSlotDuration is the slot length when none is configured.
	DefaultSlotDuration = 2 * time.Second

	// StartTimeLayout is the layout of the start-time setting.
	StartTimeLayout = "15:04:05"
)

// Duration is a time.Duration read from a string such as "2s".
type Duration time.Duration

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalText parses a duration formatted string.
func (d *Duration) UnmarshalText(text []byte) error {
	// Ignore if there is no value set.
	if len(text) == 0 {
		return nil
	}
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalText converts a duration to a string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Node is a member of either group.
type Node struct {
	ID  boneybank.NodeID `toml:"id" yaml:"id"`
	URL string           `toml:"url" yaml:"url"`
}

// Slot is one row of the schedule.
type Slot struct {
	Frozen    []boneybank.NodeID `toml:"frozen" yaml:"frozen"`
	Suspected []boneybank.NodeID `toml:"suspected" yaml:"suspected"`
}

// Transport configures the retries of calls to frozen nodes.
type Transport struct {
	RetryInterval    Duration `toml:"retry-interval" yaml:"retry-interval"`
	MaxRetryInterval Duration `toml:"max-retry-interval" yaml:"max-retry-interval"`
}

// Config is the cluster file.
type Config struct {
	SlotDuration Duration `toml:"slot-duration" yaml:"slot-duration"`
	// StartTime is the wall-clock time of day, in local time, at which the
	// first slot begins. Empty means immediately.
	StartTime string `toml:"start-time" yaml:"start-time"`

	Elections []Node `toml:"election" yaml:"election"`
	Replicas  []Node `toml:"replica" yaml:"replica"`
	Slots     []Slot `toml:"slot" yaml:"slot"`

	Logging   logger.Config `toml:"logging" yaml:"logging"`
	Transport Transport     `toml:"transport" yaml:"transport"`
}

// NewConfig returns an instance of Config with defaults.
func NewConfig() *Config {
	return &Config{
		SlotDuration: Duration(DefaultSlotDuration),
		Logging:      logger.NewConfig(),
		Transport: Transport{
			RetryInterval:    Duration(retry.DefaultInterval),
			MaxRetryInterval: Duration(retry.DefaultMaxInterval),
		},
	}
}

// Load reads and validates the cluster file at path. Files ending in
// .yaml or .yml are read as YAML, anything else as TOML.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := NewConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = c.FromYAML(b)
	default:
		err = c.FromToml(string(b))
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// FromToml loads the config from a TOML string.
func (c *Config) FromToml(input string) error {
	_, err := toml.Decode(input, c)
	return err
}

// FromYAML loads the config from YAML.
func (c *Config) FromYAML(input []byte) error {
	return yaml.Unmarshal(input, c)
}

// Validate returns an error if the config is invalid.
func (c *Config) Validate() error {
	const op = "config.Validate"

	if c.SlotDuration <= 0 {
		return errors.Invalid(op, "slot-duration must be positive")
	}
	if len(c.Elections) == 0 {
		return errors.Invalid(op, "at least one election node is required")
	}
	if len(c.Replicas) == 0 {
		return errors.Invalid(op, "at least one replica is required")
	}
	if len(c.Slots) == 0 {
		return errors.Invalid(op, "at least one slot is required")
	}
	if c.StartTime != "" {
		if _, err := time.Parse(StartTimeLayout, c.StartTime); err != nil {
			return errors.Invalid(op, "start-time %q: expected HH:MM:SS", c.StartTime)
		}
	}

	known := make(map[boneybank.NodeID]bool)
	for _, n := range append(append([]Node(nil), c.Elections...), c.Replicas...) {
		if n.ID <= 0 {
			return errors.Invalid(op, "node id %d must be positive", n.ID)
		}
		if known[n.ID] {
			return errors.Invalid(op, "duplicate node id %d", n.ID)
		}
		if n.URL == "" {
			return errors.Invalid(op, "node %d has no url", n.ID)
		}
		known[n.ID] = true
	}
	for i, s := range c.Slots {
		for _, id := range append(append([]boneybank.NodeID(nil), s.Frozen...), s.Suspected...) {
			if !known[id] {
				return errors.Invalid(op, "slot %d names unknown node %d", i+1, id)
			}
		}
	}
	return nil
}

// Schedule returns the schedule of the configured slots.
func (c *Config) Schedule() *schedule.Schedule {
	rows := make([]schedule.Row, len(c.Slots))
	for i, s := range c.Slots {
		rows[i] = schedule.NewRow(s.Frozen, s.Suspected)
	}
	return schedule.New(rows)
}

// Start returns the time of the first slot, on the day of now.
func (c *Config) Start(now time.Time) (time.Time, error) {
	if c.StartTime == "" {
		return now, nil
	}
	t, err := time.Parse(StartTimeLayout, c.StartTime)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := now.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), 0, now.Location()), nil
}

// RetryPolicy returns the transport retry policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		Interval:    time.Duration(c.Transport.RetryInterval),
		MaxInterval: time.Duration(c.Transport.MaxRetryInterval),
	}
}

func ids(nodes []Node) []boneybank.NodeID {
	out := make([]boneybank.NodeID, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ElectionIDs returns the ids of the election nodes in order.
func (c *Config) ElectionIDs() []boneybank.NodeID { return ids(c.Elections) }

// ReplicaIDs returns the ids of the replicas in order.
func (c *Config) ReplicaIDs() []boneybank.NodeID { return ids(c.Replicas) }

func find(nodes []Node, id boneybank.NodeID) (Node, bool) {
	for _, n := range nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Election returns the election node id.
func (c *Config) Election(id boneybank.NodeID) (Node, bool) { return find(c.Elections, id) }

// Replica returns the replica id.
func (c *Config) Replica(id boneybank.NodeID) (Node, bool) { return find(c.Replicas, id) }

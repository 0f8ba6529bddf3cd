package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"

	"banward/pkg/firewall"
)

// Duration accepts either raw seconds ("600", "-1") or compound duration
// syntax ("10m30s"). Implements envconfig.Decoder.
type Duration time.Duration

func (d *Duration) Decode(value string) error {
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}

	dur, err := time.ParseDuration(value)
	if err != nil {
		return errors.Errorf("invalid duration %q", value)
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// HookList parses "INPUT:1,FORWARD:0". A bare chain name means position 0,
// append after existing jump rules.
type HookList []firewall.Hook

func (h *HookList) Decode(value string) error {
	var hooks []firewall.Hook
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		chain, pos, found := strings.Cut(part, ":")
		hook := firewall.Hook{Chain: chain}
		if found {
			n, err := strconv.Atoi(pos)
			if err != nil || n < 0 {
				return errors.Errorf("invalid hook position %q", part)
			}
			hook.Position = n
		}
		if hook.Chain == "" {
			return errors.Errorf("invalid hook %q", part)
		}
		hooks = append(hooks, hook)
	}
	if len(hooks) == 0 {
		return errors.Errorf("invalid hook list %q", value)
	}
	*h = hooks
	return nil
}

type Config struct {
	Listen string `default:":8080"`

	Attempts int      `default:"3"`
	Period   Duration `default:"600"`
	BanTime  Duration `split_words:"true" default:"1800"`

	DurablePeriod   Duration `split_words:"true" default:"3600"`
	DurablePath     string   `split_words:"true" default:"/var/lib/banward/records"`
	VolatilePath    string   `split_words:"true" default:"/tmp/banward/records"`
	CompressDurable bool     `split_words:"true" default:"false"`

	Chain    string   `default:"BANWARD"`
	Hooks    HookList `default:"INPUT:0"`
	Action   string   `default:"DROP"`
	Firewall string   `default:"iptables"`

	Whitelist    []string
	TickInterval Duration `split_words:"true" default:"60"`
}

// Load reads an optional .env file, then the BANWARD_* environment. Any
// invalid value is fatal to the caller before state is touched.
func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	if err := envconfig.Process("banward", &c); err != nil {
		return Config{}, errors.Wrap(err, "failed to process configuration")
	}

	if c.Attempts < 1 {
		return Config{}, errors.Errorf("attempts must be at least 1, got %v", c.Attempts)
	}
	if c.Period <= 0 || c.BanTime <= 0 || c.TickInterval <= 0 {
		return Config{}, errors.New("period, ban time and tick interval must be positive")
	}
	switch c.Firewall {
	case "iptables", "memory":
	default:
		return Config{}, errors.Errorf("unknown firewall backend %q", c.Firewall)
	}
	return c, nil
}

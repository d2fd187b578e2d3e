package link

import (
	"time"

	"github.com/mcuadros/go-defaults"
)

// Options bound every blocking step of the link lifecycle.
type Options struct {
	WriteTimeout    time.Duration `default:"2s" yaml:"write_timeout"`
	IdleTimeout     time.Duration `default:"15s" yaml:"idle_timeout"`
	ConnectAttempts int           `default:"3" yaml:"connect_attempts"`
	ConnectTimeout  time.Duration `default:"5s" yaml:"connect_timeout"`
	// SkipPairing suppresses the pairing request made on connect.
	SkipPairing bool `yaml:"skip_pairing"`
}

// DefaultOptions returns the production timings: 2s write, 15s idle,
// 3 connect attempts of 5s each, pairing requested.
func DefaultOptions() Options {
	var o Options
	defaults.SetDefaults(&o)
	return o
}

// withDefaults fills zero fields of o with their defaults.
func (o Options) withDefaults() Options {
	defaults.SetDefaults(&o)
	return o
}

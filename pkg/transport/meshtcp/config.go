package meshtcp

import (
	"errors"
	"time"

	"github.com/glowmesh/glowmesh/pkg/model"
)

const (
	defaultHelloInterval  = 500 * time.Millisecond
	defaultPeerTimeout    = 2 * time.Second
	defaultConnectTimeout = 5 * time.Second
)

// Config is the mesh transport provider configuration.
type Config struct {
	// ListenAddress is the local TCP address peers connect to. The node ID
	// is derived from it.
	ListenAddress string `json:"listen_address"`
	// Peers are the listen addresses of the other mesh nodes.
	Peers []string `json:"peers"`
	// HelloInterval is the cadence of the liveness announcements.
	HelloInterval time.Duration `json:"hello_interval"`
	// PeerTimeout is how long a peer stays in the membership snapshot
	// after its last hello.
	PeerTimeout time.Duration `json:"peer_timeout"`
	// ConnectTimeout is the maximum amount of time a dial will wait.
	ConnectTimeout time.Duration `json:"connect_timeout"`
}

var _ model.TransportConfig = (*Config)(nil)

func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return errors.New("listen address is required")
	}
	for _, p := range c.Peers {
		if p == "" {
			return errors.New("empty peer address")
		}
		if p == c.ListenAddress {
			return errors.New("peer list must not contain the listen address")
		}
	}
	if c.HelloInterval < 0 || c.PeerTimeout < 0 || c.ConnectTimeout < 0 {
		return errors.New("intervals must not be negative")
	}
	if c.HelloInterval != 0 && c.PeerTimeout != 0 && c.PeerTimeout <= c.HelloInterval {
		return errors.New("peer timeout must be longer than the hello interval")
	}
	return nil
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.HelloInterval == 0 {
		out.HelloInterval = defaultHelloInterval
	}
	if out.PeerTimeout == 0 {
		out.PeerTimeout = defaultPeerTimeout
	}
	if out.ConnectTimeout == 0 {
		out.ConnectTimeout = defaultConnectTimeout
	}
	return &out
}

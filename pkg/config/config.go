// Package config holds the JSON configuration of an mdp node.
package config

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/skycoin/mdp/pkg/archive"
	"github.com/skycoin/mdp/pkg/netio"
	"github.com/skycoin/mdp/pkg/session"
	"github.com/skycoin/mdp/pkg/store"
	"github.com/skycoin/mdp/pkg/util/pathutil"
)

// Store and archive types.
const (
	TypeMemory = "memory"
	TypeDir    = "dir"
	TypeBoltDB = "boltdb"
)

// Config defines configuration parameters for an mdp node.
type Config struct {
	Version string `json:"version"`

	Node struct {
		ID   uint32 `json:"id"`
		Name string `json:"name"`
	} `json:"node"`

	Network struct {
		Addr       string `json:"address"` // group or unicast destination, host:port
		Port       int    `json:"port"`    // local port, 0 uses the port of address
		Interface  string `json:"interface"`
		TTL        int    `json:"ttl"`
		TOS        int    `json:"tos"`
		Loopback   bool   `json:"loopback"`
		ReadBuffer int    `json:"read_buffer"`
	} `json:"network"`

	Protocol ProtocolConfig `json:"protocol"`

	Receive struct {
		Store    string `json:"store"` // "memory" or "dir"
		CacheDir string `json:"cache_dir"`
	} `json:"receive"`

	Archive struct {
		Type     string `json:"type"` // "memory" or "boltdb"
		Location string `json:"location"`
	} `json:"archive"`

	Interfaces struct {
		Status string `json:"status"` // address of the status/metrics HTTP server, blank disables it
	} `json:"interfaces"`

	LogLevel        string   `json:"log_level"`
	ShutdownTimeout Duration `json:"shutdown_timeout"` // time value, examples: 10s, 1m, etc
}

// ProtocolConfig holds the session parameters.
type ProtocolConfig struct {
	SegmentSize       int      `json:"segment_size"`
	NData             int      `json:"ndata"`
	NParity           int      `json:"nparity"`
	AutoParity        int      `json:"auto_parity"`
	TxRate            float64  `json:"tx_rate"` // bytes per second
	TxRateMin         float64  `json:"tx_rate_min"`
	TxRateMax         float64  `json:"tx_rate_max"`
	CongestionControl bool     `json:"congestion_control"`
	RobustFactor      int      `json:"robust_factor"`
	GrttInitial       Duration `json:"grtt_initial"`
	GrttMax           Duration `json:"grtt_max"`
	GrttProbeInterval Duration `json:"grtt_probe_interval"`
	TxHoldCount       int      `json:"tx_hold_count"`
	TxBufferSize      int      `json:"tx_buffer_size"`
	RxBufferSize      int      `json:"rx_buffer_size"`
	RxWindow          int      `json:"rx_window"`
	BackoffWindow     float64  `json:"backoff_window"` // in GRTT
	GroupSize         float64  `json:"group_size"`
	ActivityMin       Duration `json:"activity_min"`
	Emcon             bool     `json:"emcon"`
	UnicastNacks      bool     `json:"unicast_nacks"`
	AckingNodes       []uint32 `json:"acking_nodes"`
	ReportInterval    Duration `json:"report_interval"`
}

// Protocol returns the protocol section filled from session defaults.
func Protocol(c session.Config) ProtocolConfig {
	return ProtocolConfig{
		SegmentSize:       c.SegmentSize,
		NData:             c.NData,
		NParity:           c.NParity,
		AutoParity:        c.AutoParity,
		TxRate:            c.TxRate,
		TxRateMin:         c.TxRateMin,
		TxRateMax:         c.TxRateMax,
		CongestionControl: c.CongestionControl,
		RobustFactor:      c.RobustFactor,
		GrttInitial:       seconds(c.GrttInitial),
		GrttMax:           seconds(c.GrttMax),
		GrttProbeInterval: Duration(c.GrttProbeInterval),
		TxHoldCount:       c.TxHoldCount,
		TxBufferSize:      c.TxBufferSize,
		RxBufferSize:      c.RxBufferSize,
		RxWindow:          c.RxWindow,
		BackoffWindow:     c.BackoffWindow,
		GroupSize:         c.GroupSize,
		ActivityMin:       Duration(c.ActivityMin),
		Emcon:             c.Emcon,
		UnicastNacks:      c.UnicastNacks,
		AckingNodes:       c.AckingNodes,
		ReportInterval:    Duration(c.ReportInterval),
	}
}

func seconds(s float64) Duration { return Duration(time.Duration(s * float64(time.Second))) }

// SessionConfig returns validated session parameters. Zero fields keep the
// session defaults.
func (c *Config) SessionConfig() (session.Config, error) {
	p := c.Protocol
	sc := session.DefaultConfig()
	setInt := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}
	setFloat := func(dst *float64, v float64) {
		if v != 0 {
			*dst = v
		}
	}
	setDuration := func(dst *time.Duration, v Duration) {
		if v != 0 {
			*dst = time.Duration(v)
		}
	}
	setInt(&sc.SegmentSize, p.SegmentSize)
	setInt(&sc.NData, p.NData)
	setInt(&sc.NParity, p.NParity)
	sc.AutoParity = p.AutoParity
	setFloat(&sc.TxRate, p.TxRate)
	setFloat(&sc.TxRateMin, p.TxRateMin)
	setFloat(&sc.TxRateMax, p.TxRateMax)
	sc.CongestionControl = p.CongestionControl
	setInt(&sc.RobustFactor, p.RobustFactor)
	if p.GrttInitial != 0 {
		sc.GrttInitial = time.Duration(p.GrttInitial).Seconds()
	}
	if p.GrttMax != 0 {
		sc.GrttMax = time.Duration(p.GrttMax).Seconds()
	}
	setDuration(&sc.GrttProbeInterval, p.GrttProbeInterval)
	setInt(&sc.TxHoldCount, p.TxHoldCount)
	setInt(&sc.TxBufferSize, p.TxBufferSize)
	setInt(&sc.RxBufferSize, p.RxBufferSize)
	setInt(&sc.RxWindow, p.RxWindow)
	setFloat(&sc.BackoffWindow, p.BackoffWindow)
	setFloat(&sc.GroupSize, p.GroupSize)
	setDuration(&sc.ActivityMin, p.ActivityMin)
	sc.Emcon = p.Emcon
	sc.UnicastNacks = p.UnicastNacks
	sc.AckingNodes = p.AckingNodes
	sc.ReportInterval = time.Duration(p.ReportInterval)
	sc.NodeName = c.Node.Name

	if err := sc.Validate(); err != nil {
		return sc, err
	}
	return sc, nil
}

// UDPConfig returns the socket parameters.
func (c *Config) UDPConfig() (netio.UDPConfig, error) {
	n := c.Network
	if n.Addr == "" {
		return netio.UDPConfig{}, errors.New("empty network address")
	}
	return netio.UDPConfig{
		Addr:       n.Addr,
		Port:       n.Port,
		Interface:  n.Interface,
		TTL:        n.TTL,
		TOS:        n.TOS,
		Loopback:   n.Loopback,
		ReadBuffer: n.ReadBuffer,
	}, nil
}

// NodeID returns the configured node id.
func (c *Config) NodeID() (uint32, error) {
	if c.Node.ID == 0 {
		return 0, errors.New("empty node id")
	}
	return c.Node.ID, nil
}

// Factory returns the factory for receive sinks. Directory stores create
// the cache directory if necessary.
func (c *Config) Factory() (store.Factory, error) {
	switch c.Receive.Store {
	case "", TypeMemory:
		return store.MemoryFactory{}, nil
	case TypeDir:
		if c.Receive.CacheDir == "" {
			return nil, errors.New("empty cache_dir")
		}
		dir, err := pathutil.EnsureDir(c.Receive.CacheDir)
		if err != nil {
			return nil, err
		}
		return store.DirFactory{Dir: dir}, nil
	}
	return nil, fmt.Errorf("unknown store type %q", c.Receive.Store)
}

// ArchiveLog returns the configured transfer archive.
func (c *Config) ArchiveLog() (archive.Log, error) {
	switch c.Archive.Type {
	case "", TypeMemory:
		return archive.InMemoryLog(), nil
	case TypeBoltDB:
		if c.Archive.Location == "" {
			return nil, errors.New("empty archive location")
		}
		location, err := pathutil.Expand(c.Archive.Location)
		if err != nil {
			return nil, err
		}
		if _, err := pathutil.EnsureDir(filepath.Dir(location)); err != nil {
			return nil, err
		}
		return archive.BoltDBLog(location)
	}
	return nil, fmt.Errorf("unknown archive type %q", c.Archive.Type)
}

// Read decodes a Config from the JSON file at path.
func Read(path string) (*Config, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %s", err)
	}
	defer f.Close() // nolint: errcheck

	conf := &Config{}
	if err := json.NewDecoder(f).Decode(conf); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %s", path, err)
	}
	return conf, nil
}

// DefaultConfig returns a config for the working directory with a random node id.
func DefaultConfig() *Config {
	conf := &Config{}
	conf.Version = "1.0"

	conf.Node.ID = RandomNodeID()
	conf.Node.Name = fmt.Sprintf("mdp-%08x", conf.Node.ID)

	conf.Network.Addr = "224.225.1.2:5000"
	conf.Network.TTL = 8
	conf.Network.Loopback = true

	conf.Protocol = Protocol(session.DefaultConfig())

	conf.Receive.Store = TypeDir
	conf.Receive.CacheDir = "./mdp/cache"

	conf.Archive.Type = TypeBoltDB
	conf.Archive.Location = "./mdp/archive.db"

	conf.Interfaces.Status = "localhost:8090"

	conf.LogLevel = "info"
	conf.ShutdownTimeout = Duration(10 * time.Second)
	return conf
}

// HomeConfig returns DefaultConfig with paths under the home directory.
func HomeConfig() *Config {
	c := DefaultConfig()
	c.Receive.CacheDir = filepath.Join(pathutil.HomeDir(), ".mdp/cache")
	c.Archive.Location = filepath.Join(pathutil.HomeDir(), ".mdp/archive.db")
	return c
}

// LocalConfig returns DefaultConfig with paths under /usr/local.
func LocalConfig() *Config {
	c := DefaultConfig()
	c.Receive.CacheDir = "/usr/local/mdp/cache"
	c.Archive.Location = "/usr/local/mdp/archive.db"
	return c
}

// RandomNodeID derives a non-zero node id from a random UUID.
func RandomNodeID() uint32 {
	for {
		u := uuid.New()
		if id := binary.BigEndian.Uint32(u[:4]); id != 0 {
			return id
		}
	}
}

// Duration wraps around time.Duration to allow parsing from and to JSON
type Duration time.Duration

// MarshalJSON implements json marshaling
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements unmarshal from json
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(tmp)
		return nil
	default:
		return errors.New("invalid duration")
	}
}

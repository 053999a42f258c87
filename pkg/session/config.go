package session

import (
	"time"

	"github.com/pkg/errors"

	"github.com/skycoin/mdp/pkg/buffer"
)

// Protocol defaults.
const (
	DefaultSegmentSize    = 1024
	DefaultNData          = 64
	DefaultNParity        = 32
	DefaultAutoParity     = 0
	DefaultTxRate         = 64000.0 // bytes per second
	DefaultRobustFactor   = 20
	DefaultGrttInitial    = 0.5 // seconds
	DefaultGrttMax        = 15.0
	DefaultBackoffWindow  = 4.0 // in GRTT
	DefaultGroupSize      = 1000.0
	DefaultTxHoldCount    = 8
	DefaultTxBufferSize   = 1 << 20
	DefaultRxBufferSize   = 1 << 20
	DefaultRxWindow       = 256
	DefaultMessagePool    = 256
	DefaultNackBufferSize = 1024
)

// Config holds the protocol parameters of a session.
type Config struct {
	SegmentSize int
	NData       int
	NParity     int
	// AutoParity parity segments are sent with every block on the first pass.
	AutoParity int

	TxRate            float64 // bytes per second
	TxRateMin         float64
	TxRateMax         float64
	CongestionControl bool

	RobustFactor      int
	GrttInitial       float64 // seconds
	GrttMax           float64
	GrttProbeInterval time.Duration

	// TxHoldCount bounds the objects kept for repair after their first pass.
	TxHoldCount  int
	TxBufferSize int // bytes of parity buffering at the server
	RxBufferSize int // bytes of block buffering per remote server
	// RxWindow bounds how many object ids a client tracks per server.
	RxWindow int

	BackoffWindow float64 // in GRTT
	GroupSize     float64
	ActivityMin   time.Duration

	// Emcon clients never send feedback.
	Emcon bool
	// UnicastNacks makes clients send feedback to the server address, and
	// the server re-advertise NACKs that changed its repair state.
	UnicastNacks bool
	// AckingNodes are the clients the server collects positive acknowledgments from.
	AckingNodes []uint32

	ReportInterval time.Duration
	NodeName       string
	MessagePool    int
	NackBufferSize int
}

// DefaultConfig returns the default protocol parameters.
func DefaultConfig() Config {
	return Config{
		SegmentSize:       DefaultSegmentSize,
		NData:             DefaultNData,
		NParity:           DefaultNParity,
		AutoParity:        DefaultAutoParity,
		TxRate:            DefaultTxRate,
		TxRateMin:         1000,
		TxRateMax:         10e6,
		RobustFactor:      DefaultRobustFactor,
		GrttInitial:       DefaultGrttInitial,
		GrttMax:           DefaultGrttMax,
		GrttProbeInterval: 2 * time.Second,
		TxHoldCount:       DefaultTxHoldCount,
		TxBufferSize:      DefaultTxBufferSize,
		RxBufferSize:      DefaultRxBufferSize,
		RxWindow:          DefaultRxWindow,
		BackoffWindow:     DefaultBackoffWindow,
		GroupSize:         DefaultGroupSize,
		ActivityMin:       time.Second,
		MessagePool:       DefaultMessagePool,
		NackBufferSize:    DefaultNackBufferSize,
	}
}

// Validate checks the parameters for consistency.
func (c *Config) Validate() error {
	g := buffer.Geometry{SegmentSize: c.SegmentSize, NData: c.NData, NParity: c.NParity}
	if err := g.Validate(); err != nil {
		return errors.Wrap(err, "block geometry")
	}
	switch {
	case c.AutoParity < 0 || c.AutoParity > c.NParity:
		return errors.New("auto parity exceeds parity count")
	case c.TxRate <= 0:
		return errors.New("tx rate must be positive")
	case c.TxRateMin > c.TxRateMax:
		return errors.New("tx rate bounds are inverted")
	case c.RobustFactor < 1:
		return errors.New("robust factor must be at least 1")
	case c.GrttInitial <= 0 || c.GrttMax < c.GrttInitial:
		return errors.New("invalid grtt bounds")
	case c.TxHoldCount < 1:
		return errors.New("tx hold count must be at least 1")
	case c.RxWindow < 8:
		return errors.New("rx window must be at least 8")
	case c.MessagePool < 8:
		return errors.New("message pool must be at least 8")
	case c.NackBufferSize < 64:
		return errors.New("nack buffer too small")
	}
	return nil
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records session metrics.
type Recorder interface {
	PacketSent(kind string, size int)
	PacketReceived(kind string, size int)
	PacketDropped(reason string)
	ObjectDone(direction string, ok bool)
	SetTxRate(bytesPerSec float64)
	SetGrtt(d time.Duration)
	SetBuffered(bytes int64)
}

type dummy struct{}

// NewDummy constructs a new dummy metrics recorder.
func NewDummy() Recorder {
	return &dummy{}
}

func (dummy) PacketSent(string, int)     {}
func (dummy) PacketReceived(string, int) {}
func (dummy) PacketDropped(string)       {}
func (dummy) ObjectDone(string, bool)    {}
func (dummy) SetTxRate(float64)          {}
func (dummy) SetGrtt(time.Duration)      {}
func (dummy) SetBuffered(int64)          {}

type prom struct {
	sent      *prometheus.CounterVec
	sentBytes *prometheus.CounterVec
	recv      *prometheus.CounterVec
	recvBytes *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	objects   *prometheus.CounterVec
	txRate    prometheus.Gauge
	grtt      prometheus.Gauge
	buffered  prometheus.Gauge
}

// NewPrometheus constructs a new Prometheus metrics recorder registered
// with the default registry.
func NewPrometheus(service string) Recorder {
	return &prom{
		sent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_packets_sent_total",
			Help: "The total number of packets sent by message type",
		}, []string{"type"}),
		sentBytes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_bytes_sent_total",
			Help: "The total number of bytes sent by message type",
		}, []string{"type"}),
		recv: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_packets_received_total",
			Help: "The total number of packets received by message type",
		}, []string{"type"}),
		recvBytes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_bytes_received_total",
			Help: "The total number of bytes received by message type",
		}, []string{"type"}),
		dropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_packets_dropped_total",
			Help: "The total number of received packets dropped",
		}, []string{"reason"}),
		objects: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_objects_total",
			Help: "The total number of finished objects",
		}, []string{"direction", "result"}),
		txRate: promauto.NewGauge(prometheus.GaugeOpts{
			Name: service + "_tx_rate_bytes",
			Help: "Current transmit rate in bytes per second",
		}),
		grtt: promauto.NewGauge(prometheus.GaugeOpts{
			Name: service + "_grtt_seconds",
			Help: "Current group round trip time estimate",
		}),
		buffered: promauto.NewGauge(prometheus.GaugeOpts{
			Name: service + "_buffered_bytes",
			Help: "Receive buffer bytes in use",
		}),
	}
}

func (m *prom) PacketSent(kind string, size int) {
	m.sent.WithLabelValues(kind).Inc()
	m.sentBytes.WithLabelValues(kind).Add(float64(size))
}

func (m *prom) PacketReceived(kind string, size int) {
	m.recv.WithLabelValues(kind).Inc()
	m.recvBytes.WithLabelValues(kind).Add(float64(size))
}

func (m *prom) PacketDropped(reason string) { m.dropped.WithLabelValues(reason).Inc() }

func (m *prom) ObjectDone(direction string, ok bool) {
	result := "complete"
	if !ok {
		result = "aborted"
	}
	m.objects.WithLabelValues(direction, result).Inc()
}

func (m *prom) SetTxRate(bytesPerSec float64) { m.txRate.Set(bytesPerSec) }

func (m *prom) SetGrtt(d time.Duration) { m.grtt.Set(d.Seconds()) }

func (m *prom) SetBuffered(bytes int64) { m.buffered.Set(float64(bytes)) }

// RequestRecorder records status endpoint requests.
type RequestRecorder interface {
	Record(resTime time.Duration, hasErr bool)
}

type promRequests struct {
	reqCount prometheus.Counter
	errCount prometheus.Counter
	resTime  prometheus.Summary
}

// NewPrometheusRequests constructs a RequestRecorder for the status endpoint.
func NewPrometheusRequests(service string) RequestRecorder {
	return &promRequests{
		reqCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: service + "_request_total",
			Help: "The total number of processed requests",
		}),
		errCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: service + "_errors_total",
			Help: "The total number of 500 responses",
		}),
		resTime: promauto.NewSummary(prometheus.SummaryOpts{
			Name: service + "_response_time",
			Help: "Response times",
		}),
	}
}

func (m *promRequests) Record(resTime time.Duration, hasErr bool) {
	m.reqCount.Inc()
	m.resTime.Observe(resTime.Seconds())
	if hasErr {
		m.errCount.Inc()
	}
}

// Handler provides metrics middleware.
func Handler(m RequestRecorder, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if m == nil {
			next.ServeHTTP(w, req)
			return
		}

		wrapW := &wrapResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		startTime := time.Now()
		next.ServeHTTP(wrapW, req)
		m.Record(time.Since(startTime), wrapW.statusCode == http.StatusInternalServerError)
	})
}

type wrapResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *wrapResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

package node

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skycoin/mdp/internal/httputil"
	"github.com/skycoin/mdp/internal/metrics"
	"github.com/skycoin/mdp/pkg/archive"
	"github.com/skycoin/mdp/pkg/session"
)

// Summary provides a summary of a node.
type Summary struct {
	ID       uint32        `json:"id"`
	Name     string        `json:"name"`
	Version  string        `json:"version"`
	Local    string        `json:"local_addr"`
	Group    string        `json:"group"`
	Sending  int           `json:"sending"` // objects not finished yet
	Received int           `json:"received"`
	Archived int           `json:"archived"`
	Session  session.Stats `json:"session"`
}

// Summary returns a summary of the node taken on the loop.
func (n *Node) Summary(ctx context.Context) (*Summary, error) {
	var sum *Summary
	err := n.loop.Do(ctx, func() {
		sum = &Summary{
			ID:       n.id,
			Name:     n.conf.Node.Name,
			Version:  Version,
			Local:    n.sock.LocalAddr().String(),
			Group:    n.group.String(),
			Sending:  len(n.outstanding),
			Received: n.received,
			Archived: n.archive.Count(),
			Session:  n.sess.Stats(),
		}
	})
	return sum, err
}

// updateStats feeds the gauges the session does not set itself.
func (n *Node) updateStats() {
	var buffered int64
	for _, ns := range n.sess.Stats().Nodes {
		buffered += ns.Buffered
	}
	n.metrics.SetBuffered(buffered)
}

// ServeHTTP implements http.Handler
func (n *Node) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	n.router.ServeHTTP(w, req)
}

func (n *Node) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(time.Second * 30))
	r.Use(middleware.Logger)
	r.Get("/status", n.getStatus())
	r.Get("/transfers", n.getTransfers())
	r.Get("/transfers/{id}", n.getTransfer())
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	if n.reqMetrics == nil {
		return r
	}
	return metrics.Handler(n.reqMetrics, r)
}

func (n *Node) getStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, err := n.Summary(r.Context())
		if err != nil {
			httputil.WriteJSON(w, r, http.StatusServiceUnavailable, err)
			return
		}
		httputil.WriteJSON(w, r, http.StatusOK, sum)
	}
}

// lists the archived transfers, oldest first. "limit" keeps the newest ones.
func (n *Node) getTransfers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := httputil.IntFromQuery(r, "limit", 0)
		if err != nil {
			httputil.WriteJSON(w, r, http.StatusBadRequest, err)
			return
		}
		records := make([]*archive.Record, 0, n.archive.Count())
		if err := n.archive.Range(func(rec *archive.Record) bool {
			records = append(records, rec)
			return true
		}); err != nil {
			httputil.WriteJSON(w, r, http.StatusInternalServerError, err)
			return
		}
		if limit > 0 && len(records) > limit {
			records = records[len(records)-limit:]
		}
		httputil.WriteJSON(w, r, http.StatusOK, records)
	}
}

func (n *Node) getTransfer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httputil.WriteJSON(w, r, http.StatusBadRequest, err)
			return
		}
		rec, err := n.archive.Record(id)
		switch err {
		case nil:
			httputil.WriteJSON(w, r, http.StatusOK, rec)
		case archive.ErrNotFound:
			httputil.WriteJSON(w, r, http.StatusNotFound, err)
		default:
			httputil.WriteJSON(w, r, http.StatusInternalServerError, err)
		}
	}
}

package prometheus

import (
	"context"
	"encoding/json"
	"net"

	"github.com/fluxorio/threadpool/pkg/core/concurrency"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// DefaultMetricsPath is where the scrape endpoint is mounted
const DefaultMetricsPath = "/metrics"

// Handler returns a fasthttp handler serving gatherer in the Prometheus
// exposition format
func Handler(gatherer prometheus.Gatherer) fasthttp.RequestHandler {
	if gatherer == nil {
		gatherer = DefaultRegistry
	}
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

// Server exposes /metrics and, when pools are attached, /stats with each
// pool's current snapshot as JSON.
type Server struct {
	addr    string
	metrics fasthttp.RequestHandler
	pools   []*concurrency.ThreadPoolExecutor
	srv     *fasthttp.Server
}

// NewServer creates a metrics server for addr (e.g. ":9090")
func NewServer(addr string, gatherer prometheus.Gatherer, pools ...*concurrency.ThreadPoolExecutor) *Server {
	s := &Server{
		addr:    addr,
		metrics: Handler(gatherer),
		pools:   pools,
	}
	s.srv = &fasthttp.Server{
		Handler:                      s.handle,
		Name:                         "threadpool-metrics",
		NoDefaultServerHeader:        true,
		DisablePreParseMultipartForm: true,
	}
	return s
}

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case DefaultMetricsPath:
		s.metrics(ctx)
	case "/stats":
		s.stats(ctx)
	default:
		ctx.Error("not found", fasthttp.StatusNotFound)
	}
}

func (s *Server) stats(ctx *fasthttp.RequestCtx) {
	out := make(map[string]concurrency.ExecutorStats, len(s.pools))
	for _, p := range s.pools {
		out[p.Name()] = p.Stats()
	}
	body, err := json.Marshal(out)
	if err != nil {
		ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// ListenAndServe serves on the configured address until Shutdown
func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe(s.addr)
}

// Serve serves on ln until Shutdown
func (s *Server) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

// Shutdown stops accepting connections and waits for open ones to finish
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.ShutdownWithContext(ctx)
}

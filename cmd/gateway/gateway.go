package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/krishna-kudari/governor"
	"github.com/krishna-kudari/governor/internal/config"
	"github.com/krishna-kudari/governor/metrics"
	"github.com/krishna-kudari/governor/middleware"
	"github.com/krishna-kudari/governor/stats"
	redisstats "github.com/krishna-kudari/governor/stats/redis"
)

const (
	limiterName     = "gateway"
	headerRequestID = "X-Request-ID"
	statsTimeout    = 500 * time.Millisecond
)

// gateway wires a governor, its metrics and stats, and the upstream proxy.
type gateway struct {
	cfg      *config.Config
	log      *slog.Logger
	quota    governor.Quota
	gov      *governor.Governor[string]
	registry *prometheus.Registry
	sink     stats.Sink
	closers  []io.Closer
	upstream http.Handler
}

func newGateway(cfg *config.Config, log *slog.Logger) (*gateway, error) {
	q, err := cfg.Limit.Quota()
	if err != nil {
		return nil, err
	}
	gov, err := governor.New[string](q,
		governor.WithIdleEviction(cfg.Limit.IdleTTL),
		governor.WithSweepInterval(cfg.Limit.SweepInterval),
		governor.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	target, err := url.Parse(cfg.Server.Upstream)
	if err != nil {
		gov.Close()
		return nil, fmt.Errorf("invalid upstream: %w", err)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.ErrorContext(r.Context(), "Upstream request failed",
			"request_id", r.Header.Get(headerRequestID), "error", err)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
	}

	gw := &gateway{
		cfg:      cfg,
		log:      log,
		quota:    q,
		gov:      gov,
		registry: prometheus.NewRegistry(),
		upstream: proxy,
	}

	if cfg.Stats.Enabled {
		rc := cfg.Stats.Redis
		client := goredis.NewClient(&goredis.Options{
			Addr:                  rc.Addr,
			Password:              rc.Password,
			DB:                    rc.DB,
			ContextTimeoutEnabled: true,
		})
		ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn("Redis unreachable, stats will be retried per event", "addr", rc.Addr, "error", err)
		}
		cancel()
		sink := redisstats.New(client,
			redisstats.WithPrefix(rc.Prefix),
			redisstats.WithTTL(rc.TTL),
			redisstats.WithTrackKeys(rc.TrackKeys),
		)
		async := stats.NewAsync(sink, stats.WithTimeout(statsTimeout), stats.WithLogger(log))
		gw.sink = async
		// flush the queue before the client goes away
		gw.closers = append(gw.closers, async, sink)
	}
	return gw, nil
}

// extractor maps limit.key to a net/http extractor.
func extractor(l config.LimitConfig) (governor.KeyExtractor[*http.Request, string], error) {
	switch l.Key {
	case config.KeyPeerIP:
		return middleware.PeerIP{}, nil
	case config.KeySmartIP:
		return middleware.SmartIP{}, nil
	case config.KeyBearer:
		return middleware.BearerToken{}, nil
	case config.KeyHeader:
		return middleware.Header(l.Header), nil
	case config.KeyGlobal:
		return middleware.Global, nil
	}
	return nil, fmt.Errorf("unsupported key %q", l.Key)
}

// Router builds the gateway's routes: health, metrics, then everything else
// rate limited and proxied.
func (g *gateway) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(requestID)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","tracked_keys":%d}`, g.gov.Len())
	}).Methods(http.MethodGet)

	var limiter governor.Limiter[string] = g.gov
	if g.cfg.Metrics.Enabled {
		g.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector := metrics.NewCollector(metrics.WithRegistry(g.registry))
		if err := collector.TrackKeys(limiterName, g.gov); err != nil {
			g.log.Warn("Tracked keys gauge not registered", "error", err)
		}
		limiter = metrics.Wrap(limiter, limiterName, collector)
		r.Handle(g.cfg.Metrics.Path, promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	ex, err := extractor(g.cfg.Limit)
	if err != nil {
		// Validate rejects unknown keys before we get here.
		panic(err)
	}
	exclude := make(map[string]bool, len(g.cfg.Limit.ExcludePaths))
	for _, p := range g.cfg.Limit.ExcludePaths {
		exclude[p] = true
	}
	headers := g.cfg.Limit.UseHeaders

	limited := middleware.RateLimitWithConfig(middleware.Config{
		Limiter:      limiter,
		Extractor:    ex,
		Name:         limiterName,
		ExcludePaths: exclude,
		Headers:      &headers,
		Logger:       g.log,
		Stats:        g.sink,
	})
	r.PathPrefix("/").Handler(limited(g.upstream))
	return r
}

// Close stops the sweeper and releases the stats backend.
func (g *gateway) Close() error {
	g.gov.Close()
	var errs []error
	for _, c := range g.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// requestID tags each request with an X-Request-ID, keeping one set by a
// downstream proxy, and echoes it on the response.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
			r.Header.Set(headerRequestID, id)
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r)
	})
}

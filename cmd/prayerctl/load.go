package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/duashare/project/internal/app/prayers"
	"github.com/duashare/project/internal/platform/env"
	"github.com/duashare/project/internal/platform/logging"
	"github.com/duashare/project/internal/platform/metrics"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	loadActionsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "duashare_loadgen_actions_total",
		Help: "Actions executed by the load generator.",
	}, []string{"action", "outcome"})

	loadViewersGauge = metrics.NewGaugeVec(metrics.Opts{
		Name: "duashare_loadgen_viewers",
		Help: "Open feed event streams held by the load generator.",
	}, []string{"view"})

	loadPatchesTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "duashare_loadgen_patches_total",
		Help: "Datastar patch events received by load generator viewers.",
	}, []string{"view"})
)

func init() {
	metrics.Default.MustRegister(loadActionsTotal, loadViewersGauge, loadPatchesTotal)
}

type loadConfig struct {
	StreamerURL   string
	Users         int
	Viewers       int
	Duration      time.Duration
	RampUp        time.Duration
	RatePerUser   float64
	AmeenShare    float64
	MetricsAddr   string
	ReconnectWait time.Duration
}

func newLoadCmd(c *cli) *cobra.Command {
	cfg := loadConfig{ReconnectWait: 1200 * time.Millisecond}
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Drive synthetic submissions, ameens and viewers against a deployment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.Users <= 0 && cfg.Viewers <= 0 {
				return errors.New("need at least one user or viewer")
			}
			logger := logging.New("prayerctl-load", env.String("LOG_LEVEL", "info"), env.String("LOG_FORMAT", "console"))
			r := &loadRunner{
				cfg:    cfg,
				api:    c.client(),
				sse:    &http.Client{},
				logger: logger,
			}
			ctx := cmd.Context()
			if cfg.Duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
				defer cancel()
			}
			if cfg.MetricsAddr != "" {
				go serveLoadMetrics(ctx, cfg.MetricsAddr, logger)
			}
			summary := r.run(ctx)
			fmt.Fprintln(c.out, summary)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.StreamerURL, "streamer", env.String("FEED_STREAMER_URL", "http://localhost:8081"), "feed-streamer base URL for viewers")
	f.IntVar(&cfg.Users, "users", 20, "virtual users submitting and saying ameen")
	f.IntVar(&cfg.Viewers, "viewers", 50, "open public feed streams")
	f.DurationVar(&cfg.Duration, "duration", time.Minute, "how long to run; 0 runs until interrupted")
	f.DurationVar(&cfg.RampUp, "ramp-up", 10*time.Second, "spread user and viewer start over this window")
	f.Float64Var(&cfg.RatePerUser, "rate", 0.5, "actions per user per second")
	f.Float64Var(&cfg.AmeenShare, "ameen-share", 0.7, "fraction of actions that are ameens once prayers exist")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "serve /metrics on this address while running")
	return cmd
}

type loadRunner struct {
	cfg    loadConfig
	api    *prayers.Client
	sse    *http.Client
	logger zerolog.Logger

	mu     sync.Mutex
	known  []string
	counts map[string]int

	succeeded atomic.Int64
	failed    atomic.Int64
	patches   atomic.Int64
}

func (r *loadRunner) run(ctx context.Context) string {
	r.counts = map[string]int{}
	var wg sync.WaitGroup
	total := r.cfg.Users + r.cfg.Viewers
	slot := 0
	for i := 0; i < r.cfg.Viewers; i++ {
		delay := r.rampDelay(slot, total)
		slot++
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sleepCtx(ctx, delay) {
				r.viewLoop(ctx)
			}
		}()
	}
	for i := 0; i < r.cfg.Users; i++ {
		delay := r.rampDelay(slot, total)
		seed := time.Now().UnixNano() + int64(i*7)
		slot++
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sleepCtx(ctx, delay) {
				r.userLoop(ctx, rand.New(rand.NewSource(seed)))
			}
		}()
	}
	wg.Wait()
	return fmt.Sprintf("load complete: succeeded=%d failed=%d patches=%d",
		r.succeeded.Load(), r.failed.Load(), r.patches.Load())
}

func (r *loadRunner) rampDelay(slot, total int) time.Duration {
	if r.cfg.RampUp <= 0 || total <= 0 {
		return 0
	}
	return time.Duration(float64(r.cfg.RampUp) / float64(total) * float64(slot))
}

func (r *loadRunner) userLoop(ctx context.Context, rng *rand.Rand) {
	interval := time.Second
	if r.cfg.RatePerUser > 0 {
		interval = time.Duration(float64(time.Second) / r.cfg.RatePerUser)
		if interval < 25*time.Millisecond {
			interval = 25 * time.Millisecond
		}
	}
	if !sleepCtx(ctx, time.Duration(rng.Int63n(int64(interval)))) {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.act(ctx, rng)
		}
	}
}

func (r *loadRunner) act(ctx context.Context, rng *rand.Rand) {
	id, observed, ok := r.pick(rng)
	if !ok || rng.Float64() >= r.cfg.AmeenShare {
		row, err := r.api.Create(ctx, fmt.Sprintf("Load prayer %d: grant ease to those in hardship", rng.Intn(1_000_000)))
		if r.record("submit", err) {
			r.remember(row.ID, row.AmeenCount)
		}
		return
	}
	row, err := r.api.Ameen(ctx, id, observed)
	if r.record("ameen", err) {
		r.remember(row.ID, row.AmeenCount)
	}
}

func (r *loadRunner) record(action string, err error) bool {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		loadActionsTotal.WithLabelValues(action, "error").Inc()
		r.failed.Add(1)
		r.logger.Debug().Err(err).Str("action", action).Msg("load action failed")
		return false
	}
	loadActionsTotal.WithLabelValues(action, "success").Inc()
	r.succeeded.Add(1)
	return true
}

func (r *loadRunner) remember(id string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.counts[id]; !ok {
		r.known = append(r.known, id)
	}
	if count > r.counts[id] {
		r.counts[id] = count
	}
}

func (r *loadRunner) pick(rng *rand.Rand) (string, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.known) == 0 {
		return "", 0, false
	}
	id := r.known[rng.Intn(len(r.known))]
	return id, r.counts[id], true
}

func (r *loadRunner) viewLoop(ctx context.Context) {
	for {
		err := r.watch(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.logger.Debug().Err(err).Msg("viewer reconnecting")
		}
		if !sleepCtx(ctx, r.cfg.ReconnectWait) {
			return
		}
	}
}

func (r *loadRunner) watch(ctx context.Context) error {
	url := strings.TrimRight(r.cfg.StreamerURL, "/") + "/events?view=public"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := r.sse.Do(req)
	if err != nil {
		loadActionsTotal.WithLabelValues("view", "error").Inc()
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		loadActionsTotal.WithLabelValues("view", "error").Inc()
		return errors.New("unexpected stream status " + strconv.Itoa(resp.StatusCode))
	}
	loadActionsTotal.WithLabelValues("view", "success").Inc()

	loadViewersGauge.Add(1, "public")
	defer loadViewersGauge.Add(-1, "public")

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "event: datastar-patch-elements") {
			loadPatchesTotal.WithLabelValues("public").Inc()
			r.patches.Add(1)
		}
	}
	return scanner.Err()
}

func serveLoadMetrics(ctx context.Context, addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.DefaultHandler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	logger.Info().Str("addr", addr).Msg("load metrics listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("load metrics server failed")
	}
}

// sleepCtx waits for d and reports whether ctx is still live.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

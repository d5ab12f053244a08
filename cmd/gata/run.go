package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"gata/internal/config"
	agenterrors "gata/internal/errors"
	"gata/internal/gata"
	"gata/internal/history"
	"gata/internal/httpclient"
	"gata/internal/identity"
	"gata/internal/logging"
	"gata/internal/observability"
	"gata/internal/rewards"
	"gata/internal/scoring"
	"gata/internal/session"
	"gata/internal/statusserver"
	"gata/internal/store"
	"gata/internal/taskloop"
)

func runAgent(ctx context.Context, cfg config.Config, out io.Writer) error {
	sink, err := logging.Configure(logging.SinkOptions{
		Level:  logging.ParseLevel(cfg.Log.Level),
		File:   cfg.Log.File,
		Stdout: out,
	})
	if err != nil {
		return &ExitCodeError{Code: 1, Err: err}
	}
	defer sink.Close()
	logger := logging.NewComponentLogger("main")

	loadSigner := func() (session.Signer, error) {
		id, err := identity.LoadFile(cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		return id, nil
	}
	if _, err := loadSigner(); err != nil {
		if errors.Is(err, identity.ErrKeyFileMissing) {
			return &ExitCodeError{Code: 1, Err: fmt.Errorf("%s not found; create it with your private key", cfg.KeyFile)}
		}
		return &ExitCodeError{Code: 1, Err: err}
	}

	tp, err := observability.NewTracerProvider(cfg.Tracing)
	if err != nil {
		return &ExitCodeError{Code: 1, Err: err}
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Tracer shutdown failed: %v", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)

	breakerCfg := agenterrors.DefaultCircuitBreakerConfig()
	breakerCfg.OnStateChange = func(from, to agenterrors.CircuitState, host string) {
		metrics.SetBreakerState(host, int(to))
		logger.Warn("Circuit breaker %s: %s -> %s", host, from, to)
	}
	httpClient := httpclient.NewWithCircuitBreakerConfig(cfg.Client.Timeout, logging.NewComponentLogger("http"), breakerCfg)
	client := gata.NewClient(
		gata.Endpoints{Earn: cfg.Endpoints.Earn, Agent: cfg.Endpoints.Agent},
		gata.WithHTTPClient(httpClient),
		gata.WithHeaders(cfg.Client.EndpointHeader, cfg.Client.UserAgent),
		gata.WithLogger(logging.NewComponentLogger("gata")),
	)

	st, err := store.New(cfg.State.Dir, store.WithFileNames(cfg.State.TokensFile, cfg.State.StatsFile))
	if err != nil {
		return &ExitCodeError{Code: 1, Err: err}
	}

	auth := session.NewAuthenticator(client,
		session.WithInviteCode(cfg.InviteCode),
		session.WithCredentialSaver(st),
		session.WithLogger(logging.NewComponentLogger("session")),
	)
	sess, err := bootstrap(ctx, auth, loadSigner, cfg.Bootstrap.MaxRetries, logger)
	if err != nil {
		return &ExitCodeError{Code: 1, Err: fmt.Errorf("failed to initialize: %w", err)}
	}

	tracker := rewards.NewTracker(client,
		rewards.WithStatsSaver(st),
		rewards.WithReporter(rewards.NewConsoleReporter(out)),
		rewards.WithPageSize(cfg.Rewards.PageSize),
		rewards.WithLogger(logging.NewComponentLogger("rewards")),
	)
	if snap, err := st.LoadStats(); err == nil {
		tracker.Seed(snap)
	} else if !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Ignoring unreadable stats file: %v", err)
	}
	if snap, err := tracker.Refresh(ctx, sess.TaskToken); err != nil {
		logger.Warn("Error updating rewards: %v", err)
	} else {
		metrics.SetRewards(snap.TotalPoints, snap.DailyPoints, snap.CompletedCount)
	}
	logger.Info("Bot successfully initialized")

	opts := []taskloop.Option{
		taskloop.WithConfig(taskloop.Config{
			MinDelay:    cfg.Delays.Min,
			MaxDelay:    cfg.Delays.Max,
			RetryDelay:  cfg.Delays.Retry,
			SettleDelay: cfg.Delays.Settle,
		}),
		taskloop.WithReauthenticator(session.NewReauthenticator(auth, loadSigner)),
		taskloop.WithMetrics(metrics),
		taskloop.WithTracer(tp.Tracer()),
	}

	var ledger *history.Store
	if cfg.History.Path != "" {
		ledger, err = history.Open(cfg.History.Path)
		if err != nil {
			return &ExitCodeError{Code: 1, Err: err}
		}
		defer ledger.Close()
		opts = append(opts, taskloop.WithRecorder(ledger))
	}

	ctrl := taskloop.New(sess, client, tracker, scoring.NewEngine(nil), opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })

	if cfg.Status.Addr != "" {
		srvOpts := []statusserver.Option{
			statusserver.WithGatherer(reg),
			statusserver.WithCORSOrigins(cfg.Status.CORSOrigins...),
		}
		if ledger != nil {
			srvOpts = append(srvOpts, statusserver.WithHistory(ledger))
		}
		srv := statusserver.New(cfg.Status.Addr, ctrl, tracker, srvOpts...)
		g.Go(func() error { return srv.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Shutting down")
	return nil
}

// bootstrap runs the handshake, retrying up to maxRetries times on transient
// failures. The key is reloaded for every attempt.
func bootstrap(ctx context.Context, auth *session.Authenticator, load session.SignerLoader, maxRetries int, logger logging.Logger) (session.Session, error) {
	var sess session.Session
	retryCfg := agenterrors.DefaultRetryConfig()
	retryCfg.MaxAttempts = maxRetries

	err := agenterrors.RetryWithLog(ctx, retryCfg, func(ctx context.Context) error {
		signer, err := load()
		if err != nil {
			return err
		}
		s, err := auth.Authenticate(ctx, signer)
		if err != nil {
			return err
		}
		sess = s
		return nil
	}, logger)
	return sess, err
}

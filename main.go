package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	config "github.com/midnightos/treasury/configuration"
	"github.com/midnightos/treasury/dal"
	"github.com/midnightos/treasury/eventing"
	"github.com/midnightos/treasury/ledger"
	"github.com/midnightos/treasury/metrics"
	"github.com/midnightos/treasury/models"
	"github.com/midnightos/treasury/serving"
	"github.com/midnightos/treasury/sweeper"
	"github.com/midnightos/treasury/tracking"
	"github.com/midnightos/treasury/treasury"
	"github.com/midnightos/treasury/txstore"
	configure "github.com/ndau/go-config"
	logger "github.com/ndau/go-logger"
)

const (
	programName     = "treasury"
	dbConnectTries  = 15
	shutdownTimeout = 30 * time.Second
)

// app holds everything wired at startup.
type app struct {
	log      logger.Logger
	cfg      *models.Config
	repo     dal.Repo
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	txs      *txstore.Store
	manager  *treasury.Manager
	kn       *eventing.KnClient
	sweeper  *sweeper.Sweeper
}

func main() {
	root := &cobra.Command{
		Use:   programName,
		Short: "DAO treasury: proposals, voting and payouts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
		SilenceUsage: true,
	}
	root.AddCommand(serveCommand(), migrateCommand(), sweepCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, event receiver and sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.repo.Close()
			if err := a.repo.Migrate(cmd.Context()); err != nil {
				return err
			}
			a.log.Info("Schema is up to date")
			return nil
		},
	}
}

func sweepCommand() *cobra.Command {
	var job string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweep job and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.repo.Close()
			ctx := tracking.With(cmd.Context(), tracking.New())
			return a.sweeper.Run(ctx, job)
		},
	}
	cmd.Flags().StringVar(&job, "job", sweeper.JobTally, "sweep job: tally, reconcile or payout")
	return cmd
}

// bootstrap loads configuration and wires every component.
func bootstrap(ctx context.Context, migrate bool) (*app, error) {
	// Load logger and configurator
	log, err := logger.New("main", programName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	log.Infof("Initializing config...")
	cfg, err := configure.New()
	if err != nil {
		log.Error(err)
		return nil, err
	}

	log.Infof("Loading config...")
	cf, err := config.LoadConfig(ctx, cfg, log)
	if err != nil {
		log.Error(err)
		return nil, err
	}

	var repo *dal.Db
	err = backoff.Retry(func() error {
		repo, err = dal.NewDb(cf, log)
		if err != nil {
			log.Errorf("Failed to initialize db client: %v", err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(4*time.Second), dbConnectTries), ctx))
	if err != nil {
		return nil, err
	}

	if migrate && cf.AutoMigrate {
		if err := repo.Migrate(ctx); err != nil {
			repo.Close()
			return nil, err
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	provider, err := ledger.New(cf, m.ObserveProviderCall, log)
	if err != nil {
		repo.Close()
		return nil, err
	}

	kn, err := eventing.NewKnClient(cf, log)
	if err != nil {
		log.Errorf("Failed to initialize knative client: %v", err)
		repo.Close()
		return nil, err
	}

	txs := txstore.New(repo, log)
	manager := treasury.NewManager(repo, txs, provider, treasury.RulesFromConfig(cf), log,
		treasury.WithPublisher(kn),
		treasury.WithMetrics(m),
	)
	sw := sweeper.New(manager, txs, provider, cf, log,
		sweeper.WithPublisher(kn),
		sweeper.WithMetrics(m),
	)

	return &app{
		log:      log,
		cfg:      cf,
		repo:     repo,
		registry: registry,
		metrics:  m,
		txs:      txs,
		manager:  manager,
		kn:       kn,
		sweeper:  sw,
	}, nil
}

func serve(ctx context.Context) error {
	a, err := bootstrap(ctx, true)
	if err != nil {
		return err
	}
	defer a.repo.Close()

	if err := a.sweeper.Start(ctx); err != nil {
		return err
	}
	defer a.sweeper.Stop()

	limiter := serving.NewRateLimiter(a.cfg.RateLimitRPS, a.cfg.RateLimitBurst, a.log)
	handler := serving.NewHandler(a.manager, a.txs, a.log)
	server := serving.NewServer(a.cfg, serving.NewRouter(handler, limiter, a.registry), a.log)

	errc := make(chan error, 2)
	go func() {
		errc <- server.ListenAndServe()
	}()
	go func() {
		if err := a.kn.Listen(ctx, a.sweeper, a.manager); err != nil {
			errc <- err
		}
	}()
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Cleanup()
			}
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("cancelled context...")
	case err = <-errc:
		if err != nil {
			a.log.Errorf("Server stopped: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		a.log.Errorf("Failed to shut down HTTP server: %v", serr)
	}
	return err
}

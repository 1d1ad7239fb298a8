package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"rebase-keeper/internal/alerting"
	"rebase-keeper/internal/api"
	"rebase-keeper/internal/chain"
	"rebase-keeper/internal/config"
	"rebase-keeper/internal/metrics"
	"rebase-keeper/internal/oracle"
	"rebase-keeper/internal/publisher"
	"rebase-keeper/internal/scheduler"
	"rebase-keeper/internal/service"
	"rebase-keeper/internal/storage"
	"rebase-keeper/internal/submitter"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) openPublisher(ctx context.Context) (*publisher.Publisher, error) {
	if a.Config.Publisher.RedisURL == "" {
		return nil, nil
	}
	return publisher.Dial(ctx, a.Config.Publisher.RedisURL, a.Config.Publisher.Topic, a.Logger)
}

// runtime holds the collaborators of a live driver and releases them on close.
type runtime struct {
	driver  *service.Service
	closers []func()
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// newRuntime wires chain access, the oracle, the submitter and the optional sinks into a driver.
func (a *App) newRuntime(ctx context.Context) (*runtime, error) {
	band, err := a.Config.PriceBand()
	if err != nil {
		return nil, err
	}
	tokenAddr, pairAddr, err := a.Config.Addresses()
	if err != nil {
		return nil, err
	}

	rt := &runtime{}
	client := chain.NewClient(chain.Options{
		RPCURL:              a.Config.Ethereum.RPCURL,
		PrivateKey:          a.Config.Ethereum.PrivateKey,
		ChainID:             a.Config.Ethereum.ChainID,
		Timeout:             a.Config.Ethereum.RequestTimeout,
		ConfirmationTimeout: a.Config.Ethereum.ConfirmationTimeout,
	}, a.Logger)
	rt.closers = append(rt.closers, client.Close)

	token := chain.NewToken(client, tokenAddr)
	pair := chain.NewPair(client, pairAddr)

	offset, err := a.decimalsOffset(ctx, client, pair, tokenAddr)
	if err != nil {
		rt.close()
		return nil, err
	}

	deps := service.Deps{
		Oracle: oracle.NewReader(offset, a.Logger),
		Pair:   pair,
		Asset:  token,
	}
	if !a.Config.Rebase.DryRun {
		deps.Submitter = submitter.New(token, a.Logger)
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		rt.close()
		return nil, err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; run history and advisory lock disabled")
	} else {
		rt.closers = append(rt.closers, closeStore)
		deps.Store = store
		deps.Locker = store
	}

	pub, err := a.openPublisher(ctx)
	if err != nil {
		rt.close()
		return nil, err
	}
	if pub != nil {
		rt.closers = append(rt.closers, func() {
			if err := pub.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("failed to close publisher")
			}
		})
		deps.Publisher = pub
	}

	if notifier := a.newNotifier(); notifier != nil {
		deps.Notifier = notifier
	}

	driver, err := service.New(service.Options{
		Band:          band,
		Precision:     a.Config.Rebase.Precision,
		TokenAddress:  tokenAddr,
		DryRun:        a.Config.Rebase.DryRun,
		LockKey:       a.Config.Scheduler.AdvisoryLockKey,
		NotifySuccess: a.Config.Alerting.NotifySuccess,
		Retry: service.RetryOptions{
			MaxAttempts:     a.Config.Retry.MaxAttempts,
			InitialInterval: a.Config.Retry.InitialInterval,
			MaxInterval:     a.Config.Retry.MaxInterval,
		},
	}, deps, a.Logger)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.driver = driver
	return rt, nil
}

func (a *App) decimalsOffset(ctx context.Context, client *chain.Client, pair *chain.Pair, token common.Address) (int, error) {
	if a.Config.Rebase.DecimalsSource != config.DecimalsSourceChain {
		return a.Config.Rebase.DecimalsOffset, nil
	}
	offset, err := oracle.DiscoverDecimalsOffset(ctx, pair, client, token)
	if err != nil {
		return 0, fmt.Errorf("discover decimals offset: %w", err)
	}
	a.Logger.Info().Int("decimals_offset", offset).Msg("decimals offset discovered from token metadata")
	return offset, nil
}

// Run executes the scheduled control loop and, when enabled, the HTTP listener.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	metrics.Register()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunTimeout:   a.Config.Scheduler.RunTimeout,
	}, a.Logger)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return sched.Run(groupCtx, rt.driver.Tick)
	})
	if a.Config.HTTP.Enabled {
		server := api.NewServer(a.Config.HTTP.Addr, rt.driver, a.Logger)
		group.Go(func() error {
			return server.Run(groupCtx)
		})
	}

	a.Logger.Info().
		Dur("interval", a.Config.Scheduler.Interval).
		Bool("dry_run", a.Config.Rebase.DryRun).
		Msg("starting rebase control loop")
	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("control loop terminated with error")
		return err
	}

	a.Logger.Info().Msg("rebase control loop stopped")
	return nil
}

// Once performs a single invocation and returns its outcome.
func (a *App) Once(ctx context.Context) (service.Outcome, error) {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if a.Config.Scheduler.RunTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, a.Config.Scheduler.RunTimeout)
		defer cancelTimeout()
	}

	rt, err := a.newRuntime(ctx)
	if err != nil {
		return service.Outcome{}, err
	}
	defer rt.close()

	return rt.driver.RunOnce(ctx)
}

// ExportOptions hold parameters for exporting run history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

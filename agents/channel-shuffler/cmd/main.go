package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	channelshuffler "channel-shuffler/agents/channel-shuffler"
	"channel-shuffler/agents/channel-shuffler/youtube"
	"channel-shuffler/internal/domainerr"
	"channel-shuffler/internal/models"
	"channel-shuffler/shared/config"
	"channel-shuffler/shared/logging"
	"channel-shuffler/shared/monitoring"
	"channel-shuffler/shared/quota"
	"channel-shuffler/shared/remote"
	"channel-shuffler/shared/scheduler"
	"channel-shuffler/shared/storage"
)

const usage = `usage:
  channel-shuffler shuffle -channel UC... [-count N] [-filter all|afterDate|afterVideoId|percentage] [-value V] [-shorts none|only|exclude] [-sharing=false]
  channel-shuffler serve
  channel-shuffler seed-keys KEY...`

type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	local    *storage.SnapshotStore
	shared   *remote.Store
	quota    *quota.Manager
	shuffler *channelshuffler.Shuffler
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging, "channel-shuffler.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	// Create context that responds to signals
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize", slog.Any("error", err))
		os.Exit(1)
	}
	defer a.close()

	switch os.Args[1] {
	case "shuffle":
		err = a.runShuffle(ctx, os.Args[2:])
	case "serve":
		err = a.serve(ctx)
	case "seed-keys":
		err = a.seedKeys(ctx, os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		if channelshuffler.IsDomainError(err) {
			printDomainError(err)
		} else {
			logger.Error("Command failed", slog.String("command", os.Args[1]), slog.Any("error", err))
		}
		os.Exit(1)
	}
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	local, err := storage.NewSnapshotStore(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, local: local}

	shared, err := remote.NewStore(ctx, remote.Config{
		Addr:     cfg.Valkey.Addr,
		Password: cfg.Valkey.Password,
		DB:       cfg.Valkey.DB,
	}, logger)
	if err != nil {
		// Without the shared store only a custom key can reach the origin.
		logger.Warn("Shared store unavailable, continuing without it", slog.Any("error", err))
	} else {
		a.shared = shared
	}

	var pool quota.PoolSource = noPool{}
	if a.shared != nil {
		pool = a.shared
	}
	a.quota = quota.NewManager(local, pool, quota.Options{
		CustomKey:        cfg.YouTube.APIKey,
		DailyAllowance:   cfg.Quota.DailyAllowance,
		Overdraft:        cfg.Quota.Overdraft,
		PoolRefreshEvery: cfg.Quota.PoolRefreshEvery,
		Location:         cfg.ResetLocation(),
		Cipher:           quota.NewCipher(cfg.Quota.ObfuscationShift),
	}, logger)

	httpClient := &http.Client{Timeout: cfg.YouTube.RequestTimeout}
	yt, err := youtube.NewClient(ctx, a.quota, youtube.Options{
		Endpoint:       cfg.YouTube.Endpoint,
		HTTPClient:     httpClient,
		RequestTimeout: cfg.YouTube.RequestTimeout,
		RequestsPerSec: cfg.YouTube.RequestsPerSec,
	}, logger)
	if err != nil {
		return nil, err
	}
	prober := youtube.NewProber(cfg.YouTube.OEmbedURL, httpClient, cfg.YouTube.RequestTimeout, cfg.YouTube.RequestsPerSec, logger)

	var sharedStore channelshuffler.SharedStore
	if a.shared != nil {
		sharedStore = a.shared
	}
	a.shuffler = channelshuffler.NewShuffler(local, sharedStore, yt, prober, channelshuffler.Options{
		StalenessWindow: cfg.Shuffle.StalenessWindow,
		CallTimeout:     cfg.YouTube.RequestTimeout,
	}, logger)
	return a, nil
}

func (a *app) close() {
	if a.shared != nil {
		a.shared.Close()
	}
}

func (a *app) defaults() channelshuffler.Defaults {
	return channelshuffler.Defaults{
		Count:          a.cfg.Shuffle.DefaultCount,
		Shorts:         a.cfg.Shuffle.Shorts,
		SharingEnabled: a.cfg.Shuffle.SharingEnabled,
		Filter:         a.cfg.ChannelFilter,
	}
}

func (a *app) runShuffle(ctx context.Context, args []string) error {
	req, err := a.shuffleRequest(args)
	if err != nil {
		return err
	}

	ids, err := a.shuffler.ChooseRandomVideos(ctx, req)
	if err != nil {
		return err
	}
	return channelshuffler.URLDispatcher{Out: os.Stdout}.Dispatch(ctx, ids)
}

func (a *app) shuffleRequest(args []string) (channelshuffler.Request, error) {
	fs := flag.NewFlagSet("shuffle", flag.ContinueOnError)
	channel := fs.String("channel", "", "channel id (UC...)")
	count := fs.Int("count", a.cfg.Shuffle.DefaultCount, "number of videos to pick")
	filter := fs.String("filter", "", "filter kind, defaults to the channel's configured filter")
	value := fs.String("value", "", "filter value")
	shorts := fs.String("shorts", string(a.cfg.Shuffle.Shorts), "short-form handling: none, only or exclude")
	sharing := fs.Bool("sharing", a.cfg.Shuffle.SharingEnabled, "use the shared store")
	if err := fs.Parse(args); err != nil {
		return channelshuffler.Request{}, err
	}
	mode, err := models.ParseShortsMode(*shorts)
	if err != nil {
		return channelshuffler.Request{}, err
	}

	req := channelshuffler.Request{
		ChannelID:      *channel,
		Count:          *count,
		Shorts:         mode,
		SharingEnabled: *sharing,
		Filter:         a.cfg.ChannelFilter(*channel),
	}
	if *filter != "" {
		req.Filter = channelshuffler.FilterFromValue(models.FilterKind(*filter), *value)
	}
	return req, nil
}

func (a *app) serve(ctx context.Context) error {
	monitor := monitoring.NewMonitor(a.logger)

	health := monitoring.NewHealthServer(monitor, strconv.Itoa(a.cfg.Monitoring.HealthPort), a.logger)
	health.Handle("/shuffle", channelshuffler.ShuffleHandler(a.shuffler, a.defaults(), monitor, a.logger))
	health.Handle("/quota", channelshuffler.QuotaHandler(a.quota, a.logger))
	if err := health.Start(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = health.Shutdown(shutdownCtx)
	}()

	s := scheduler.New(monitor, a.logger)
	if err := s.Add(ctx, a.cfg.Schedule.QuotaReset, channelshuffler.QuotaResetJob(a.quota)); err != nil {
		return err
	}
	if err := s.Add(ctx, a.cfg.Schedule.PoolRefresh, channelshuffler.PoolRefreshJob(a.quota)); err != nil {
		return err
	}

	a.logger.Info("Starting scheduler...")
	return s.Start(ctx)
}

func (a *app) seedKeys(ctx context.Context, keys []string) error {
	if a.shared == nil {
		return errors.New("shared store is not reachable")
	}
	if len(keys) == 0 {
		return errors.New("no keys given")
	}
	if err := a.shared.SetAPIKeys(ctx, keys); err != nil {
		return err
	}
	a.logger.Info("Credential pool seeded", slog.Int("keys", len(keys)))
	return a.quota.RefreshPool(ctx)
}

func printDomainError(err error) {
	var derr *domainerr.Error
	if !errors.As(err, &derr) {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	fmt.Fprintf(os.Stderr, "%s: %s\n", derr.Code(), derr.Message)
	if derr.Hint != "" {
		fmt.Fprintf(os.Stderr, "hint: %s\n", derr.Hint)
	}
}

// noPool stands in for the shared credential pool when the shared store is
// unreachable.
type noPool struct{}

func (noPool) APIKeys(ctx context.Context) ([]string, error) {
	return nil, errors.New("shared store is not reachable")
}

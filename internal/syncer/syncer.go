package syncer

import (
	"context"
	"path/filepath"
	"time"

	fileutil "gcodesync/internal/file"
	"gcodesync/internal/ledger"
	"gcodesync/internal/order"
	"gcodesync/internal/remote"
	"gcodesync/internal/status"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultPollInterval = 10 * time.Second

// Syncer drives fetch-then-download cycles. Cycles never overlap.
type Syncer struct {
	opts       Options
	fetcher    remote.OrderFetcher
	downloader remote.Downloader
	reporter   status.Reporter
	ledger     ledger.Ledger
	observers  []Observer
	trigger    chan struct{}
}

// New wires a Syncer. A nil ledger falls back to the download directory.
func New(opts Options, fetcher remote.OrderFetcher, downloader remote.Downloader, reporter status.Reporter, l ledger.Ledger, observers ...Observer) *Syncer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if l == nil {
		l = ledger.NewDir(opts.DownloadDir)
	}
	return &Syncer{
		opts:       opts,
		fetcher:    fetcher,
		downloader: downloader,
		reporter:   reporter,
		ledger:     l,
		observers:  observers,
		trigger:    make(chan struct{}, 1),
	}
}

// Trigger asks the running loop to start the next cycle now. It reports
// false when a trigger is already pending.
func (s *Syncer) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run publishes ERROR, then repeats RunCycle every poll interval until ctx
// is cancelled. There is no backoff between failed cycles.
func (s *Syncer) Run(ctx context.Context) error {
	s.reporter.Report(status.Error)
	log.Info().
		Str("machine_id", s.opts.MachineID).
		Dur("interval", s.opts.PollInterval).
		Str("download_dir", s.opts.DownloadDir).
		Msg("sync loop started")

	for {
		s.RunCycle(ctx)
		if !s.wait(ctx) {
			log.Info().Msg("sync loop stopped")
			return nil
		}
	}
}

// wait sleeps one poll interval. It returns false once ctx is done.
func (s *Syncer) wait(ctx context.Context) bool {
	timer := time.NewTimer(s.opts.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.trigger:
		log.Info().Msg("sync triggered")
		return true
	case <-timer.C:
		return true
	}
}

// RunCycle performs one fetch-then-download pass.
func (s *Syncer) RunCycle(ctx context.Context) (res Result) {
	res = Result{CycleID: uuid.NewString(), StartedAt: time.Now()}
	logger := log.With().Str("cycle_id", res.CycleID).Logger()
	defer func() { s.finish(&res) }()

	listing, err := s.fetcher.FetchOrders(ctx)
	if err != nil {
		if ctx.Err() != nil {
			res.Canceled = true
			logger.Info().Msg("cycle cancelled during fetch")
			return res
		}
		res.Status = status.Error
		res.FetchError = err.Error()
		res.FetchKind = remote.Kind(err)
		logger.Error().Err(err).Str("kind", res.FetchKind).Int("status", remote.StatusCode(err)).Msg("order list fetch failed")
		s.reporter.Report(status.Error)
		return res
	}

	s.reporter.Report(status.OK)
	res.Status = status.OK
	res.Orders = len(listing.Orders)
	logger.Info().Int("orders", res.Orders).Msg("order list fetched")

	if s.opts.OrdersFile != "" {
		if err := fileutil.WriteAtomic(s.opts.OrdersFile, listing.Raw); err != nil {
			logger.Warn().Err(err).Str("path", s.opts.OrdersFile).Msg("orders mirror not written")
		}
	}

	res.Items = make([]OrderResult, 0, len(listing.Orders))
	for _, o := range listing.Orders {
		if ctx.Err() != nil {
			res.Canceled = true
			break
		}
		res.Items = append(res.Items, s.syncOrder(ctx, logger, o))
	}
	return res
}

func (s *Syncer) syncOrder(ctx context.Context, logger zerolog.Logger, o order.Order) OrderResult {
	item := OrderResult{OrderID: o.ID}
	if !o.AssignedTo(s.opts.MachineID) {
		item.Outcome = OutcomeOtherMachine
		return item
	}
	name, ok := s.opts.Naming.LocalName(o)
	if !ok {
		item.Outcome = OutcomeMissingFile
		logger.Debug().Str("order_id", o.ID.String()).Msg("order has no file to sync")
		return item
	}
	item.File = name
	if s.ledger.AlreadyDownloaded(name) {
		item.Outcome = OutcomePresent
		logger.Debug().Str("order_id", o.ID.String()).Str("file", name).Msg("file already present")
		return item
	}

	logger.Info().Str("order_id", o.ID.String()).Str("file", name).Msg("new file detected")
	dest := filepath.Join(s.opts.DownloadDir, name)
	if err := s.downloader.Download(ctx, o.ID, dest); err != nil {
		item.Outcome = OutcomeFailed
		item.Error = err.Error()
		logger.Warn().Err(err).Str("order_id", o.ID.String()).Str("file", name).Int("status", remote.StatusCode(err)).Msg("download failed")
		return item
	}
	item.Outcome = OutcomeDownloaded
	if err := s.ledger.Record(name); err != nil { // best-effort
		logger.Warn().Err(err).Str("file", name).Msg("ledger record failed")
	}
	logger.Info().Str("order_id", o.ID.String()).Str("path", dest).Msg("download completed")
	return item
}

func (s *Syncer) finish(res *Result) {
	res.FinishedAt = time.Now()
	log.Info().
		Str("cycle_id", res.CycleID).
		Str("status", string(res.Status)).
		Int("downloaded", res.Count(OutcomeDownloaded)).
		Int("failed", res.Count(OutcomeFailed)).
		Int("present", res.Count(OutcomePresent)).
		Dur("took", res.FinishedAt.Sub(res.StartedAt)).
		Msg("sync cycle finished")
	for _, obs := range s.observers {
		obs.CycleCompleted(*res)
	}
}

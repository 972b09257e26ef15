package profile

import (
	"context"
	"time"

	"github.com/freelancehub/convo/internal/backoff"
	"github.com/freelancehub/convo/internal/bus"
	"github.com/freelancehub/convo/internal/chat"
	"github.com/freelancehub/convo/internal/store"
	"go.uber.org/zap"
)

// RefreshInterval is how often the local profile cache is re-synced when the
// previous sync succeeded.
const RefreshInterval = 10 * time.Minute

// Refresher periodically pulls the full profile directory into the local
// cache so conversation lists can resolve display names offline. Failures
// back off exponentially instead of holding the fixed interval.
type Refresher struct {
	client  *Client
	db      *store.DB
	bus     *bus.Bus
	logger  *zap.Logger
	policy  backoff.Policy
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewRefresher creates a refresher. It does nothing when the client has no
// configured service.
func NewRefresher(client *Client, db *store.DB, b *bus.Bus, policy backoff.Policy, logger *zap.Logger) *Refresher {
	return &Refresher{
		client: client,
		db:     db,
		bus:    b,
		logger: logger,
		policy: policy,
	}
}

// Start begins the background refresh loop.
func (r *Refresher) Start(ctx context.Context) {
	if !r.client.Enabled() {
		r.logger.Info("profile service not configured, skipping refresh loop")
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.stopped = make(chan struct{})
	go r.loop(ctx)
}

// Stop stops the refresh loop and waits for it to exit.
func (r *Refresher) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.stopped
}

func (r *Refresher) loop(ctx context.Context) {
	defer close(r.stopped)

	attempt := 0
	for {
		if err := r.RefreshOnce(ctx); err != nil {
			delay := r.policy.Next(attempt)
			attempt++
			r.logger.Warn("profile refresh failed",
				zap.Error(err),
				zap.Duration("retry_in", delay),
				zap.Int("attempt", attempt))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return
			}
		}
		attempt = 0

		select {
		case <-time.After(RefreshInterval):
		case <-ctx.Done():
			return
		}
	}
}

// RefreshOnce pulls the directory and upserts it into the cache. Empty
// remote fields never clobber cached values.
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	profiles, err := r.client.FetchAll(ctx)
	if err != nil {
		return err
	}
	if err := r.db.BulkUpsertProfiles(profiles); err != nil {
		return err
	}
	r.bus.Emit(chat.EvtProfilesRefreshed, len(profiles))
	r.logger.Info("profile cache refreshed", zap.Int("count", len(profiles)))
	return nil
}

package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/lucasdmc/atendeai-lify-admin-sub001/pkg/logging"
)

// vanishGrace shields freshly confirmed appointments from the sync
// pass: a just-created event may not show up in a list call yet.
const vanishGrace = 5 * time.Minute

// SyncWorker periodically reconciles confirmed appointments against
// the remote calendar. An appointment whose event disappeared on the
// remote side (deleted by clinic staff) is marked cancelled locally.
type SyncWorker struct {
	repo     *Repository
	calendar CalendarAPI
	logger   *logging.Logger
	interval time.Duration
	window   time.Duration
	nowFn    func() time.Time
}

// NewSyncWorker creates the reconciliation worker. window bounds how
// far ahead each pass looks for confirmed appointments.
func NewSyncWorker(repo *Repository, calendar CalendarAPI, interval, window time.Duration, logger *logging.Logger) *SyncWorker {
	if logger == nil {
		logger = logging.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 14 * 24 * time.Hour
	}
	return &SyncWorker{
		repo:     repo,
		calendar: calendar,
		logger:   logger,
		interval: interval,
		window:   window,
		nowFn:    time.Now,
	}
}

// Run loops until the context is cancelled.
func (w *SyncWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("calendar sync worker started", "interval", w.interval.String())
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("calendar sync worker stopped")
			return
		case <-ticker.C:
			if n, err := w.SyncOnce(ctx); err != nil {
				w.logger.Error("calendar sync pass failed", "error", err)
			} else if n > 0 {
				w.logger.Info("calendar sync pass reconciled appointments", "cancelled", n)
			}
		}
	}
}

// SyncOnce runs one reconciliation pass and returns how many
// appointments it cancelled.
func (w *SyncWorker) SyncOnce(ctx context.Context) (int, error) {
	now := w.nowFn().UTC()
	from, to := now, now.Add(w.window)

	appts, err := w.repo.ListConfirmedBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("scheduling sync: list confirmed: %w", err)
	}
	if len(appts) == 0 {
		return 0, nil
	}

	events, err := w.calendar.ListEvents(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("scheduling sync: list remote events: %w", err)
	}
	remote := make(map[string]struct{}, len(events))
	for _, ev := range events {
		remote[ev.ID] = struct{}{}
	}

	cancelled := 0
	for i := range appts {
		appt := &appts[i]
		if appt.CalendarEventID == "" {
			continue
		}
		if _, ok := remote[appt.CalendarEventID]; ok {
			continue
		}
		if now.Sub(appt.UpdatedAt) < vanishGrace {
			continue
		}
		if err := w.repo.MarkCancelled(ctx, appt.ID); err != nil {
			w.logger.Error("scheduling sync: failed to cancel appointment",
				"appointment_id", appt.ID, "error", err)
			continue
		}
		w.logger.Info("appointment cancelled after remote event removal",
			"appointment_id", appt.ID, "event_id", appt.CalendarEventID)
		cancelled++
	}
	return cancelled, nil
}

package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	d "github.com/BassamT/bazar-com/domain"
	"github.com/BassamT/bazar-com/internal/catalog"
	r "github.com/BassamT/bazar-com/internal/repository"
)

// Reconciler sweeps the reservation ledger for work the request path left
// behind: PENDING entries whose outcome was lost to a crash or timeout,
// RESERVING orders that never reached a terminal state, CREATED orders
// abandoned before any reservation started, and stock that orders already
// cancelled may still hold. It consumes only the ledger and the catalog
// client, never the live request path.
type Reconciler struct {
	interval    time.Duration
	staleAfter  time.Duration
	maxAttempts int32
	repo        r.RepoInterface
	catalog     catalog.API
}

func New(repo r.RepoInterface, catalogClient catalog.API, interval, staleAfter time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}
	return &Reconciler{
		interval:    interval,
		staleAfter:  staleAfter,
		maxAttempts: 10,
		repo:        repo,
		catalog:     catalogClient,
	}
}

func (rc *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rc.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one reconciliation pass. Exported so tests can drive it without
// the ticker.
func (rc *Reconciler) Sweep(ctx context.Context) {
	rc.resolveStalePending(ctx)
	rc.resolveStuckOrders(ctx)
	rc.resolveAbandonedOrders(ctx)
	rc.releaseOrphans(ctx)
}

// resolveStalePending replays each stale PENDING entry against the catalog
// with its original token. The catalog's idempotent-decrement contract makes
// the replay reveal the true prior outcome instead of double-applying it.
func (rc *Reconciler) resolveStalePending(ctx context.Context) {
	cutoff := time.Now().Add(-rc.staleAfter)
	entries, err := rc.repo.ListStalePending(ctx, cutoff)
	if err != nil {
		log.Printf("reconciler: failed to list stale pending entries: %v", err)
		return
	}

	for _, entry := range entries {
		if err := rc.repo.TouchReservationAttempt(ctx, entry.OrderID, entry.ItemID); err != nil {
			log.Printf("reconciler: failed to touch attempt for order %s item %d: %v", entry.OrderID, entry.ItemID, err)
			continue
		}

		err := rc.catalog.Reserve(ctx, entry.ItemID, entry.Quantity, entry.Token)
		switch {
		case err == nil:
			rc.mark(ctx, entry, d.ReservationReserved)
		case errors.Is(err, catalog.ErrInsufficientStock), errors.Is(err, catalog.ErrItemNotFound):
			rc.mark(ctx, entry, d.ReservationFailed)
		case errors.Is(err, catalog.ErrCatalogUnavailable):
			if entry.Attempts+1 >= rc.maxAttempts {
				log.Printf("reconciler: giving up on order %s item %d after %d attempts", entry.OrderID, entry.ItemID, entry.Attempts+1)
				rc.mark(ctx, entry, d.ReservationFailed)
			}
			// otherwise leave PENDING for the next sweep
		default:
			log.Printf("reconciler: reserve replay failed for order %s item %d: %v", entry.OrderID, entry.ItemID, err)
		}
	}
}

// resolveStuckOrders drives every stale RESERVING order to a terminal state
// based on what the ledger says.
func (rc *Reconciler) resolveStuckOrders(ctx context.Context) {
	cutoff := time.Now().Add(-rc.staleAfter)
	orders, err := rc.repo.ListStaleReservingOrders(ctx, cutoff)
	if err != nil {
		log.Printf("reconciler: failed to list stuck orders: %v", err)
		return
	}
	for _, order := range orders {
		rc.resolveOrder(ctx, order)
	}
}

func (rc *Reconciler) resolveOrder(ctx context.Context, order *d.Order) {
	entries, err := rc.repo.ListReservationsByOrder(ctx, order.ID)
	if err != nil {
		log.Printf("reconciler: failed to list ledger entries for order %s: %v", order.ID, err)
		return
	}

	reserved := 0
	var failedItems []int64
	for _, entry := range entries {
		switch entry.Outcome {
		case d.ReservationPending:
			return // still ambiguous, wait for the next sweep to resolve it
		case d.ReservationReserved:
			reserved++
		case d.ReservationFailed:
			failedItems = append(failedItems, entry.ItemID)
		}
	}

	if len(failedItems) == 0 && reserved == len(order.Items) && len(entries) == len(order.Items) {
		if err := rc.repo.ConfirmOrder(ctx, order.ID); err != nil {
			log.Printf("reconciler: failed to confirm order %s: %v", order.ID, err)
			return
		}
		log.Printf("reconciler: order %s resolved to CONFIRMED", order.ID)
		return
	}

	// a failed entry, or a crash before some items were even attempted:
	// release whatever is held and cancel
	rc.releaseEntries(ctx, entries)

	reason := "reservation interrupted, cancelled by reconciliation"
	if len(failedItems) > 0 {
		reason = fmt.Sprintf("reservation failed for item(s) %v", failedItems)
	}
	if err := rc.repo.CancelOrder(ctx, order.ID, reason); err != nil {
		log.Printf("reconciler: failed to cancel order %s: %v", order.ID, err)
		return
	}
	log.Printf("reconciler: order %s resolved to CANCELLED (%s)", order.ID, reason)
}

// resolveAbandonedOrders cancels orders stranded in CREATED: a crash between
// the order insert and the RESERVING transition leaves them with no ledger
// entries, so no other sweep would ever pick them up.
func (rc *Reconciler) resolveAbandonedOrders(ctx context.Context) {
	cutoff := time.Now().Add(-rc.staleAfter)
	orders, err := rc.repo.ListStaleCreatedOrders(ctx, cutoff)
	if err != nil {
		log.Printf("reconciler: failed to list abandoned orders: %v", err)
		return
	}
	for _, order := range orders {
		reason := "order abandoned before reservation, cancelled by reconciliation"
		if err := rc.repo.CancelOrder(ctx, order.ID, reason); err != nil {
			log.Printf("reconciler: failed to cancel abandoned order %s: %v", order.ID, err)
			continue
		}
		log.Printf("reconciler: order %s resolved to CANCELLED (%s)", order.ID, reason)
	}
}

// releaseOrphans re-releases stock that orders already cancelled may still
// hold: compensation that failed on the request path, or an ambiguous FAILED
// reserve whose request-path release also failed.
func (rc *Reconciler) releaseOrphans(ctx context.Context) {
	cutoff := time.Now().Add(-rc.staleAfter)
	entries, err := rc.repo.ListOrphanedEntries(ctx, cutoff)
	if err != nil {
		log.Printf("reconciler: failed to list orphaned reservations: %v", err)
		return
	}
	rc.releaseEntries(ctx, entries)
}

func (rc *Reconciler) releaseEntries(ctx context.Context, entries []*d.Reservation) {
	for _, entry := range entries {
		switch entry.Outcome {
		case d.ReservationReserved:
			if err := rc.catalog.Release(ctx, entry.ItemID, entry.Quantity, entry.Token); err != nil {
				log.Printf("reconciler: release failed for order %s item %d: %v", entry.OrderID, entry.ItemID, err)
				continue
			}
			rc.mark(ctx, entry, d.ReservationReleased)
		case d.ReservationFailed:
			// token may have landed server side before the transport failure;
			// releasing it again is safe
			if err := rc.catalog.Release(ctx, entry.ItemID, entry.Quantity, entry.Token); err != nil {
				log.Printf("reconciler: ambiguity release failed for order %s item %d: %v", entry.OrderID, entry.ItemID, err)
				continue
			}
			// settle by token so the same entry is not re-released every sweep
			if err := rc.repo.MarkReservationReleasedByToken(ctx, entry.Token); err != nil {
				log.Printf("reconciler: failed to mark order %s item %d RELEASED: %v", entry.OrderID, entry.ItemID, err)
				continue
			}
			entry.Outcome = d.ReservationReleased
		}
	}
}

func (rc *Reconciler) mark(ctx context.Context, entry *d.Reservation, outcome d.ReservationOutcome) {
	if err := rc.repo.MarkReservationOutcome(ctx, entry.OrderID, entry.ItemID, outcome); err != nil {
		log.Printf("reconciler: failed to mark order %s item %d %s: %v", entry.OrderID, entry.ItemID, outcome, err)
		return
	}
	entry.Outcome = outcome
}

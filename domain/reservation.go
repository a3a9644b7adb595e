package domain

import "time"

// ReservationOutcome is the state of one ledger entry.
type ReservationOutcome string

const (
	ReservationPending  ReservationOutcome = "PENDING"
	ReservationReserved ReservationOutcome = "RESERVED"
	ReservationFailed   ReservationOutcome = "FAILED"
	ReservationReleased ReservationOutcome = "RELEASED"
)

func (o ReservationOutcome) String() string {
	return string(o)
}

// Reservation is one entry of the reservation ledger: the durable record of a
// stock reservation attempt for one (order, item) pair. The token doubles as
// the idempotency key sent to the catalog, so replaying the same entry can
// never decrement stock twice. Entries are retained indefinitely; they are the
// anchor for crash recovery.
type Reservation struct {
	OrderID       string
	ItemID        int64
	Quantity      int32
	Token         string
	Outcome       ReservationOutcome
	Attempts      int32
	LastAttemptAt time.Time
	CreatedAt     time.Time
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	d "github.com/BassamT/bazar-com/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

type Repository struct {
	db *sql.DB
}

// RepoInterface is everything the coordinator, reconciler and outbox poller
// need from durable storage.
type RepoInterface interface {
	Close() error
	RunMigrations(*Credentials) error

	CreateOrder(ctx context.Context, order *d.Order) error
	GetOrderByID(ctx context.Context, id string) (*d.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*d.Order, error)
	ListOrders(ctx context.Context) ([]*d.Order, error)

	BeginReservation(ctx context.Context, orderID string) error
	ConfirmOrder(ctx context.Context, orderID string) error
	CancelOrder(ctx context.Context, orderID string, reason string) error

	AppendReservation(ctx context.Context, res *d.Reservation) error
	MarkReservationOutcome(ctx context.Context, orderID string, itemID int64, outcome d.ReservationOutcome) error
	MarkReservationReleasedByToken(ctx context.Context, token string) error
	TouchReservationAttempt(ctx context.Context, orderID string, itemID int64) error
	ListReservationsByOrder(ctx context.Context, orderID string) ([]*d.Reservation, error)
	ListStalePending(ctx context.Context, olderThan time.Time) ([]*d.Reservation, error)
	ListOrphanedEntries(ctx context.Context, olderThan time.Time) ([]*d.Reservation, error)
	ListStaleReservingOrders(ctx context.Context, olderThan time.Time) ([]*d.Order, error)
	ListStaleCreatedOrders(ctx context.Context, olderThan time.Time) ([]*d.Order, error)

	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, eventID int64) error
}

func NewRepository(cred *Credentials) (*Repository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	fmt.Println("Connected to postgres!")
	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "order_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

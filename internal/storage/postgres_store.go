package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/order-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) CreateOrder(ctx context.Context, o *models.Order) error {
	if o.Status == "" {
		o.Status = models.StatusPending
	}
	now := time.Now()
	o.CreatedAt = now
	o.UpdatedAt = now
	return p.db.QueryRowContext(ctx,
		`INSERT INTO orders(customer_id, restaurant_id, status, total_amount, delivery_fee, delivery_address, restaurant_address, wallet_paid, payment_ref, created_at, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		o.CustomerID, o.RestaurantID, o.Status, o.TotalAmount, o.DeliveryFee, o.DeliveryAddress, o.RestaurantAddress, o.WalletPaid, o.PaymentRef, o.CreatedAt, o.UpdatedAt,
	).Scan(&o.ID)
}

func (p *PostgresStore) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var o models.Order
	var driverID sql.NullInt64
	err := p.db.QueryRowContext(ctx,
		`SELECT id, customer_id, restaurant_id, driver_id, status, total_amount, delivery_fee, delivery_address, restaurant_address, wallet_paid, payment_ref, created_at, updated_at
		 FROM orders WHERE id=$1`, id,
	).Scan(&o.ID, &o.CustomerID, &o.RestaurantID, &driverID, &o.Status, &o.TotalAmount, &o.DeliveryFee, &o.DeliveryAddress, &o.RestaurantAddress, &o.WalletPaid, &o.PaymentRef, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if driverID.Valid {
		o.DriverID = &driverID.Int64
	}
	return &o, nil
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE orders SET status=$1, updated_at=$2 WHERE id=$3`, status, time.Now(), id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrOrderNotFound
	}
	return p.GetOrder(ctx, id)
}

// AssignDriver sets the driver only when no driver holds the order yet.
// The WHERE clause is the whole point: two concurrent acceptances race on
// the row and exactly one UPDATE matches.
func (p *PostgresStore) AssignDriver(ctx context.Context, orderID, driverID int64) (*models.Order, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE orders SET driver_id=$1, updated_at=$2
		 WHERE id=$3 AND driver_id IS NULL AND status NOT IN ('delivered','cancelled')`,
		driverID, time.Now(), orderID)
	if err != nil {
		return nil, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := p.GetOrder(ctx, orderID); err != nil {
			return nil, err
		}
		return nil, ErrDriverAssigned
	}
	return p.GetOrder(ctx, orderID)
}

func (p *PostgresStore) GetRestaurant(ctx context.Context, id int64) (*models.Restaurant, error) {
	var r models.Restaurant
	err := p.db.QueryRowContext(ctx, `SELECT id, name, address FROM restaurants WHERE id=$1`, id).Scan(&r.ID, &r.Name, &r.Address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRestaurantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *PostgresStore) GetDriver(ctx context.Context, id int64) (*models.Driver, error) {
	var d models.Driver
	err := p.db.QueryRowContext(ctx, `SELECT id, name, online FROM drivers WHERE id=$1`, id).Scan(&d.ID, &d.Name, &d.Online)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDriverNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

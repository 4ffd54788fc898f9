// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/nexent-shop/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrProductNotFound возвращается, если товар не найден.
var (
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock возвращается, если остатка товара недостаточно для списания.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrNotOwner возвращается при попытке изменить чужой заказ.
	ErrNotOwner = errors.New("order owned by another user")
	// ErrWalletNotFound возвращается, если кошелёк пользователя не найден.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrInsufficientCoins возвращается при попытке списать больше монет, чем есть на балансе.
	ErrInsufficientCoins = errors.New("insufficient coins")
	// ErrCouponNotFound возвращается, если купон не найден.
	ErrCouponNotFound = errors.New("coupon not found")
	// ErrCouponCodeTaken возвращается при коллизии кода купона.
	ErrCouponCodeTaken = errors.New("coupon code already taken")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при deadlock, serialization failure и сетевых сбоях.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetProduct возвращает актуальный срез товара: цену, остаток и снимочные поля.
func (r *PostgresRepository) GetProduct(ctx context.Context, productID int64) (*model.Product, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, price, stock, image FROM products WHERE id = $1`,
		productID,
	)

	var p model.Product
	err := row.Scan(&p.ID, &p.Name, &p.PriceCents, &p.Stock, &p.Image)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return &p, nil
}

// DecrementStock атомарно списывает остаток товара. Условие stock >= quantity
// проверяется тем же UPDATE, которым выполняется списание, поэтому два
// конкурирующих оформления не могут увести остаток в минус.
func (r *PostgresRepository) DecrementStock(ctx context.Context, productID int64, quantity int32) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE products SET stock = stock - $2 WHERE id = $1 AND stock >= $2`,
		productID, quantity,
	)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	if cmdTag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`,
		productID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check product: %w", err)
	}

	if !exists {
		return ErrProductNotFound
	}

	return ErrInsufficientStock
}

// CreateOrder сохраняет заказ вместе с позициями и возвращает его идентификатор.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var orderID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO orders
		     (user_id, external_id, full_name, street_address, city, state, zip_code, phone_number,
		      payment_id, payment_status, total_price, discount, coupon_id, coins_earned, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING id`,
		o.UserID, o.ExternalID,
		o.ShippingAddress.FullName, o.ShippingAddress.StreetAddress, o.ShippingAddress.City,
		o.ShippingAddress.State, o.ShippingAddress.ZipCode, o.ShippingAddress.PhoneNumber,
		o.PaymentID, string(o.PaymentStatus), o.TotalPriceCents, o.DiscountCents,
		o.CouponID, o.CoinsEarned, string(o.Status),
	).Scan(&orderID)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}

	for _, item := range o.Items {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_items (order_id, product_id, name, price, quantity, image)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			orderID, item.ProductID, item.Name, item.PriceCents, item.Quantity, item.Image,
		)
		if err != nil {
			return 0, fmt.Errorf("insert order item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return orderID, nil
}

// GetOrderByID возвращает заказ с позициями.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, orderID int64) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, user_id, external_id, full_name, street_address, city, state, zip_code,
		        phone_number, payment_id, payment_status, total_price, discount, coupon_id,
		        coins_earned, status, hidden, invoice_sent, created_at
		 FROM orders WHERE id = $1`,
		orderID,
	)

	var (
		o             model.Order
		paymentStatus string
		status        string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.ExternalID,
		&o.ShippingAddress.FullName, &o.ShippingAddress.StreetAddress, &o.ShippingAddress.City,
		&o.ShippingAddress.State, &o.ShippingAddress.ZipCode, &o.ShippingAddress.PhoneNumber,
		&o.PaymentID, &paymentStatus, &o.TotalPriceCents, &o.DiscountCents, &o.CouponID,
		&o.CoinsEarned, &status, &o.Hidden, &o.InvoiceSent, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	o.PaymentStatus = model.PaymentStatus(paymentStatus)
	o.Status = model.OrderStatus(status)

	items, err := r.getOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	o.Items = items

	return &o, nil
}

func (r *PostgresRepository) getOrderItems(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT product_id, name, price, quantity, image
		 FROM order_items WHERE order_id = $1 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	var items []model.OrderItem
	for rows.Next() {
		var it model.OrderItem
		if err := rows.Scan(&it.ProductID, &it.Name, &it.PriceCents, &it.Quantity, &it.Image); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// ListOrdersByUser возвращает видимые заказы пользователя, новые первыми.
func (r *PostgresRepository) ListOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, external_id, full_name, street_address, city, state, zip_code,
		        phone_number, payment_id, payment_status, total_price, discount, coupon_id,
		        coins_earned, status, hidden, invoice_sent, created_at
		 FROM orders
		 WHERE user_id = $1 AND hidden = FALSE
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var (
			o             model.Order
			paymentStatus string
			status        string
		)
		err := rows.Scan(
			&o.ID, &o.UserID, &o.ExternalID,
			&o.ShippingAddress.FullName, &o.ShippingAddress.StreetAddress, &o.ShippingAddress.City,
			&o.ShippingAddress.State, &o.ShippingAddress.ZipCode, &o.ShippingAddress.PhoneNumber,
			&o.PaymentID, &paymentStatus, &o.TotalPriceCents, &o.DiscountCents, &o.CouponID,
			&o.CoinsEarned, &status, &o.Hidden, &o.InvoiceSent, &o.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.PaymentStatus = model.PaymentStatus(paymentStatus)
		o.Status = model.OrderStatus(status)
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for i := range orders {
		items, err := r.getOrderItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}

	return orders, nil
}

// HideOrder помечает заказ скрытым. Изменение разрешено только владельцу.
func (r *PostgresRepository) HideOrder(ctx context.Context, orderID, userID int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders SET hidden = TRUE WHERE id = $1 AND user_id = $2`,
		orderID, userID,
	)
	if err != nil {
		return fmt.Errorf("hide order: %w", err)
	}

	if cmdTag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`,
		orderID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check order: %w", err)
	}

	if !exists {
		return ErrOrderNotFound
	}

	return ErrNotOwner
}

// ConfirmOrder выполняет переход pending -> confirmed одним условным UPDATE.
// Возвращает true только тому вызову, который выиграл переход; повторные
// подтверждения того же заказа получают false без изменений.
func (r *PostgresRepository) ConfirmOrder(ctx context.Context, orderID int64, paymentID string) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders
		 SET status = $2, payment_status = $3, payment_id = $4
		 WHERE id = $1 AND status = $5`,
		orderID, string(model.OrderStatusConfirmed), string(model.PaymentStatusSucceeded),
		paymentID, string(model.OrderStatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("confirm order: %w", err)
	}

	return cmdTag.RowsAffected() == 1, nil
}

// FailOrder выполняет переход pending -> failed одним условным UPDATE.
func (r *PostgresRepository) FailOrder(ctx context.Context, orderID int64, paymentID string) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders
		 SET status = $2, payment_status = $3, payment_id = $4
		 WHERE id = $1 AND status = $5`,
		orderID, string(model.OrderStatusFailed), string(model.PaymentStatusFailed),
		paymentID, string(model.OrderStatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("fail order: %w", err)
	}

	return cmdTag.RowsAffected() == 1, nil
}

// MarkInvoiceSent взводит одноразовый флаг отправки накладной.
// Возвращает true только первому вызову.
func (r *PostgresRepository) MarkInvoiceSent(ctx context.Context, orderID int64) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders SET invoice_sent = TRUE WHERE id = $1 AND invoice_sent = FALSE`,
		orderID,
	)
	if err != nil {
		return false, fmt.Errorf("mark invoice sent: %w", err)
	}

	return cmdTag.RowsAffected() == 1, nil
}

// GetOrCreateWallet возвращает кошелёк пользователя, создавая его при первом обращении.
func (r *PostgresRepository) GetOrCreateWallet(ctx context.Context, userID int64, externalID string) (*model.Wallet, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO wallets (user_id, external_id) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, externalID,
	)
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}

	row := r.pool.QueryRow(ctx,
		`SELECT user_id, external_id, coins, lifetime_coins, created_at
		 FROM wallets WHERE user_id = $1`,
		userID,
	)

	var w model.Wallet
	if err := row.Scan(&w.UserID, &w.ExternalID, &w.Coins, &w.LifetimeCoins, &w.CreatedAt); err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}

	return &w, nil
}

// CreditWallet начисляет монеты и добавляет запись в журнал одной транзакцией.
func (r *PostgresRepository) CreditWallet(ctx context.Context, userID int64, externalID string, amount int64, description string, orderID *int64) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		_, err = tx.Exec(ctx,
			`INSERT INTO wallets (user_id, external_id, coins, lifetime_coins)
			 VALUES ($1, $2, $3, $3)
			 ON CONFLICT (user_id) DO UPDATE
			 SET coins = wallets.coins + $3, lifetime_coins = wallets.lifetime_coins + $3`,
			userID, externalID, amount,
		)
		if err != nil {
			return fmt.Errorf("credit wallet: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO wallet_transactions (user_id, type, amount, description, order_id)
			 VALUES ($1, $2, $3, $4, $5)`,
			userID, string(model.TransactionEarned), amount, description, orderID,
		)
		if err != nil {
			return fmt.Errorf("insert wallet transaction: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

// RedeemCoupon списывает монеты и выпускает купон одной транзакцией.
// Списание выполняется условным UPDATE с проверкой баланса, поэтому два
// параллельных обмена не могут увести баланс в минус.
func (r *PostgresRepository) RedeemCoupon(ctx context.Context, c *model.Coupon) (int64, error) {
	var couponID int64

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		cmdTag, err := tx.Exec(ctx,
			`UPDATE wallets SET coins = coins - $2 WHERE user_id = $1 AND coins >= $2`,
			c.UserID, c.CoinsRequired,
		)
		if err != nil {
			return fmt.Errorf("debit wallet: %w", err)
		}

		if cmdTag.RowsAffected() == 0 {
			var exists bool
			err = tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM wallets WHERE user_id = $1)`,
				c.UserID,
			).Scan(&exists)
			if err != nil {
				return fmt.Errorf("check wallet: %w", err)
			}
			if !exists {
				return ErrWalletNotFound
			}
			return ErrInsufficientCoins
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO coupons (user_id, external_id, code, tier, discount_percent, coins_required, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id`,
			c.UserID, c.ExternalID, c.Code, string(c.Tier), c.DiscountPercent, c.CoinsRequired, c.ExpiresAt,
		).Scan(&couponID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("%w: %s", ErrCouponCodeTaken, c.Code)
			}
			return fmt.Errorf("insert coupon: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO wallet_transactions (user_id, type, amount, description, coupon_id)
			 VALUES ($1, $2, $3, $4, $5)`,
			c.UserID, string(model.TransactionRedeemed), -c.CoinsRequired,
			fmt.Sprintf("Redeemed %s coupon (%d%% off)", c.Tier, c.DiscountPercent), couponID,
		)
		if err != nil {
			return fmt.Errorf("insert wallet transaction: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return couponID, nil
}

// ListWalletTransactions возвращает журнал операций кошелька, новые первыми.
func (r *PostgresRepository) ListWalletTransactions(ctx context.Context, userID int64) ([]model.WalletTransaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, type, amount, description, order_id, coupon_id, created_at
		 FROM wallet_transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select wallet transactions: %w", err)
	}
	defer rows.Close()

	var res []model.WalletTransaction
	for rows.Next() {
		var (
			t       model.WalletTransaction
			txnType string
		)
		if err := rows.Scan(&t.ID, &txnType, &t.Amount, &t.Description, &t.OrderID, &t.CouponID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan wallet transaction: %w", err)
		}
		t.Type = model.TransactionType(txnType)
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetCouponByCode возвращает купон пользователя по коду.
func (r *PostgresRepository) GetCouponByCode(ctx context.Context, userID int64, code string) (*model.Coupon, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, user_id, external_id, code, tier, discount_percent, coins_required,
		        is_used, used_at, order_id, expires_at, created_at
		 FROM coupons WHERE user_id = $1 AND code = $2`,
		userID, code,
	)

	c, err := scanCoupon(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}

	return c, nil
}

// CouponCodeExists проверяет занятость кода купона среди всех когда-либо выпущенных.
func (r *PostgresRepository) CouponCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM coupons WHERE code = $1)`,
		code,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check coupon code: %w", err)
	}

	return exists, nil
}

// ListActiveCoupons возвращает неиспользованные и непросроченные купоны пользователя.
func (r *PostgresRepository) ListActiveCoupons(ctx context.Context, userID int64) ([]model.Coupon, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, external_id, code, tier, discount_percent, coins_required,
		        is_used, used_at, order_id, expires_at, created_at
		 FROM coupons
		 WHERE user_id = $1 AND is_used = FALSE AND expires_at > now()
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select coupons: %w", err)
	}
	defer rows.Close()

	var res []model.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coupon: %w", err)
		}
		res = append(res, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ClaimCoupon помечает купон использованным одним условным UPDATE.
// При гонке выигрывает ровно один вызов, остальные получают false.
func (r *PostgresRepository) ClaimCoupon(ctx context.Context, couponID int64) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE coupons SET is_used = TRUE, used_at = now()
		 WHERE id = $1 AND is_used = FALSE`,
		couponID,
	)
	if err != nil {
		return false, fmt.Errorf("claim coupon: %w", err)
	}

	return cmdTag.RowsAffected() == 1, nil
}

// ReleaseCoupon возвращает купон в оборот обратным условным переходом
// is_used -> FALSE. Вызывается, когда захватившее купон оформление не
// состоялось. Возвращает true, если купон действительно был занят.
func (r *PostgresRepository) ReleaseCoupon(ctx context.Context, couponID int64) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE coupons SET is_used = FALSE, used_at = NULL
		 WHERE id = $1 AND is_used = TRUE`,
		couponID,
	)
	if err != nil {
		return false, fmt.Errorf("release coupon: %w", err)
	}

	return cmdTag.RowsAffected() == 1, nil
}

// SetCouponOrder проставляет купону ссылку на заказ, который его потребил.
func (r *PostgresRepository) SetCouponOrder(ctx context.Context, couponID, orderID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE coupons SET order_id = $2 WHERE id = $1`,
		couponID, orderID,
	)
	if err != nil {
		return fmt.Errorf("set coupon order: %w", err)
	}

	return nil
}

// ClearCart очищает корзину пользователя.
func (r *PostgresRepository) ClearCart(ctx context.Context, userID int64) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM cart_items WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}

	return nil
}

func scanCoupon(row pgx.Row) (*model.Coupon, error) {
	var (
		c    model.Coupon
		tier string
	)
	err := row.Scan(
		&c.ID, &c.UserID, &c.ExternalID, &c.Code, &tier, &c.DiscountPercent,
		&c.CoinsRequired, &c.IsUsed, &c.UsedAt, &c.OrderID, &c.ExpiresAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Tier = model.CouponTier(tier)

	return &c, nil
}

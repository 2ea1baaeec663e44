package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/efreitasn/papertrade/internal/domain"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Compile-time check to ensure PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
)

// PostgresOption defines connection options for PostgreSQL. ConnString
// takes precedence over the individual fields.
type PostgresOption struct {
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	ConnString string
}

func (opt PostgresOption) dsn() string {
	if opt.ConnString != "" {
		return opt.ConnString
	}

	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}
	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}
	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}
	query := url.Values{}
	query.Set("sslmode", sslMode)
	u.RawQuery = query.Encode()

	return u.String()
}

type userRow struct {
	ID           string `gorm:"primaryKey;type:uuid"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
}

func (userRow) TableName() string { return "users" }

type holdingRow struct {
	OwnerID  string          `gorm:"primaryKey;type:uuid"`
	Symbol   string          `gorm:"primaryKey"`
	Quantity int64           `gorm:"not null"`
	AvgPrice decimal.Decimal `gorm:"type:numeric;not null"`
}

func (holdingRow) TableName() string { return "holdings" }

type tradeRow struct {
	Seq        uint64          `gorm:"primaryKey;autoIncrement"`
	TradeID    string          `gorm:"uniqueIndex;type:uuid;not null"`
	OwnerID    string          `gorm:"index:idx_trades_owner_time,priority:1;type:uuid;not null"`
	Symbol     string          `gorm:"not null"`
	Side       string          `gorm:"not null"`
	Quantity   int64           `gorm:"not null"`
	Price      decimal.Decimal `gorm:"type:numeric;not null"`
	ExecutedAt time.Time       `gorm:"index:idx_trades_owner_time,priority:2;not null"`
}

func (tradeRow) TableName() string { return "trades" }

func userFromRow(r userRow) *domain.User {
	return &domain.User{
		ID:           r.ID,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt,
	}
}

func holdingFromRow(r holdingRow) *domain.Holding {
	return &domain.Holding{
		OwnerID:  r.OwnerID,
		Symbol:   r.Symbol,
		Quantity: r.Quantity,
		AvgPrice: r.AvgPrice,
	}
}

func tradeFromRow(r tradeRow) *domain.Trade {
	return &domain.Trade{
		TradeID:    r.TradeID,
		OwnerID:    r.OwnerID,
		Symbol:     r.Symbol,
		Side:       domain.TradeSide(r.Side),
		Quantity:   r.Quantity,
		Price:      r.Price,
		ExecutedAt: r.ExecutedAt,
		Seq:        r.Seq,
	}
}

// PostgresStore is a Store backed by PostgreSQL through gorm.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore opens a connection pool and migrates the schema.
func NewPostgresStore(ctx context.Context, opt PostgresOption) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(opt.dsn()), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&userRow{}, &holdingRow{}, &tradeRow{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *domain.User) error {
	row := userRow{
		ID:           u.ID,
		Email:        strings.ToLower(u.Email),
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
	}
	err := s.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrEmailAlreadyRegistered
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var row userRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	return userFromRow(row), nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var row userRow
	err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(email)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user by email: %w", err)
	}
	return userFromRow(row), nil
}

// DeleteUser removes the user's trades, holdings and the user row in one
// transaction, holding the owner's advisory lock so no trade interleaves.
func (s *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if err := lockOwner(db, id); err != nil {
			return err
		}
		if err := db.Where("owner_id = ?", id).Delete(&tradeRow{}).Error; err != nil {
			return fmt.Errorf("delete trades: %w", err)
		}
		if err := db.Where("owner_id = ?", id).Delete(&holdingRow{}).Error; err != nil {
			return fmt.Errorf("delete holdings: %w", err)
		}
		res := db.Where("id = ?", id).Delete(&userRow{})
		if res.Error != nil {
			return fmt.Errorf("delete user: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrUserNotFound
		}
		return nil
	})
}

// InTx runs fn inside a database transaction holding a per-owner advisory
// lock. The transaction rolls back if fn returns an error. It returns
// domain.ErrUserNotFound if the owner does not exist.
func (s *PostgresStore) InTx(ctx context.Context, ownerID string, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if err := lockOwner(db, ownerID); err != nil {
			return err
		}
		if err := ownerExists(db, ownerID); err != nil {
			return err
		}
		return fn(&postgresTx{db: db, ownerID: ownerID})
	})
}

// ownerExists must run after lockOwner: DeleteUser takes the same lock, so
// the user row cannot disappear before the transaction commits.
func ownerExists(db *gorm.DB, ownerID string) error {
	var row userRow
	err := db.Clauses(clause.Locking{Strength: "SHARE"}).
		Select("id").
		Where("id = ?", ownerID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("select owner: %w", err)
	}
	return nil
}

func lockOwner(db *gorm.DB, ownerID string) error {
	if err := db.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", ownerID).Error; err != nil {
		return fmt.Errorf("lock owner: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListHoldings(ctx context.Context, ownerID string) ([]*domain.Holding, error) {
	var rows []holdingRow
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("symbol ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("select holdings: %w", err)
	}

	result := make([]*domain.Holding, len(rows))
	for i, r := range rows {
		result[i] = holdingFromRow(r)
	}
	return result, nil
}

func (s *PostgresStore) ListTrades(ctx context.Context, ownerID string) ([]*domain.Trade, error) {
	var rows []tradeRow
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("executed_at DESC, seq DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("select trades: %w", err)
	}

	result := make([]*domain.Trade, len(rows))
	for i, r := range rows {
		result[i] = tradeFromRow(r)
	}
	return result, nil
}

type postgresTx struct {
	db      *gorm.DB
	ownerID string
}

func (tx *postgresTx) GetHolding(symbol string) (*domain.Holding, error) {
	var row holdingRow
	err := tx.db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("owner_id = ? AND symbol = ?", tx.ownerID, symbol).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrHoldingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select holding: %w", err)
	}
	return holdingFromRow(row), nil
}

func (tx *postgresTx) PutHolding(h *domain.Holding) error {
	row := holdingRow{
		OwnerID:  tx.ownerID,
		Symbol:   h.Symbol,
		Quantity: h.Quantity,
		AvgPrice: h.AvgPrice,
	}
	err := tx.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "avg_price"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert holding: %w", err)
	}
	return nil
}

func (tx *postgresTx) DeleteHolding(symbol string) error {
	err := tx.db.
		Where("owner_id = ? AND symbol = ?", tx.ownerID, symbol).
		Delete(&holdingRow{}).Error
	if err != nil {
		return fmt.Errorf("delete holding: %w", err)
	}
	return nil
}

func (tx *postgresTx) AppendTrade(t *domain.Trade) error {
	row := tradeRow{
		TradeID:    t.TradeID,
		OwnerID:    tx.ownerID,
		Symbol:     t.Symbol,
		Side:       string(t.Side),
		Quantity:   t.Quantity,
		Price:      t.Price,
		ExecutedAt: t.ExecutedAt,
	}
	if err := tx.db.Create(&row).Error; err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/navid-fn/pricio/internal/models"
)

var _ Store = (*GormStore)(nil)

// GormStore implements Store on PostgreSQL.
type GormStore struct {
	gormListings
	sqlDB *sql.DB
}

// Open connects to PostgreSQL, retrying with exponential backoff while the
// database is starting up.
func Open(ctx context.Context, dsn string, logger logrus.FieldLogger) (*GormStore, error) {
	var store *GormStore
	backoff := retry.WithMaxRetries(5, retry.NewExponential(500*time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			TranslateError: true,
			Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			logger.Warnf("Postgres connect failed, retrying: %v", err)
			return retry.RetryableError(err)
		}
		s, err := NewGormStore(db)
		if err != nil {
			return err
		}
		if err := s.Ping(ctx); err != nil {
			s.Close()
			logger.Warnf("Postgres ping failed, retrying: %v", err)
			return retry.RetryableError(err)
		}
		store = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connect postgres: %w", ErrUnavailable, err)
	}
	return store, nil
}

// NewGormStore wraps an open gorm connection.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm connection pool: %w", err)
	}
	return &GormStore{gormListings: gormListings{db: db}, sqlDB: sqlDB}, nil
}

// DB returns the underlying connection pool, used by migrations.
func (s *GormStore) DB() *sql.DB { return s.sqlDB }

func (s *GormStore) Ping(ctx context.Context) error {
	return wrapErr("ping", s.sqlDB.PingContext(ctx))
}

func (s *GormStore) Close() error { return s.sqlDB.Close() }

func wrapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", op, ErrConflict)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
}

// products

func (s *GormStore) ProductByKey(ctx context.Context, key string) (*models.Product, error) {
	var p models.Product
	if err := s.db.WithContext(ctx).Where("canonical_key = ?", key).First(&p).Error; err != nil {
		return nil, wrapErr("product by key", err)
	}
	return &p, nil
}

func (s *GormStore) ProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var p models.Product
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, wrapErr("product by id", err)
	}
	return &p, nil
}

func (s *GormStore) InsertProduct(ctx context.Context, p *models.Product) (bool, error) {
	row := *p
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "canonical_key"}}, DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return false, wrapErr("insert product", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	*p = row
	return true, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func (s *GormStore) SearchProducts(ctx context.Context, query string, limit int) ([]models.Product, error) {
	pattern := "%" + likeEscaper.Replace(strings.TrimSpace(query)) + "%"
	q := s.db.WithContext(ctx).
		Where("name ILIKE ? OR brand ILIKE ?", pattern, pattern).
		Order("name, id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var products []models.Product
	return products, wrapErr("search products", q.Find(&products).Error)
}

// transactions and ledger queries

func (s *GormStore) WithinTx(ctx context.Context, fn func(ListingRepository) error) error {
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&gormListings{db: tx})
		return fnErr
	})
	if err != nil && fnErr == nil {
		return wrapErr("transaction", err)
	}
	return err
}

func (s *GormStore) History(ctx context.Context, listingID uuid.UUID) ([]models.PriceObservation, error) {
	var history []models.PriceObservation
	err := s.db.WithContext(ctx).
		Where("listing_id = ?", listingID).
		Order("observed_at, id").
		Find(&history).Error
	return history, wrapErr("history", err)
}

const latestPairsQuery = `
WITH ranked AS (
	SELECT o.id, o.listing_id, o.price, o.currency, o.observed_at,
	       ROW_NUMBER() OVER (PARTITION BY o.listing_id ORDER BY o.observed_at DESC, o.id DESC) AS rn
	FROM price_observations o
	WHERE o.listing_id IN (SELECT listing_id FROM price_observations WHERE observed_at > @since)
)
SELECT l.id AS listing_id, l.product_id, l.store, l.sku, l.url,
       COALESCE(NULLIF(l.name, ''), p.name) AS product_name,
       cur.currency,
       cur.id AS latest_id, cur.price AS latest_price, cur.observed_at AS latest_at,
       prev.id AS previous_id, prev.price AS previous_price, prev.currency AS previous_currency
FROM ranked cur
JOIN ranked prev ON prev.listing_id = cur.listing_id AND prev.rn = 2
JOIN store_listings l ON l.id = cur.listing_id
JOIN products p ON p.id = l.product_id
WHERE cur.rn = 1 AND cur.observed_at > @since
ORDER BY cur.observed_at, cur.id`

func (s *GormStore) LatestObservationPairs(ctx context.Context, since time.Time) ([]ObservationPair, error) {
	var pairs []ObservationPair
	err := s.db.WithContext(ctx).Raw(latestPairsQuery, sql.Named("since", since)).Scan(&pairs).Error
	return pairs, wrapErr("latest observation pairs", err)
}

// runs

func (s *GormStore) CreateRun(ctx context.Context, run *models.ScrapeRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	emptyArrays(run)
	return wrapErr("create run", s.db.WithContext(ctx).Create(run).Error)
}

func (s *GormStore) SaveRun(ctx context.Context, run *models.ScrapeRun) error {
	emptyArrays(run)
	res := s.db.WithContext(ctx).Model(run).Select("*").Updates(run)
	if res.Error != nil {
		return wrapErr("save run", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// emptyArrays replaces nil category lists, which pq encodes as NULL, with '{}'.
func emptyArrays(run *models.ScrapeRun) {
	if run.Categories == nil {
		run.Categories = pq.StringArray{}
	}
	if run.FailedCategories == nil {
		run.FailedCategories = pq.StringArray{}
	}
}

func (s *GormStore) RunByID(ctx context.Context, id uuid.UUID) (*models.ScrapeRun, error) {
	var run models.ScrapeRun
	if err := s.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, wrapErr("run by id", err)
	}
	return &run, nil
}

func (s *GormStore) ListRuns(ctx context.Context, store string, limit int) ([]models.ScrapeRun, error) {
	q := s.db.WithContext(ctx).Order("started_at DESC")
	if store != "" {
		q = q.Where("store = ?", store)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var runs []models.ScrapeRun
	return runs, wrapErr("list runs", q.Find(&runs).Error)
}

// notification state

func (s *GormStore) Watermark(ctx context.Context, name string) (time.Time, bool, error) {
	var w models.Watermark
	err := s.db.WithContext(ctx).First(&w, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, wrapErr("watermark", err)
	}
	return w.Since, true, nil
}

func (s *GormStore) SetWatermark(ctx context.Context, name string, since time.Time) error {
	w := models.Watermark{Name: name, Since: since, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"since", "updated_at"}),
		}).
		Create(&w).Error
	return wrapErr("set watermark", err)
}

func (s *GormStore) Delivered(ctx context.Context, consumer string, listingID uuid.UUID, observationID int64) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Delivery{}).
		Where("consumer = ? AND listing_id = ? AND observation_id = ?", consumer, listingID, observationID).
		Count(&n).Error
	return n > 0, wrapErr("delivered", err)
}

func (s *GormStore) MarkDelivered(ctx context.Context, consumer string, listingID uuid.UUID, observationID int64) error {
	d := models.Delivery{Consumer: consumer, ListingID: listingID, ObservationID: observationID, DeliveredAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&d).Error
	return wrapErr("mark delivered", err)
}

// subscriptions

func (s *GormStore) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	db := s.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}, {Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"target_price", "notify_any_decrease"}),
	}).Create(sub).Error
	if err != nil {
		return wrapErr("save subscription", err)
	}
	// a fresh row, since a non-zero primary key would be added to the condition
	var stored models.Subscription
	if err := db.First(&stored, "chat_id = ? AND product_id = ?", sub.ChatID, sub.ProductID).Error; err != nil {
		return wrapErr("save subscription", err)
	}
	*sub = stored
	return nil
}

func (s *GormStore) DeleteSubscription(ctx context.Context, chatID int64, productID uuid.UUID) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("chat_id = ? AND product_id = ?", chatID, productID).
		Delete(&models.Subscription{})
	return res.RowsAffected > 0, wrapErr("delete subscription", res.Error)
}

func (s *GormStore) SubscriptionsForProduct(ctx context.Context, productID uuid.UUID) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.db.WithContext(ctx).Where("product_id = ?", productID).Order("created_at").Find(&subs).Error
	return subs, wrapErr("subscriptions for product", err)
}

func (s *GormStore) SubscriptionsForChat(ctx context.Context, chatID int64) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).Order("created_at").Find(&subs).Error
	return subs, wrapErr("subscriptions for chat", err)
}

// gormListings implements ListingRepository on a connection or a transaction.
type gormListings struct {
	db *gorm.DB
}

func (r *gormListings) ListingByStoreSKU(ctx context.Context, store, sku string) (*models.StoreListing, error) {
	var l models.StoreListing
	if err := r.db.WithContext(ctx).Where("store = ? AND sku = ?", store, sku).First(&l).Error; err != nil {
		return nil, wrapErr("listing by sku", err)
	}
	return &l, nil
}

func (r *gormListings) ListingByID(ctx context.Context, id uuid.UUID) (*models.StoreListing, error) {
	var l models.StoreListing
	if err := r.db.WithContext(ctx).First(&l, "id = ?", id).Error; err != nil {
		return nil, wrapErr("listing by id", err)
	}
	return &l, nil
}

func (r *gormListings) ActiveListing(ctx context.Context, productID uuid.UUID, store string) (*models.StoreListing, error) {
	var l models.StoreListing
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND store = ? AND active", productID, store).
		First(&l).Error
	if err != nil {
		return nil, wrapErr("active listing", err)
	}
	return &l, nil
}

func (r *gormListings) CreateListing(ctx context.Context, l *models.StoreListing) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return wrapErr("create listing", r.db.WithContext(ctx).Create(l).Error)
}

func (r *gormListings) UpdateListing(ctx context.Context, l *models.StoreListing) error {
	res := r.db.WithContext(ctx).Model(l).Select("*").Updates(l)
	if res.Error != nil {
		return wrapErr("update listing", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormListings) LatestObservation(ctx context.Context, listingID uuid.UUID) (*models.PriceObservation, error) {
	var o models.PriceObservation
	err := r.db.WithContext(ctx).
		Where("listing_id = ?", listingID).
		Order("observed_at DESC, id DESC").
		First(&o).Error
	if err != nil {
		return nil, wrapErr("latest observation", err)
	}
	return &o, nil
}

func (r *gormListings) AppendObservation(ctx context.Context, o *models.PriceObservation) error {
	return wrapErr("append observation", r.db.WithContext(ctx).Create(o).Error)
}

package store

import (
	"context" // Cancellation and deadlines
	"errors"  // Error matching
	"time"    // Date filters

	"wallet_settlement/internal/domain" // Domain models

	"github.com/shopspring/decimal" // Exact money arithmetic
	"gorm.io/gorm"                  // GORM ORM library
	"gorm.io/gorm/clause"           // Row locks and upserts
)

// GormStore is the durable Store backed by MySQL or Postgres. The *gorm.DB must
// be opened with TranslateError so unique violations surface as gorm.ErrDuplicatedKey.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open gorm connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Models lists every table this store manages, in migration order.
func Models() []any {
	return []any{&domain.User{}, &domain.Wallet{}, &domain.Transaction{}, &domain.Dispute{}}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Ping checks the database connection
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) GetWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	var w domain.Wallet
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&w).Error; err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

// RunInTx commits when fn returns nil and rolls back otherwise
func (s *GormStore) RunInTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

func (s *GormStore) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	var t domain.Transaction
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (s *GormStore) FindByExternalPaymentID(ctx context.Context, externalID string) (*domain.Transaction, error) {
	var t domain.Transaction
	if err := s.db.WithContext(ctx).Where("external_payment_id = ?", externalID).Take(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (s *GormStore) filtered(ctx context.Context, q TransactionQuery) *gorm.DB {
	tx := s.db.WithContext(ctx).Model(&domain.Transaction{})
	// Optional filters
	if q.UserID != "" {
		tx = tx.Where("user_id = ?", q.UserID)
	}
	if q.Type != "" {
		tx = tx.Where("type = ?", q.Type)
	}
	if q.Status != "" {
		tx = tx.Where("status = ?", q.Status)
	}
	if !q.From.IsZero() {
		tx = tx.Where("created_at >= ?", q.From)
	}
	if !q.To.IsZero() {
		tx = tx.Where("created_at < ?", q.To)
	}
	return tx
}

func (s *GormStore) ListTransactions(ctx context.Context, q TransactionQuery) ([]domain.Transaction, error) {
	// Newest first unless asked otherwise; id breaks ties
	order := "DESC"
	if q.OldestFirst {
		order = "ASC"
	}
	tx := s.filtered(ctx, q).Order("created_at " + order).Order("id " + order)
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if q.Offset > 0 {
		tx = tx.Offset(q.Offset)
	}
	var out []domain.Transaction
	// Fetch page
	if err := tx.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) ScanTransactions(ctx context.Context, q TransactionQuery) ([]domain.Transaction, error) {
	var out []domain.Transaction
	if err := s.filtered(ctx, q).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) Stats(ctx context.Context, userID string) (TransactionStats, error) {
	var row struct {
		Count          int64
		TotalDeposited decimal.Decimal
		TotalWithdrawn decimal.Decimal
	}
	err := s.db.WithContext(ctx).Model(&domain.Transaction{}).
		// Only completed entries count toward totals
		Select("COUNT(*) AS count, "+
			"COALESCE(SUM(CASE WHEN type = ? THEN amount ELSE 0 END), 0) AS total_deposited, "+
			"COALESCE(SUM(CASE WHEN type = ? THEN -amount ELSE 0 END), 0) AS total_withdrawn",
			domain.TransactionDeposit, domain.TransactionWithdrawal).
		Where("user_id = ? AND status = ?", userID, domain.StatusCompleted).
		Scan(&row).Error
	if err != nil {
		return TransactionStats{}, err
	}
	return TransactionStats{Count: row.Count, TotalDeposited: row.TotalDeposited, TotalWithdrawn: row.TotalWithdrawn}, nil
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) lockWallet(ctx context.Context, userID string, w *domain.Wallet) error {
	// SELECT ... FOR UPDATE
	return t.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).Take(w).Error
}

func (t *gormTx) LockWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	var w domain.Wallet
	err := t.lockWallet(ctx, userID, &w)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// First write for this user: create the row, then lock whichever row won.
		fresh := domain.Wallet{UserID: userID, Balance: decimal.Zero, UpdatedAt: domain.Now()}
		if err := t.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh).Error; err != nil {
			return nil, err
		}
		err = t.lockWallet(ctx, userID, &w)
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (t *gormTx) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) error {
	return t.db.WithContext(ctx).Model(&domain.Wallet{}).Where("user_id = ?", userID).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance + ?", delta),
			"updated_at": domain.Now(),
		}).Error
}

func (t *gormTx) InsertTransaction(ctx context.Context, tr *domain.Transaction) error {
	err := t.db.WithContext(ctx).Create(tr).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateExternalPayment
	}
	return err
}

func (t *gormTx) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	var tr domain.Transaction
	err := t.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&tr).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &tr, nil
}

func (t *gormTx) UpdateTransactionStatus(ctx context.Context, id string, from, to domain.TransactionStatus, meta domain.Metadata) error {
	res := t.db.WithContext(ctx).Model(&domain.Transaction{}).
		// Conditional on the expected status
		Where("id = ? AND status = ?", id, from).
		Select("status", "metadata").
		Updates(domain.Transaction{Status: to, Metadata: meta})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (s *GormStore) CreateDispute(ctx context.Context, d *domain.Dispute) error {
	d.SyncOpenSlot()
	err := s.db.WithContext(ctx).Create(d).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateOpenDispute
	}
	return err
}

func (s *GormStore) GetDispute(ctx context.Context, id string) (*domain.Dispute, error) {
	var d domain.Dispute
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&d).Error; err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (s *GormStore) FindOpenDispute(ctx context.Context, challengeID, challengerID string) (*domain.Dispute, error) {
	var d domain.Dispute
	err := s.db.WithContext(ctx).
		Where("challenge_id = ? AND challenger_id = ? AND status IN ?", challengeID, challengerID,
			[]domain.DisputeStatus{domain.DisputePending, domain.DisputeUnderReview}).
		Take(&d).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (s *GormStore) ListDisputes(ctx context.Context, challengeID string) ([]domain.Dispute, error) {
	var out []domain.Dispute
	tx := s.db.WithContext(ctx).Order("created_at DESC")
	if challengeID != "" {
		tx = tx.Where("challenge_id = ?", challengeID)
	}
	if err := tx.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) UpdateDispute(ctx context.Context, id string, fn func(d *domain.Dispute) error) (*domain.Dispute, error) {
	var d domain.Dispute
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&d).Error; err != nil {
			return notFound(err)
		}
		// Apply the change under the row lock
		if err := fn(&d); err != nil {
			return err
		}
		d.SyncOpenSlot()
		d.UpdatedAt = time.Now()
		return tx.Save(&d).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, ErrDuplicateOpenDispute
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *GormStore) CreateUser(ctx context.Context, u *domain.User) error {
	err := s.db.WithContext(ctx).Create(u).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateUser
	}
	return err
}

func (s *GormStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *GormStore) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).Take(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *GormStore) ListUsers(ctx context.Context, limit, offset int) ([]domain.User, error) {
	var out []domain.User
	tx := s.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if offset > 0 {
		tx = tx.Offset(offset)
	}
	if err := tx.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

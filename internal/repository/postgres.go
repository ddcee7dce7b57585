package repository

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/socialpulse/walletcore/internal/models"
	"github.com/socialpulse/walletcore/pkg/logger"
)

type PostgresDB struct {
	logger *logger.Logger

	Conn *gorm.DB
}

func NewPostgresDB(user, password, dbname, host string, port int, logger *logger.Logger) (models.Repository, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		host, user, password, dbname, port)

	// Configure GORM logger to suppress "record not found" messages
	gormLogger := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %s", err)
	}

	repo, err := NewWithDB(db, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Successfully connected to PostgreSQL!")
	return repo, nil
}

// NewWithDB wraps an already-open gorm connection. Tests use this with an
// in-memory sqlite database.
func NewWithDB(db *gorm.DB, logger *logger.Logger) (models.Repository, error) {
	if err := db.AutoMigrate(&models.WalletBalance{}, &models.LedgerEntry{}, &models.Payment{}, &models.ReconciliationTask{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate models: %s", err)
	}
	return &PostgresDB{Conn: db, logger: logger}, nil
}

func (db *PostgresDB) Close() error {
	sqlDB, err := db.Conn.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %s", err)
	}
	return sqlDB.Close()
}

func (db *PostgresDB) GetBalance(ctx context.Context, userUID string) (decimal.Decimal, error) {
	var wallet models.WalletBalance
	if err := db.Conn.WithContext(ctx).Where("user_uid = ?", userUID).First(&wallet).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("failed to get balance: %s", err)
	}

	return wallet.Balance, nil
}

func (db *PostgresDB) CreditBalance(ctx context.Context, userUID string, amount decimal.Decimal, kind models.LedgerEntryKind, reference string) (decimal.Decimal, error) {
	var newBalance decimal.Decimal
	err := db.Conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var wallet models.WalletBalance
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_uid = ?", userUID).First(&wallet).Error
		if err == gorm.ErrRecordNotFound {
			wallet = models.WalletBalance{UserUID: userUID, Balance: decimal.Zero}
			if err := tx.Create(&wallet).Error; err != nil {
				return fmt.Errorf("failed to create wallet balance: %s", err)
			}
		} else if err != nil {
			return fmt.Errorf("failed to lock wallet balance: %s", err)
		}

		wallet.Balance = wallet.Balance.Add(amount)
		wallet.UpdatedAt = time.Now().Unix()
		if err := tx.Save(&wallet).Error; err != nil {
			return fmt.Errorf("failed to update wallet balance: %s", err)
		}

		newBalance = wallet.Balance
		return db.appendLedgerEntry(tx, userUID, amount, newBalance, kind, reference)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return newBalance, nil
}

// DebitBalance decrements the balance inside a transaction holding a row lock,
// so two concurrent debits can never both succeed against a balance that only
// covers one of them.
func (db *PostgresDB) DebitBalance(ctx context.Context, userUID string, amount decimal.Decimal, kind models.LedgerEntryKind, reference string) (decimal.Decimal, error) {
	var newBalance decimal.Decimal
	err := db.Conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var wallet models.WalletBalance
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_uid = ?", userUID).First(&wallet).Error
		if err == gorm.ErrRecordNotFound {
			return &models.InsufficientFundsError{UserUID: userUID, Balance: decimal.Zero, Required: amount}
		} else if err != nil {
			return fmt.Errorf("failed to lock wallet balance: %s", err)
		}

		if wallet.Balance.LessThan(amount) {
			return &models.InsufficientFundsError{UserUID: userUID, Balance: wallet.Balance, Required: amount}
		}

		wallet.Balance = wallet.Balance.Sub(amount)
		wallet.UpdatedAt = time.Now().Unix()
		if err := tx.Save(&wallet).Error; err != nil {
			return fmt.Errorf("failed to update wallet balance: %s", err)
		}

		newBalance = wallet.Balance
		return db.appendLedgerEntry(tx, userUID, amount.Neg(), newBalance, kind, reference)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return newBalance, nil
}

func (db *PostgresDB) appendLedgerEntry(tx *gorm.DB, userUID string, change, balanceAfter decimal.Decimal, kind models.LedgerEntryKind, reference string) error {
	entry := models.LedgerEntry{
		ID:           uuid.NewString(),
		UserUID:      userUID,
		Change:       change,
		BalanceAfter: balanceAfter,
		Kind:         kind,
		Reference:    reference,
		CreatedAt:    time.Now().Unix(),
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to append ledger entry: %s", err)
	}
	return nil
}

func (db *PostgresDB) GetLedgerEntries(ctx context.Context, userUID string) ([]*models.LedgerEntry, error) {
	var entries []*models.LedgerEntry
	if err := db.Conn.WithContext(ctx).Where("user_uid = ?", userUID).Order("created_at").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to get ledger entries: %s", err)
	}

	return entries, nil
}

func (db *PostgresDB) CreatePayment(ctx context.Context, payment *models.Payment) error {
	payment.CreatedAt = time.Now().Unix()
	payment.UpdatedAt = payment.CreatedAt
	if err := db.Conn.WithContext(ctx).Create(payment).Error; err != nil {
		return fmt.Errorf("failed to create payment: %s", err)
	}

	return nil
}

func (db *PostgresDB) GetPayment(ctx context.Context, identifier string) (*models.Payment, error) {
	var payment models.Payment
	if err := db.Conn.WithContext(ctx).Where("identifier = ?", identifier).First(&payment).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment: %s", err)
	}

	return &payment, nil
}

func (db *PostgresDB) MarkPaymentApproved(ctx context.Context, identifier string) error {
	updates := map[string]interface{}{
		"developer_approved": true,
		"updated_at":         time.Now().Unix(),
	}
	if err := db.Conn.WithContext(ctx).Model(&models.Payment{}).Where("identifier = ?", identifier).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to mark payment approved: %s", err)
	}
	return nil
}

// MarkPaymentCompleted flips developer_completed exactly once. The second and
// later calls for the same identifier return false so the caller skips the
// wallet credit.
func (db *PostgresDB) MarkPaymentCompleted(ctx context.Context, identifier, txid string) (bool, error) {
	first := false
	err := db.Conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment models.Payment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("identifier = ?", identifier).First(&payment).Error
		if err != nil {
			return fmt.Errorf("failed to lock payment: %s", err)
		}

		if payment.DeveloperCompleted {
			return nil
		}

		payment.DeveloperCompleted = true
		payment.TransactionVerified = true
		payment.TxID = txid
		payment.TxVerified = true
		payment.UpdatedAt = time.Now().Unix()
		if err := tx.Save(&payment).Error; err != nil {
			return fmt.Errorf("failed to mark payment completed: %s", err)
		}
		first = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return first, nil
}

func (db *PostgresDB) MarkPaymentCancelled(ctx context.Context, identifier string, byUser bool) error {
	updates := map[string]interface{}{
		"cancelled":  true,
		"updated_at": time.Now().Unix(),
	}
	if byUser {
		updates["user_cancelled"] = true
	}
	if err := db.Conn.WithContext(ctx).Model(&models.Payment{}).Where("identifier = ?", identifier).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to mark payment cancelled: %s", err)
	}
	return nil
}

// EnqueueReconciliation is idempotent per payment id: a conflicting insert is
// dropped so a payment is never queued twice.
func (db *PostgresDB) EnqueueReconciliation(ctx context.Context, task *models.ReconciliationTask) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.CreatedAt = time.Now().Unix()
	task.UpdatedAt = task.CreatedAt
	err := db.Conn.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "payment_id"}}, DoNothing: true}).
		Create(task).Error
	if err != nil {
		return fmt.Errorf("failed to enqueue reconciliation task: %s", err)
	}
	return nil
}

func (db *PostgresDB) GetReconciliationByPayment(ctx context.Context, paymentID string) (*models.ReconciliationTask, error) {
	var task models.ReconciliationTask
	if err := db.Conn.WithContext(ctx).Where("payment_id = ?", paymentID).First(&task).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get reconciliation task: %s", err)
	}

	return &task, nil
}

func (db *PostgresDB) GetUnresolvedReconciliations(ctx context.Context) ([]*models.ReconciliationTask, error) {
	var tasks []*models.ReconciliationTask
	if err := db.Conn.WithContext(ctx).Where("resolved = ?", false).Order("created_at").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to get unresolved reconciliation tasks: %s", err)
	}

	return tasks, nil
}

func (db *PostgresDB) RecordReconciliationAttempt(ctx context.Context, id string, attemptErr string) error {
	updates := map[string]interface{}{
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": attemptErr,
		"updated_at": time.Now().Unix(),
	}
	if err := db.Conn.WithContext(ctx).Model(&models.ReconciliationTask{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to record reconciliation attempt: %s", err)
	}
	return nil
}

func (db *PostgresDB) ResolveReconciliation(ctx context.Context, id string) error {
	updates := map[string]interface{}{
		"resolved":   true,
		"updated_at": time.Now().Unix(),
	}
	if err := db.Conn.WithContext(ctx).Model(&models.ReconciliationTask{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to resolve reconciliation task: %s", err)
	}
	return nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Gorm is the Postgres-backed Store.
type Gorm struct {
	db *gorm.DB
}

// Open connects to Postgres and returns a *gorm.DB that logs through log.
func Open(dsn string, log zerolog.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 NewGormLogger(log, 200*time.Millisecond),
	})
	if err != nil {
		return nil, fmt.Errorf("Open: connect postgres: %w", err)
	}
	return db, nil
}

// Migrate creates or updates every table the store uses.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&userRow{},
		&profileRow{},
		&statementRow{},
		&transactionRow{},
		&budgetRow{},
		&debtRow{},
	); err != nil {
		return fmt.Errorf("Migrate: %w", err)
	}
	return nil
}

// NewGorm wraps an open connection.
func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &domain.PersistenceError{Op: op, Cause: err}
}

func (g *Gorm) CreateStatement(ctx context.Context, st *domain.Statement) error {
	if st.ID == "" {
		return fmt.Errorf("CreateStatement: id is required")
	}
	row := statementFromDomain(st)
	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		return persistence("create statement", err)
	}
	st.CreatedAt = row.CreatedAt
	st.UpdatedAt = row.UpdatedAt
	return nil
}

func (g *Gorm) GetStatement(ctx context.Context, id string) (*domain.Statement, error) {
	var row statementRow
	err := g.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.NotFoundError{Resource: "statement", ID: id}
	}
	if err != nil {
		return nil, persistence("get statement", err)
	}
	return row.toDomain(), nil
}

func (g *Gorm) GetStatementForUser(ctx context.Context, userID, id string) (*domain.Statement, error) {
	var row statementRow
	err := g.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.NotFoundError{Resource: "statement", ID: id}
	}
	if err != nil {
		return nil, persistence("get statement", err)
	}
	return row.toDomain(), nil
}

func (g *Gorm) ListStatements(ctx context.Context, userID string) ([]StatementSummary, error) {
	var rows []statementRow
	err := g.db.WithContext(ctx).
		Omit("raw_payload").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, persistence("list statements", err)
	}
	if len(rows) == 0 {
		return []StatementSummary{}, nil
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	var counts []statementCountRow
	err = g.db.WithContext(ctx).Model(&transactionRow{}).
		Select("statement_id, COUNT(*) AS count").
		Where("statement_id IN ?", ids).
		Group("statement_id").
		Scan(&counts).Error
	if err != nil {
		return nil, persistence("count transactions", err)
	}
	byID := make(map[string]int, len(counts))
	for _, c := range counts {
		byID[c.StatementID] = c.Count
	}

	out := make([]StatementSummary, len(rows))
	for i, r := range rows {
		out[i] = StatementSummary{Statement: *r.toDomain(), TransactionCount: byID[r.ID]}
	}
	return out, nil
}

func (g *Gorm) ListStatementIDs(ctx context.Context, state domain.State, limit int) ([]string, error) {
	var ids []string
	q := g.db.WithContext(ctx).Model(&statementRow{}).
		Where("status = ? AND stage = ?", string(state.Status), string(state.Stage)).
		Order("created_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, persistence("list statement ids", err)
	}
	return ids, nil
}

func (g *Gorm) StatementIDsByChecksum(ctx context.Context, userID, checksum string) ([]string, error) {
	var ids []string
	err := g.db.WithContext(ctx).Model(&statementRow{}).
		Where("user_id = ? AND checksum = ?", userID, checksum).
		Order("created_at").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, persistence("find statements by checksum", err)
	}
	return ids, nil
}

func (g *Gorm) Transition(ctx context.Context, id string, from, to domain.State, change StatementChange) error {
	updates := map[string]interface{}{
		"status":     string(to.Status),
		"stage":      string(to.Stage),
		"updated_at": time.Now(),
	}
	if change.ClearErrorLog {
		updates["error_log"] = nil
	}
	if change.AppendError != "" {
		updates["error_log"] = gorm.Expr(
			"CASE WHEN error_log IS NULL OR error_log = '' THEN ? ELSE error_log || ? END",
			change.AppendError, "\n"+change.AppendError,
		)
	}
	if change.ProcessedCount != nil {
		updates["processed_count"] = *change.ProcessedCount
	}

	res := g.db.WithContext(ctx).Model(&statementRow{}).
		Where("id = ? AND status = ? AND stage = ?", id, string(from.Status), string(from.Stage)).
		Updates(updates)
	if res.Error != nil {
		return persistence("transition statement", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrStateConflict
	}
	return nil
}

func (g *Gorm) UpdateProgress(ctx context.Context, id string, processed int) error {
	res := g.db.WithContext(ctx).Model(&statementRow{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"processed_count": processed, "updated_at": time.Now()})
	if res.Error != nil {
		return persistence("update progress", res.Error)
	}
	if res.RowsAffected == 0 {
		return &domain.NotFoundError{Resource: "statement", ID: id}
	}
	return nil
}

func (g *Gorm) SaveExtraction(ctx context.Context, id string, payload []byte, recordCount int) error {
	res := g.db.WithContext(ctx).Model(&statementRow{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"raw_payload":  payload,
			"record_count": recordCount,
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return persistence("save extraction", res.Error)
	}
	if res.RowsAffected == 0 {
		return &domain.NotFoundError{Resource: "statement", ID: id}
	}
	return nil
}

func (g *Gorm) ResetFailed(ctx context.Context) ([]string, error) {
	var rows []statementRow
	err := g.db.WithContext(ctx).Model(&rows).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "id"}}}).
		Where("status = ?", string(domain.StatusFailed)).
		Updates(map[string]interface{}{
			"status":     string(domain.StatusPending),
			"stage":      string(domain.StageUploaded),
			"error_log":  nil,
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return nil, persistence("reset failed statements", err)
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids, nil
}

func (g *Gorm) DeleteStatement(ctx context.Context, userID, id string) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("statement_id = ? AND user_id = ?", id, userID).Delete(&transactionRow{})
		if res.Error != nil {
			return persistence("delete transactions", res.Error)
		}
		res = tx.Where("id = ? AND user_id = ?", id, userID).Delete(&statementRow{})
		if res.Error != nil {
			return persistence("delete statement", res.Error)
		}
		if res.RowsAffected == 0 {
			return &domain.NotFoundError{Resource: "statement", ID: id}
		}
		return nil
	})
}

func (g *Gorm) InsertIfAbsent(ctx context.Context, txs []domain.Transaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}
	rows := make([]transactionRow, len(txs))
	for i, tx := range txs {
		rows[i] = transactionFromDomain(tx)
	}
	res := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedup_key"}}, DoNothing: true}).
		Create(&rows)
	if res.Error != nil {
		return 0, persistence("insert transactions", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (g *Gorm) ListTransactions(ctx context.Context, filter TransactionFilter) ([]domain.Transaction, error) {
	q := g.db.WithContext(ctx).Model(&transactionRow{})
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.StatementID != "" {
		q = q.Where("statement_id = ?", filter.StatementID)
	}
	if filter.ProfileID != "" {
		q = q.Where("profile_id = ?", filter.ProfileID)
	}
	if !filter.From.IsZero() {
		q = q.Where("date >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		q = q.Where("date <= ?", filter.To)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var rows []transactionRow
	if err := q.Order("date DESC, id").Find(&rows).Error; err != nil {
		return nil, persistence("list transactions", err)
	}
	out := make([]domain.Transaction, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (g *Gorm) GetTransaction(ctx context.Context, userID, id string) (*domain.Transaction, error) {
	var row transactionRow
	err := g.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.NotFoundError{Resource: "transaction", ID: id}
	}
	if err != nil {
		return nil, persistence("get transaction", err)
	}
	tx := row.toDomain()
	return &tx, nil
}

func (g *Gorm) FindByAmount(ctx context.Context, userID string, amount decimal.Decimal, from, to time.Time) ([]domain.Transaction, error) {
	var rows []transactionRow
	err := g.db.WithContext(ctx).
		Where("user_id = ? AND amount = ? AND date BETWEEN ? AND ?", userID, amount, from, to).
		Find(&rows).Error
	if err != nil {
		return nil, persistence("find by amount", err)
	}
	out := make([]domain.Transaction, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (g *Gorm) UpdateTransactionProfile(ctx context.Context, userID, id, profileID string) error {
	current, err := g.GetTransaction(ctx, userID, id)
	if err != nil {
		return err
	}
	meta := current.Metadata
	meta.Source = domain.SourceManual
	meta.NeedsReview = false

	res := g.db.WithContext(ctx).Model(&transactionRow{}).
		Where("id = ? AND user_id = ?", id, userID).
		Select("profile_id", "metadata").
		Updates(&transactionRow{ProfileID: profileID, Metadata: meta})
	if res.Error != nil {
		return persistence("update transaction profile", res.Error)
	}
	return nil
}

func (g *Gorm) CreateProfile(ctx context.Context, p *domain.BusinessProfile) error {
	row := profileRow{
		ID:        p.ID,
		UserID:    p.UserID,
		Name:      p.Name,
		Type:      string(p.Type),
		Active:    p.Active,
		CreatedAt: p.CreatedAt,
	}
	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		return persistence("create profile", err)
	}
	p.CreatedAt = row.CreatedAt
	return nil
}

func (g *Gorm) ListProfiles(ctx context.Context, userID string) ([]domain.BusinessProfile, error) {
	var rows []profileRow
	if err := g.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at").Find(&rows).Error; err != nil {
		return nil, persistence("list profiles", err)
	}
	out := make([]domain.BusinessProfile, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (g *Gorm) GetProfile(ctx context.Context, userID, id string) (*domain.BusinessProfile, error) {
	var row profileRow
	err := g.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.NotFoundError{Resource: "profile", ID: id}
	}
	if err != nil {
		return nil, persistence("get profile", err)
	}
	p := row.toDomain()
	return &p, nil
}

func (g *Gorm) SaveUser(ctx context.Context, u *domain.User) error {
	row := userRow{ID: u.ID, CurrentProfileID: u.CurrentProfileID}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	return persistence("save user", err)
}

func (g *Gorm) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var row userRow
	err := g.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.NotFoundError{Resource: "user", ID: id}
	}
	if err != nil {
		return nil, persistence("get user", err)
	}
	return &domain.User{ID: row.ID, CurrentProfileID: row.CurrentProfileID}, nil
}

func (g *Gorm) ListBudgets(ctx context.Context, userID string) ([]domain.Budget, error) {
	var rows []budgetRow
	if err := g.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&rows).Error; err != nil {
		return nil, persistence("list budgets", err)
	}
	out := make([]domain.Budget, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (g *Gorm) SaveBudget(ctx context.Context, b *domain.Budget) error {
	row := budgetRow{
		ID:          b.ID,
		UserID:      b.UserID,
		ProfileID:   b.ProfileID,
		Category:    b.Category,
		PeriodStart: b.PeriodStart,
		PeriodEnd:   b.PeriodEnd,
		Limit:       b.Limit,
		Spent:       b.Spent,
	}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	return persistence("save budget", err)
}

func (g *Gorm) ListDebts(ctx context.Context, userID string) ([]domain.Debt, error) {
	var rows []debtRow
	if err := g.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&rows).Error; err != nil {
		return nil, persistence("list debts", err)
	}
	out := make([]domain.Debt, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (g *Gorm) SaveDebt(ctx context.Context, d *domain.Debt) error {
	row := debtRow{
		ID:             d.ID,
		UserID:         d.UserID,
		Name:           d.Name,
		PaymentKeyword: d.PaymentKeyword,
		OpeningBalance: d.OpeningBalance,
		Balance:        d.Balance,
	}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	return persistence("save debt", err)
}

var _ Store = (*Gorm)(nil)

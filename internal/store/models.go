package store

import (
	"time"

	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/shopspring/decimal"
)

// statementRow represents a row in the statements table.
type statementRow struct {
	ID             string                `gorm:"primaryKey;type:uuid"`
	UserID         string                `gorm:"index;not null"`
	ProfileID      string                `gorm:"not null"`
	FileName       string                `gorm:"not null"`
	StoragePath    string                `gorm:"not null"`
	SourceType     string                `gorm:"size:8;not null"`
	Status         string                `gorm:"size:16;index:idx_statements_state;not null"`
	Stage          string                `gorm:"size:16;index:idx_statements_state;not null"`
	RecordCount    int                   `gorm:"not null"`
	ProcessedCount int                   `gorm:"not null"`
	ErrorLog       *string
	RawPayload     []byte                `gorm:"type:jsonb"`
	Mapping        *domain.ColumnMapping `gorm:"type:jsonb;serializer:json"`
	Checksum       string                `gorm:"size:64;index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (statementRow) TableName() string { return "statements" }

type statementCountRow struct {
	StatementID string
	Count       int
}

// transactionRow represents a row in the transactions table.
type transactionRow struct {
	ID          string                    `gorm:"primaryKey;type:uuid"`
	UserID      string                    `gorm:"index;not null"`
	StatementID *string                   `gorm:"index"`
	Statement   *statementRow             `gorm:"foreignKey:StatementID;constraint:OnDelete:CASCADE"`
	ProfileID   string                    `gorm:"index;not null"`
	Date        time.Time                 `gorm:"type:date;not null"`
	Description string                    `gorm:"not null"`
	Amount      decimal.Decimal           `gorm:"type:numeric(14,2);not null"`
	Type        string                    `gorm:"size:8;not null"`
	Category    string                    `gorm:"not null"`
	Confidence  float64                   `gorm:"not null"`
	Metadata    domain.ClassificationMeta `gorm:"type:jsonb;serializer:json"`
	DedupKey    string                    `gorm:"size:64;uniqueIndex;not null"`
	CreatedAt   time.Time
}

func (transactionRow) TableName() string { return "transactions" }

type profileRow struct {
	ID        string `gorm:"primaryKey;type:uuid"`
	UserID    string `gorm:"index;not null"`
	Name      string `gorm:"not null"`
	Type      string `gorm:"size:16;not null"`
	Active    bool   `gorm:"not null"`
	CreatedAt time.Time
}

func (profileRow) TableName() string { return "business_profiles" }

type userRow struct {
	ID               string  `gorm:"primaryKey"`
	CurrentProfileID *string `gorm:"type:uuid"`
}

func (userRow) TableName() string { return "users" }

type budgetRow struct {
	ID          string          `gorm:"primaryKey;type:uuid"`
	UserID      string          `gorm:"index;not null"`
	ProfileID   string
	Category    string          `gorm:"not null"`
	PeriodStart time.Time       `gorm:"type:date;not null"`
	PeriodEnd   time.Time       `gorm:"type:date;not null"`
	Limit       decimal.Decimal `gorm:"column:limit_amount;type:numeric(14,2);not null"`
	Spent       decimal.Decimal `gorm:"type:numeric(14,2);not null"`
}

func (budgetRow) TableName() string { return "budgets" }

type debtRow struct {
	ID             string          `gorm:"primaryKey;type:uuid"`
	UserID         string          `gorm:"index;not null"`
	Name           string          `gorm:"not null"`
	PaymentKeyword string
	OpeningBalance decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Balance        decimal.Decimal `gorm:"type:numeric(14,2);not null"`
}

func (debtRow) TableName() string { return "debts" }

func statementFromDomain(st *domain.Statement) statementRow {
	return statementRow{
		ID:             st.ID,
		UserID:         st.UserID,
		ProfileID:      st.ProfileID,
		FileName:       st.FileName,
		StoragePath:    st.StoragePath,
		SourceType:     string(st.SourceType),
		Status:         string(st.State.Status),
		Stage:          string(st.State.Stage),
		RecordCount:    st.RecordCount,
		ProcessedCount: st.ProcessedCount,
		ErrorLog:       st.ErrorLog,
		RawPayload:     st.RawPayload,
		Mapping:        st.Mapping,
		Checksum:       st.Checksum,
		CreatedAt:      st.CreatedAt,
		UpdatedAt:      st.UpdatedAt,
	}
}

func (r statementRow) toDomain() *domain.Statement {
	return &domain.Statement{
		ID:             r.ID,
		UserID:         r.UserID,
		ProfileID:      r.ProfileID,
		FileName:       r.FileName,
		StoragePath:    r.StoragePath,
		SourceType:     domain.SourceType(r.SourceType),
		State:          domain.State{Status: domain.Status(r.Status), Stage: domain.Stage(r.Stage)},
		RecordCount:    r.RecordCount,
		ProcessedCount: r.ProcessedCount,
		ErrorLog:       r.ErrorLog,
		RawPayload:     r.RawPayload,
		Mapping:        r.Mapping,
		Checksum:       r.Checksum,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func transactionFromDomain(tx domain.Transaction) transactionRow {
	return transactionRow{
		ID:          tx.ID,
		UserID:      tx.UserID,
		StatementID: tx.StatementID,
		ProfileID:   tx.ProfileID,
		Date:        tx.Date,
		Description: tx.Description,
		Amount:      tx.Amount,
		Type:        string(tx.Type),
		Category:    tx.Category,
		Confidence:  tx.Confidence,
		Metadata:    tx.Metadata,
		DedupKey:    tx.DedupKey,
		CreatedAt:   tx.CreatedAt,
	}
}

func (r transactionRow) toDomain() domain.Transaction {
	return domain.Transaction{
		ID:          r.ID,
		UserID:      r.UserID,
		StatementID: r.StatementID,
		ProfileID:   r.ProfileID,
		Date:        r.Date,
		Description: r.Description,
		Amount:      r.Amount,
		Type:        domain.TransactionType(r.Type),
		Category:    r.Category,
		Confidence:  r.Confidence,
		Metadata:    r.Metadata,
		DedupKey:    r.DedupKey,
		CreatedAt:   r.CreatedAt,
	}
}

func (r profileRow) toDomain() domain.BusinessProfile {
	return domain.BusinessProfile{
		ID:        r.ID,
		UserID:    r.UserID,
		Name:      r.Name,
		Type:      domain.ProfileType(r.Type),
		Active:    r.Active,
		CreatedAt: r.CreatedAt,
	}
}

func (r budgetRow) toDomain() domain.Budget {
	return domain.Budget{
		ID:          r.ID,
		UserID:      r.UserID,
		ProfileID:   r.ProfileID,
		Category:    r.Category,
		PeriodStart: r.PeriodStart,
		PeriodEnd:   r.PeriodEnd,
		Limit:       r.Limit,
		Spent:       r.Spent,
	}
}

func (r debtRow) toDomain() domain.Debt {
	return domain.Debt{
		ID:             r.ID,
		UserID:         r.UserID,
		Name:           r.Name,
		PaymentKeyword: r.PaymentKeyword,
		OpeningBalance: r.OpeningBalance,
		Balance:        r.Balance,
	}
}

package model

import (
    "time"

    "github.com/shopspring/decimal"
)

// TxTypeMigration marks ledger rows written by the bulk migration
// pipeline. Other transaction types (EARN, REDEEM, ...) are written
// by other parts of the platform and never touched here.
const TxTypeMigration = "MIGRATION"

// PointTransaction is one row of the append-only `point_transactions`
// ledger. Rows are inserted in bulk and are never updated or deleted;
// corrections happen through compensating entries.
//
// Fields:
//  ID              – primary key identifier.
//  MemberID        – member the entry belongs to.
//  Type            – transaction type (MIGRATION for this pipeline).
//  PointsAmount    – signed delta applied to the member's points.
//  BalanceAfter    – member balance immediately after this entry.
//  Description     – operator-readable context for the entry.
//  TransactionDate – effective date of the entry.
//  CreatedAt       – timestamp of insertion.
type PointTransaction struct {
    ID              uint64          // point_transactions.id
    MemberID        uint64          // point_transactions.member_id
    Type            string          // point_transactions.type
    PointsAmount    decimal.Decimal // point_transactions.points_amount
    BalanceAfter    decimal.Decimal // point_transactions.balance_after
    Description     string          // point_transactions.description
    TransactionDate time.Time       // point_transactions.transaction_date
    CreatedAt       time.Time       // point_transactions.created_at
}

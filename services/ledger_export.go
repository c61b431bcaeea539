// services/ledger_export.go
package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"time"

	"league-payment-system/models"
	"league-payment-system/utils"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gorm.io/gorm"
)

// LedgerExportService writes a daily CSV snapshot of payment transactions
// to object storage so finance can reconcile against provider payouts.
type LedgerExportService struct {
	DB *gorm.DB
}

func NewLedgerExportService(db *gorm.DB) *LedgerExportService {
	return &LedgerExportService{DB: db}
}

// ExportDay exports every transaction created on the given day (UTC) as a
// CSV object keyed by date, and returns the storage path.
func (s *LedgerExportService) ExportDay(ctx context.Context, day time.Time) (string, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	var txns []models.PaymentTransaction
	err := s.DB.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", start, end).
		Order("created_at ASC").
		Find(&txns).Error
	if err != nil {
		return "", fmt.Errorf("failed to load transactions: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{
		"transaction_id", "type", "status", "team_id", "competition_id", "account_id",
		"payment_intent_id", "amount_cents", "platform_fee_cents", "net_to_owner_cents",
		"currency", "created_at",
	})

	var grossCents, feeCents, netCents int64
	for _, t := range txns {
		_ = w.Write([]string{
			t.ID,
			string(t.Type),
			string(t.Status),
			t.TeamID,
			t.CompetitionID,
			t.AccountID,
			t.PaymentIntentID,
			fmt.Sprintf("%d", t.AmountCents),
			fmt.Sprintf("%d", t.PlatformFeeCents),
			fmt.Sprintf("%d", t.NetToOwnerCents),
			t.Currency,
			t.CreatedAt.UTC().Format(time.RFC3339),
		})
		if t.Status == models.TransactionSucceeded {
			grossCents += t.AmountCents
			feeCents += t.PlatformFeeCents
			netCents += t.NetToOwnerCents
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to encode ledger CSV: %w", err)
	}

	key := fmt.Sprintf("ledger/%s.csv", start.Format("2006-01-02"))
	path, err := utils.UploadBytesToR2(ctx, key, "text/csv", buf.Bytes())
	if err != nil {
		return "", err
	}

	p := message.NewPrinter(language.English)
	log.Printf("✅ Ledger export %s: %d rows, gross %s¢, fees %s¢, net %s¢",
		start.Format("2006-01-02"), len(txns),
		p.Sprintf("%d", grossCents), p.Sprintf("%d", feeCents), p.Sprintf("%d", netCents))

	return path, nil
}

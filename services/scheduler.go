// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"league-payment-system/models"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// StartGraceSweepScheduler revokes eligibility for teams whose grace window
// has lapsed without a successful payment, and exports yesterday's ledger
// once a day.
func (s *WebhookService) StartGraceSweepScheduler(exports *LedgerExportService) {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	// Every 10 minutes: sweep expired grace periods
	_, _ = sched.NewJob(
		gocron.DurationJob(10*time.Minute),
		gocron.NewTask(func() {
			s.SweepExpiredGracePeriods()
		}),
	)

	// Daily at 02:00: export the previous day's ledger
	_, _ = sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(2, 0, 0))),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			yesterday := time.Now().UTC().Add(-24 * time.Hour)
			if _, err := exports.ExportDay(ctx, yesterday); err != nil {
				log.Printf("❌ [Scheduler] Ledger export failed: %v", err)
			}
		}),
	)
}

// SweepExpiredGracePeriods finds past-due teams whose grace window ended and
// marks them ineligible. Each team is re-checked under its lock so a renewal
// landing mid-sweep wins.
func (s *WebhookService) SweepExpiredGracePeriods() {
	now := time.Now().UTC()
	var teams []models.Team
	err := s.DB.
		Where("subscription_status = ? AND is_eligible = ? AND grace_ends_at IS NOT NULL AND grace_ends_at <= ?",
			models.SubscriptionPastDue, true, now).
		Find(&teams).Error
	if err != nil {
		log.Printf("❌ [Scheduler] Grace sweep query failed: %v", err)
		return
	}

	for _, team := range teams {
		if err := s.expireGraceForTeam(team.ID); err != nil {
			log.Printf("❌ [Scheduler] Failed to expire grace for team %s: %v", team.ID, err)
		}
	}
}

func (s *WebhookService) expireGraceForTeam(teamID string) error {
	entityLocks.Lock("team:" + teamID)
	defer entityLocks.Unlock("team:" + teamID)

	return s.DB.Transaction(func(tx *gorm.DB) error {
		var fresh models.Team
		if err := tx.First(&fresh, "id = ?", teamID).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		if fresh.SubscriptionStatus != models.SubscriptionPastDue || !fresh.IsEligible ||
			fresh.GraceEndsAt == nil || fresh.GraceEndsAt.After(now) {
			return nil
		}

		subscriptionID := ""
		if fresh.SubscriptionID != nil {
			subscriptionID = *fresh.SubscriptionID
		}
		change := TransitionGraceExpired()
		if err := s.applySubscriptionChange(tx, &fresh, change, subscriptionID, "", now, nil); err != nil {
			return err
		}
		log.Printf("⚠ Grace period expired, eligibility revoked: teamID=%s", fresh.ID)
		return nil
	})
}

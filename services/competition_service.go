package services

import (
	"errors"
	"log"
	"time"

	"league-payment-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CompetitionService struct {
	DB *gorm.DB
}

func NewCompetitionService(db *gorm.DB) *CompetitionService {
	return &CompetitionService{DB: db}
}

func (s *CompetitionService) CreateCompetition(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	var body struct {
		Name                 string  `json:"name"`
		Description          string  `json:"description"`
		EntryFee             string  `json:"entry_fee"`
		PlatformFeePercent   string  `json:"platform_fee_percent"`
		MaxTeams             int     `json:"max_teams"`
		RegistrationDeadline *string `json:"registration_deadline"` // RFC3339
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if body.Name == "" {
		return c.Status(400).JSON(fiber.Map{"error": "name is required"})
	}

	entryFee := decimal.Zero
	if body.EntryFee != "" {
		f, err := decimal.NewFromString(body.EntryFee)
		if err != nil || f.IsNegative() {
			return c.Status(400).JSON(fiber.Map{"error": "entry_fee must be a non-negative amount"})
		}
		entryFee = f
	}

	feePercent := decimal.NewFromFloat(8.00)
	if body.PlatformFeePercent != "" {
		p, err := decimal.NewFromString(body.PlatformFeePercent)
		if err != nil || p.IsNegative() || p.GreaterThan(decimal.NewFromInt(100)) {
			return c.Status(400).JSON(fiber.Map{"error": "platform_fee_percent must be between 0 and 100"})
		}
		feePercent = p
	}

	var deadline *time.Time
	if body.RegistrationDeadline != nil && *body.RegistrationDeadline != "" {
		t, err := time.Parse(time.RFC3339, *body.RegistrationDeadline)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid registration_deadline (use RFC3339)"})
		}
		deadline = &t
	}

	var owner models.Account
	if err := s.DB.Where("external_user_id = ?", userID).First(&owner).Error; err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "organizer account not found, begin payout onboarding first"})
	}

	competition := &models.Competition{
		ID:                   uuid.NewString(),
		AccountID:            owner.ID,
		Name:                 body.Name,
		Slug:                 slug.Make(body.Name) + "-" + uuid.NewString()[:8],
		Description:          body.Description,
		EntryFee:             entryFee,
		PlatformFeePercent:   feePercent,
		MaxTeams:             body.MaxTeams,
		RegistrationDeadline: deadline,
		Status:               models.CompetitionDraft,
	}
	if err := s.DB.Create(competition).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to create competition"})
	}

	log.Printf("✅ Competition created: id=%s name=%s owner=%s", competition.ID, competition.Name, owner.ID)
	return c.Status(201).JSON(competition)
}

// PublishCompetition gates publishing on the organizer's payout eligibility:
// no competition goes live unless its owning account can receive funds.
func (s *CompetitionService) PublishCompetition(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	competitionID := c.Params("id")

	var competition models.Competition
	if err := s.DB.Preload("Account").First(&competition, "id = ?", competitionID).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "competition not found"})
	}
	if competition.Account.ExternalUserID != userID {
		return c.Status(403).JSON(fiber.Map{"error": "you can only publish your own competitions"})
	}
	if competition.Account.PayoutStatus != models.PayoutEnabled {
		return c.Status(400).JSON(fiber.Map{"error": ErrPayoutNotEnabled.Error()})
	}
	if competition.Status != models.CompetitionDraft {
		return c.Status(400).JSON(fiber.Map{"error": "only draft competitions can be published"})
	}

	now := time.Now().UTC()
	if err := s.DB.Model(&competition).Updates(map[string]interface{}{
		"status":       models.CompetitionPublished,
		"published_at": now,
	}).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to publish competition"})
	}

	log.Printf("✅ Competition published: id=%s", competitionID)
	competition.Status = models.CompetitionPublished
	competition.PublishedAt = &now
	return c.JSON(competition)
}

func (s *CompetitionService) GetPublishedCompetitions(c *fiber.Ctx) error {
	var competitions []models.Competition
	if err := s.DB.Where("status = ?", models.CompetitionPublished).
		Order("published_at DESC").
		Find(&competitions).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to load competitions"})
	}
	return c.JSON(competitions)
}

func (s *CompetitionService) GetCompetitionByID(c *fiber.Ctx) error {
	var competition models.Competition
	if err := s.DB.First(&competition, "id = ?", c.Params("id")).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "competition not found"})
	}
	return c.JSON(competition)
}

// GetCompetitionTransactions is the organizer's ledger view.
func (s *CompetitionService) GetCompetitionTransactions(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	competitionID := c.Params("id")

	var competition models.Competition
	if err := s.DB.Preload("Account").First(&competition, "id = ?", competitionID).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "competition not found"})
	}
	if competition.Account.ExternalUserID != userID {
		return c.Status(403).JSON(fiber.Map{"error": "you can only view your own competition's transactions"})
	}

	var transactions []models.PaymentTransaction
	if err := s.DB.Where("competition_id = ?", competitionID).
		Order("created_at DESC").
		Find(&transactions).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to load transactions"})
	}
	return c.JSON(transactions)
}

// errRegistrationClosed reports why a registration attempt was rejected.
func (s *CompetitionService) registrationOpen(competition *models.Competition) error {
	if competition.Status != models.CompetitionPublished {
		return errors.New("competition is not published yet")
	}
	if competition.RegistrationDeadline != nil && competition.RegistrationDeadline.Before(time.Now().UTC()) {
		return errors.New("registration deadline has passed")
	}
	return nil
}

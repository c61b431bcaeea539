package services

import (
	"log"
	"time"

	"league-payment-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TeamService struct {
	DB           *gorm.DB
	Competitions *CompetitionService
}

func NewTeamService(db *gorm.DB, competitions *CompetitionService) *TeamService {
	return &TeamService{DB: db, Competitions: competitions}
}

// RegisterTeam creates the team row only. Payment state stays untouched until
// the provider confirms checkout via webhook.
func (s *TeamService) RegisterTeam(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	competitionID := c.Params("id")

	var body struct {
		TeamName string `json:"team_name"`
	}
	if err := c.BodyParser(&body); err != nil || body.TeamName == "" {
		return c.Status(400).JSON(fiber.Map{"error": "team_name is required"})
	}

	var competition models.Competition
	if err := s.DB.First(&competition, "id = ?", competitionID).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "competition not found"})
	}
	if err := s.Competitions.registrationOpen(&competition); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	if competition.MaxTeams > 0 {
		var registered int64
		if err := s.DB.Model(&models.Team{}).Where("competition_id = ?", competitionID).Count(&registered).Error; err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "failed to count teams"})
		}
		if registered >= int64(competition.MaxTeams) {
			return c.Status(400).JSON(fiber.Map{"error": "competition is full"})
		}
	}

	var existing int64
	if err := s.DB.Model(&models.Team{}).
		Where("competition_id = ? AND name = ?", competitionID, body.TeamName).
		Count(&existing).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to check team name"})
	}
	if existing > 0 {
		return c.Status(400).JSON(fiber.Map{"error": "team name already exists in this competition"})
	}

	now := time.Now().UTC()
	team := &models.Team{
		ID:                 uuid.NewString(),
		CompetitionID:      competitionID,
		ExternalUserID:     userID,
		Name:               body.TeamName,
		EntryFeePaid:       false,
		SubscriptionStatus: models.SubscriptionNone,
		IsEligible:         true,
		RegisteredAt:       &now,
	}
	if err := s.DB.Create(team).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to register team"})
	}

	log.Printf("✅ Team registered: id=%s name=%s competition=%s", team.ID, team.Name, competitionID)
	return c.Status(201).JSON(team)
}

func (s *TeamService) GetMyTeams(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	var teams []models.Team
	if err := s.DB.Preload("Competition").
		Where("external_user_id = ?", userID).
		Order("created_at DESC").
		Find(&teams).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to load teams"})
	}
	return c.JSON(teams)
}

func (s *TeamService) GetTeamByID(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	var team models.Team
	if err := s.DB.Preload("Competition").Preload("Competition.Account").
		First(&team, "id = ?", c.Params("id")).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "team not found"})
	}

	isRegistrant := team.ExternalUserID == userID
	isOwner := team.Competition.Account.ExternalUserID == userID
	if !isRegistrant && !isOwner {
		return c.Status(403).JSON(fiber.Map{"error": "you don't have permission to view this team"})
	}
	return c.JSON(team)
}

// handlers/competition_routes.go
package handlers

import (
	"league-payment-system/middleware"
	"league-payment-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupCompetitionRoutes(app *fiber.App, competitionService *services.CompetitionService, teamService *services.TeamService) {
	// Public routes: no user context, but still behind Gateway auth
	app.Get("/competitions", competitionService.GetPublishedCompetitions)
	app.Get("/competitions/:id", competitionService.GetCompetitionByID)

	// Secured routes: require user context (userID, roles) from the Gateway
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/competitions", competitionService.CreateCompetition)
	secured.Post("/competitions/:id/publish", competitionService.PublishCompetition)
	secured.Get("/competitions/:id/transactions", competitionService.GetCompetitionTransactions)

	secured.Post("/competitions/:id/teams", teamService.RegisterTeam)
	secured.Get("/teams/mine", teamService.GetMyTeams)
	secured.Get("/teams/:id", teamService.GetTeamByID)
}

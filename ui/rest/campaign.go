package rest

import (
	"github.com/gofiber/fiber/v2"
	domainCampaign "github.com/marianovz/wa-blast/domains/campaign"
	"github.com/marianovz/wa-blast/pkg/utils"
)

type Campaign struct {
	Service domainCampaign.ICampaignUsecase
}

func InitRestCampaign(app fiber.Router, service domainCampaign.ICampaignUsecase) Campaign {
	rest := Campaign{Service: service}
	app.Post("/campaigns", rest.Create)
	app.Get("/campaigns", rest.List)
	app.Get("/campaigns/:id", rest.Get)
	app.Post("/campaigns/:id/start", rest.Start)
	app.Post("/campaigns/:id/pause", rest.Pause)
	app.Post("/campaigns/:id/resume", rest.Start)
	app.Post("/campaigns/:id/cancel", rest.Cancel)
	return rest
}

func (controller *Campaign) Create(c *fiber.Ctx) error {
	var request domainCampaign.CreateCampaignRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	campaign, err := controller.Service.Create(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success create campaign",
		Results: campaign,
	})
}

func (controller *Campaign) List(c *fiber.Ctx) error {
	campaigns, err := controller.Service.List(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success fetch campaigns",
		Results: campaigns,
	})
}

func (controller *Campaign) Get(c *fiber.Ctx) error {
	campaign, stats, err := controller.Service.Get(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success fetch campaign",
		Results: fiber.Map{
			"campaign": campaign,
			"stats":    stats,
		},
	})
}

func (controller *Campaign) Start(c *fiber.Ctx) error {
	err := controller.Service.StartOrResume(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Campaign dispatch started",
	})
}

func (controller *Campaign) Pause(c *fiber.Ctx) error {
	err := controller.Service.Pause(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Campaign paused",
	})
}

func (controller *Campaign) Cancel(c *fiber.Ctx) error {
	err := controller.Service.Cancel(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Campaign cancelled",
	})
}

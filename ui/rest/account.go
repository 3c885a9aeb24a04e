package rest

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	domainAccount "github.com/marianovz/wa-blast/domains/account"
	"github.com/marianovz/wa-blast/pkg/utils"
)

type Account struct {
	Service domainAccount.IAccountUsecase
	Session domainAccount.ISessionUsecase
}

func InitRestAccount(app fiber.Router, service domainAccount.IAccountUsecase, session domainAccount.ISessionUsecase) Account {
	rest := Account{Service: service, Session: session}
	app.Post("/accounts", rest.Create)
	app.Get("/accounts", rest.List)
	app.Get("/accounts/:id", rest.Get)
	app.Delete("/accounts/:id", rest.Delete)
	app.Get("/accounts/:id/activity", rest.ActivityLog)

	app.Post("/accounts/:id/connect", rest.Connect)
	app.Post("/accounts/:id/disconnect", rest.Disconnect)
	app.Post("/accounts/:id/reconnect", rest.ForceReconnect)
	app.Get("/accounts/:id/status", rest.Status)
	app.Get("/accounts/:id/pair-code", rest.PairCode)
	app.Post("/accounts/:id/send", rest.Send)
	return rest
}

func (controller *Account) Create(c *fiber.Ctx) error {
	var request domainAccount.CreateAccountRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	account, err := controller.Service.Create(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success create account",
		Results: account,
	})
}

func (controller *Account) List(c *fiber.Ctx) error {
	accounts, err := controller.Service.List(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success fetch accounts",
		Results: accounts,
	})
}

func (controller *Account) Get(c *fiber.Ctx) error {
	account, err := controller.Service.Get(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success fetch account",
		Results: account,
	})
}

func (controller *Account) Delete(c *fiber.Ctx) error {
	err := controller.Service.Delete(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success delete account",
	})
}

func (controller *Account) ActivityLog(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "100"))

	entries, err := controller.Service.ActivityLog(c.UserContext(), c.Params("id"), limit)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success fetch activity log",
		Results: entries,
	})
}

func (controller *Account) Connect(c *fiber.Ctx) error {
	err := controller.Session.Connect(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Connection attempt started, watch status for the QR payload",
	})
}

func (controller *Account) Disconnect(c *fiber.Ctx) error {
	err := controller.Session.Disconnect(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success disconnect account",
	})
}

func (controller *Account) ForceReconnect(c *fiber.Ctx) error {
	err := controller.Session.ForceReconnect(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Session discarded, fresh pairing started",
	})
}

func (controller *Account) Status(c *fiber.Ctx) error {
	state, err := controller.Session.GetStatus(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success fetch connection state",
		Results: state,
	})
}

func (controller *Account) PairCode(c *fiber.Ctx) error {
	phone := c.Query("phone")
	if phone == "" {
		return c.Status(400).JSON(utils.ResponseData{
			Status:  400,
			Code:    "BAD_REQUEST",
			Message: "phone is required",
		})
	}

	code, err := controller.Session.PairCode(c.UserContext(), c.Params("id"), phone)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Enter this code on the phone to pair",
		Results: fiber.Map{"pair_code": code},
	})
}

type sendRequest struct {
	Phone    string `json:"phone" form:"phone"`
	Body     string `json:"body" form:"body"`
	MediaRef string `json:"media_ref" form:"media_ref"`
}

func (controller *Account) Send(c *fiber.Ctx) error {
	var request sendRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	result, err := controller.Session.Send(c.UserContext(), c.Params("id"), request.Phone, domainAccount.SendContent{
		Body:     request.Body,
		MediaRef: request.MediaRef,
	})
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success send message",
		Results: result,
	})
}

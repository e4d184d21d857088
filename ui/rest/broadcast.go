package rest

import (
	domainBroadcast "github.com/AzielCF/az-wap-broadcast/domains/broadcast"
	"github.com/AzielCF/az-wap-broadcast/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

const defaultHistoryLimit = 50

type Broadcast struct {
	Service domainBroadcast.IBroadcastUsecase
}

func InitRestBroadcast(app fiber.Router, service domainBroadcast.IBroadcastUsecase) Broadcast {
	rest := Broadcast{Service: service}

	app.Post("/sessions/:id/messages", rest.SendMessage)
	app.Post("/sessions/:id/campaigns", rest.SendBulk)
	app.Get("/sessions/:id/deliveries", rest.ListDeliveries)
	app.Get("/campaigns/:id", rest.GetCampaign)

	return rest
}

func (controller *Broadcast) SendMessage(c *fiber.Ctx) error {
	var request domainBroadcast.SendMessageRequest
	if err := c.BodyParser(&request); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(utils.ResponseData{
			Status:  fiber.StatusBadRequest,
			Code:    "BAD_REQUEST",
			Message: err.Error(),
		})
	}
	request.SessionID = c.Params("id")
	request.Owner = ownerOf(c)

	response, err := controller.Service.SendMessage(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.Status(fiber.StatusAccepted).JSON(utils.ResponseData{
		Status:  fiber.StatusAccepted,
		Code:    "SUCCESS",
		Message: "Message queued",
		Results: response,
	})
}

func (controller *Broadcast) SendBulk(c *fiber.Ctx) error {
	var request domainBroadcast.BulkSendRequest
	if err := c.BodyParser(&request); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(utils.ResponseData{
			Status:  fiber.StatusBadRequest,
			Code:    "BAD_REQUEST",
			Message: err.Error(),
		})
	}
	request.SessionID = c.Params("id")
	request.Owner = ownerOf(c)

	response, err := controller.Service.SendBulk(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.Status(fiber.StatusAccepted).JSON(utils.ResponseData{
		Status:  fiber.StatusAccepted,
		Code:    "SUCCESS",
		Message: "Campaign queued",
		Results: response,
	})
}

func (controller *Broadcast) GetCampaign(c *fiber.Ctx) error {
	campaign, err := controller.Service.GetCampaign(c.UserContext(), ownerOf(c), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: "Campaign in progress",
		Results: campaign,
	})
}

func (controller *Broadcast) ListDeliveries(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultHistoryLimit)
	records, err := controller.Service.ListDeliveries(c.UserContext(), ownerOf(c), c.Params("id"), limit)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: "Delivery history retrieved",
		Results: records,
	})
}

package rest

import (
	"github.com/AzielCF/az-wap-broadcast/pkg/msgworker"
	"github.com/AzielCF/az-wap-broadcast/pkg/utils"
	"github.com/AzielCF/az-wap-broadcast/sessions/application"
	"github.com/gofiber/fiber/v2"
)

type SessionSummarizer interface {
	Summary() application.HealthSummary
}

type QueueStatter interface {
	Stats() msgworker.QueueStats
}

type Health struct {
	Sessions SessionSummarizer
	Queue    QueueStatter
	Version  string
}

func InitRestHealth(app fiber.Router, sessions SessionSummarizer, queue QueueStatter, version string) Health {
	handler := Health{Sessions: sessions, Queue: queue, Version: version}

	app.Get("/health", handler.GetStatus)
	app.Get("/queue/stats", handler.QueueStats)

	return handler
}

func (h *Health) GetStatus(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: "Health status retrieved",
		Results: fiber.Map{
			"version":  h.Version,
			"sessions": h.Sessions.Summary(),
			"queue":    h.Queue.Stats(),
		},
	})
}

func (h *Health) QueueStats(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: "Queue stats retrieved",
		Results: h.Queue.Stats(),
	})
}

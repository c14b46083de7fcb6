package controller

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"salesloop/config"
	"salesloop/models"
	"salesloop/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type WebhookController struct {
	DB        *gorm.DB
	Logger    *log.Logger
	Processor *utils.ReplyProcessor
	Guard     *utils.ComplianceGuard
}

func NewWebhookController(db *gorm.DB, logger *log.Logger, processor *utils.ReplyProcessor, guard *utils.ComplianceGuard) *WebhookController {
	return &WebhookController{
		DB:        db,
		Logger:    logger,
		Processor: processor,
		Guard:     guard,
	}
}

// whatsappPayload mirrors the Meta Cloud API webhook envelope, reduced
// to the fields the pipeline consumes.
type whatsappPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
				Statuses []struct {
					ID     string `json:"id"`
					Status string `json:"status"` // sent, delivered, read, failed
				} `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type instagramPayload struct {
	Entry []struct {
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Timestamp int64 `json:"timestamp"`
			Message   struct {
				MID  string `json:"mid"`
				Text string `json:"text"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

// emailEventPayload is the delivery-event envelope posted by the email
// provider: bounces plus ordinary delivery status updates, correlated
// by the outbound message id.
type emailEventPayload struct {
	Events []struct {
		Event      string `json:"event"` // bounce, delivered, opened
		MessageID  string `json:"message_id"`
		Recipient  string `json:"recipient"`
		BounceType string `json:"bounce_type"` // hard, soft
		Reason     string `json:"reason"`
	} `json:"events"`
}

// VerifyWebhook handles Meta's GET subscription handshake: echo
// hub.challenge back when the verify token matches.
func (wc *WebhookController) VerifyWebhook(c *fiber.Ctx) error {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && token == config.AppConfig.WhatsApp.VerifyToken {
		wc.Logger.Printf("Webhook verified for platform %s", c.Params("platform"))
		return c.SendString(challenge)
	}

	return c.SendStatus(fiber.StatusForbidden)
}

// HandleWebhook acks the provider immediately and processes events in
// the background; Meta retries deliveries that don't get a fast 200.
func (wc *WebhookController) HandleWebhook(c *fiber.Ctx) error {
	platform := c.Params("platform")

	switch platform {
	case "whatsapp":
		var payload whatsappPayload
		if err := c.BodyParser(&payload); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid webhook payload", err)
		}
		go wc.processWhatsApp(&payload)

	case "instagram":
		var payload instagramPayload
		if err := c.BodyParser(&payload); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid webhook payload", err)
		}
		go wc.processInstagram(&payload)

	case "email":
		var payload emailEventPayload
		if err := c.BodyParser(&payload); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid webhook payload", err)
		}
		go wc.processEmailEvents(&payload)

	default:
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Unknown platform", nil)
	}

	return c.JSON(fiber.Map{"status": "received"})
}

func (wc *WebhookController) processWhatsApp(payload *whatsappPayload) {
	defer wc.recoverPanic("whatsapp")

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, status := range change.Value.Statuses {
				wc.Processor.HandleStatusEvent(status.ID, status.Status)
			}

			for _, msg := range change.Value.Messages {
				if msg.Type != "text" || msg.Text.Body == "" {
					continue
				}

				ts := time.Now()
				if unix, err := strconv.ParseInt(msg.Timestamp, 10, 64); err == nil {
					ts = time.Unix(unix, 0)
				}

				inbound := models.InboundMessage{
					Platform:  "whatsapp",
					From:      msg.From,
					MessageID: msg.ID,
					Text:      msg.Text.Body,
					Type:      msg.Type,
					Timestamp: ts,
				}
				if err := wc.Processor.HandleInbound(context.Background(), &inbound); err != nil {
					wc.Logger.Printf("Failed to process whatsapp message %s: %v", msg.ID, err)
				}
			}
		}
	}
}

func (wc *WebhookController) processInstagram(payload *instagramPayload) {
	defer wc.recoverPanic("instagram")

	for _, entry := range payload.Entry {
		for _, messaging := range entry.Messaging {
			if messaging.Message.Text == "" {
				continue
			}

			inbound := models.InboundMessage{
				Platform:  "instagram",
				From:      messaging.Sender.ID,
				MessageID: messaging.Message.MID,
				Text:      messaging.Message.Text,
				Type:      "text",
				Timestamp: time.UnixMilli(messaging.Timestamp),
			}
			if err := wc.Processor.HandleInbound(context.Background(), &inbound); err != nil {
				wc.Logger.Printf("Failed to process instagram message %s: %v", messaging.Message.MID, err)
			}
		}
	}
}

func (wc *WebhookController) processEmailEvents(payload *emailEventPayload) {
	defer wc.recoverPanic("email")

	for _, event := range payload.Events {
		if event.Event != "bounce" {
			wc.Processor.HandleStatusEvent(event.MessageID, event.Event)
			continue
		}

		if event.MessageID != "" {
			res := wc.DB.Model(&models.StepExecution{}).
				Where("external_id = ?", event.MessageID).
				Update("status", models.ExecutionBounced)
			if res.Error != nil {
				wc.Logger.Printf("Failed to mark execution %s bounced: %v", event.MessageID, res.Error)
			}
		}

		if event.Recipient == "" {
			wc.Logger.Printf("Bounce event for message %s carries no recipient, skipping opt-out", event.MessageID)
			continue
		}
		if err := wc.Guard.HandleBounce(event.Recipient, event.BounceType, event.Reason); err != nil {
			wc.Logger.Printf("Failed to handle %s bounce for %s: %v", event.BounceType, event.Recipient, err)
			continue
		}
		utils.Feed.Publish("email_bounced",
			fmt.Sprintf("Message %s bounced (%s) for %s", event.MessageID, event.BounceType, event.Recipient))
	}
}

func (wc *WebhookController) recoverPanic(platform string) {
	if r := recover(); r != nil {
		utils.LogError("webhook_panic", fmt.Errorf("panic processing %s webhook: %v", platform, r), map[string]interface{}{
			"platform": platform,
		})
	}
}

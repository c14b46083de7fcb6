package utils

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"salesloop/models"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"
)

// ChatTransport sends one text message and returns the provider
// message id; delivery/read status comes back via webhook callbacks.
type ChatTransport interface {
	SendText(to, body string) (string, error)
}

// WhatsAppClient talks to the WhatsApp Cloud API.
type WhatsAppClient struct {
	DB            *gorm.DB
	Logger        *log.Logger
	Token         string
	PhoneNumberID string
	BaseURL       string

	client *fasthttp.Client
}

func NewWhatsAppClient(db *gorm.DB, logger *log.Logger, token, phoneNumberID string) *WhatsAppClient {
	return &WhatsAppClient{
		DB:            db,
		Logger:        logger,
		Token:         token,
		PhoneNumberID: phoneNumberID,
		BaseURL:       "https://graph.facebook.com/v19.0",
		client: &fasthttp.Client{
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
	}
}

func (wc *WhatsAppClient) SendText(to, body string) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": body},
	})
	if err != nil {
		return "", err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s/%s/messages", wc.BaseURL, wc.PhoneNumberID))
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+wc.Token)
	req.SetBody(payload)

	if err := wc.client.Do(req, resp); err != nil {
		return "", fmt.Errorf("whatsapp request failed: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return "", fmt.Errorf("whatsapp API returned %d: %s", resp.StatusCode(), resp.Body())
	}

	var result struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return "", fmt.Errorf("whatsapp response unparsable: %w", err)
	}
	if len(result.Messages) == 0 {
		return "", fmt.Errorf("whatsapp response contained no message id")
	}

	messageID := result.Messages[0].ID
	wc.recordArtifact(to, body, messageID)
	return messageID, nil
}

func (wc *WhatsAppClient) recordArtifact(to, body, messageID string) {
	if err := wc.DB.Create(&models.OutboundMessage{
		Channel:   models.ChannelWhatsApp,
		To:        to,
		Body:      body,
		MessageID: messageID,
		Simulated: false,
	}).Error; err != nil {
		wc.Logger.Printf("Failed to record outbound whatsapp artifact: %v", err)
	}
}

// SimulatedChat records the message artifact without any network call.
type SimulatedChat struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewSimulatedChat(db *gorm.DB, logger *log.Logger) *SimulatedChat {
	return &SimulatedChat{DB: db, Logger: logger}
}

func (sc *SimulatedChat) SendText(to, body string) (string, error) {
	messageID := uuid.New().String()
	if err := sc.DB.Create(&models.OutboundMessage{
		Channel:   models.ChannelWhatsApp,
		To:        to,
		Body:      body,
		MessageID: messageID,
		Simulated: true,
	}).Error; err != nil {
		return "", err
	}
	sc.Logger.Printf("Simulated whatsapp message to %s (%s)", to, messageID)
	return messageID, nil
}

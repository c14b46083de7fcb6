package controller

import (
	"log"
	"time"

	"salesloop/utils"

	"github.com/gofiber/websocket/v2"
)

// HandleAutomationFeedWS streams worker activity events to the client.
// The subscription is per-connection; dropping the socket unsubscribes.
func HandleAutomationFeedWS(c *websocket.Conn) {
	defer c.Close()

	events := utils.Feed.Subscribe()
	defer utils.Feed.Unsubscribe(events)

	// Periodic pings keep idle connections from being reaped by
	// intermediaries.
	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := c.WriteJSON(event); err != nil {
				log.Printf("Error writing feed event: %v", err)
				return
			}
		case <-pingTicker.C:
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

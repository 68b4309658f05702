package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Kumneger49/AutoMailUsingLocalLLM/services/mock-publisher/internal/mock"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}
	target := os.Getenv("TARGET_URL")
	if target == "" {
		target = "http://localhost:8080/pubsub/gmail"
	}

	// With EMAIL_ADDRESS set, push a notification for that mailbox on
	// an interval, like a busy inbox would.
	if emailAddress := os.Getenv("EMAIL_ADDRESS"); emailAddress != "" {
		interval := 30 * time.Second
		if v := os.Getenv("PUBLISH_INTERVAL"); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				log.Fatalf("Invalid PUBLISH_INTERVAL %q: %v", v, err)
			}
			interval = parsed
		}
		log.Printf("Publishing for %s to %s every %s", emailAddress, target, interval)
		go mock.PublishPeriodically(target, emailAddress, interval)
	}

	r := gin.Default()

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Admin endpoints for testing
	admin := r.Group("/admin")
	{
		admin.POST("/publish", handlePublish(target))
		admin.GET("/stats", handleStats)
	}

	addr := fmt.Sprintf(":%s", port)
	log.Printf("Starting mock Pub/Sub publisher on %s (target %s)", addr, target)
	log.Fatal(http.ListenAndServe(addr, r))
}

func handlePublish(defaultTarget string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			EmailAddress string `json:"emailAddress"`
			Target       string `json:"target"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if req.EmailAddress == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "emailAddress is required"})
			return
		}
		target := req.Target
		if target == "" {
			target = defaultTarget
		}

		envelope, attempts, err := mock.Publish(target, req.EmailAddress)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":    err.Error(),
				"attempts": attempts,
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"messageId": envelope.Message.MessageID,
			"attempts":  attempts,
			"message":   fmt.Sprintf("Delivered notification for %s in %d attempt(s)", req.EmailAddress, attempts),
		})
	}
}

func handleStats(c *gin.Context) {
	historyID, delivered := mock.Stats()
	c.JSON(http.StatusOK, gin.H{
		"historyId": historyID,
		"delivered": delivered,
	})
}

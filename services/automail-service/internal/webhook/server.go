package webhook

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"google.golang.org/api/idtoken"

	"github.com/Kumneger49/AutoMailUsingLocalLLM/internal/models"
	"github.com/Kumneger49/AutoMailUsingLocalLLM/services/automail-service/internal/store"
)

// PushPath is the fixed path the Pub/Sub push subscription POSTs to.
const PushPath = "/pubsub/gmail"

const defaultListLimit = 100

// Notifier handles decoded Gmail change notifications.
type Notifier interface {
	HandleNotification(ctx context.Context, n models.ChangeNotification) error
	FetchNow(ctx context.Context) (int, error)
	Processed() int64
}

// EmailStore is the read/maintenance surface of the store.
type EmailStore interface {
	ListEmails(ctx context.Context, limit int) ([]models.Email, error)
	DeleteEmails(ctx context.Context, messageIDs []string) error
	Cleanup(ctx context.Context) (store.CleanupStats, error)
	EmailCount(ctx context.Context) (int, error)
}

// ReadChecker reports whether a message is still unread in Gmail. A
// nil checker disables read-state pruning on the list endpoint.
type ReadChecker interface {
	IsUnread(ctx context.Context, id string) (bool, error)
}

// Config carries the webhook options.
type Config struct {
	// PruneRead removes emails the user already read in Gmail from
	// list responses and from the store.
	PruneRead bool

	// OIDCAudience, when set, requires push requests to carry a
	// Google-signed identity token with this audience.
	OIDCAudience string

	ListLimit int
}

// Server is the HTTP surface: the Pub/Sub push receiver plus the small
// read API over processed emails.
type Server struct {
	proc Notifier
	st   EmailStore
	mail ReadChecker
	cfg  Config
}

func New(proc Notifier, st EmailStore, mail ReadChecker, cfg Config) *Server {
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = defaultListLimit
	}
	return &Server{proc: proc, st: st, mail: mail, cfg: cfg}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	push := r.Group("/")
	if s.cfg.OIDCAudience != "" {
		push.Use(oidcAuth(s.cfg.OIDCAudience))
	}
	push.POST(PushPath, s.handlePush)

	api := r.Group("/api")
	{
		api.GET("/emails", s.handleListEmails)
		api.GET("/debug", s.handleDebug)
		api.POST("/fetch-emails", s.handleFetch)
		api.POST("/cleanup", s.handleCleanup)
	}

	return r
}

// handlePush receives one Pub/Sub push envelope. A 200 acknowledges
// the delivery; anything else makes Pub/Sub redeliver with its own
// backoff, which is the only retry mechanism used here. Malformed
// envelopes get a 400 since redelivering them can never succeed.
func (s *Server) handlePush(c *gin.Context) {
	var req models.PushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Printf("Rejected push request with unreadable body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid push envelope"})
		return
	}

	n, err := req.Decode()
	if err != nil {
		log.Printf("Rejected push message %s: %v", req.Message.MessageID, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.proc.HandleNotification(c.Request.Context(), n); err != nil {
		log.Printf("Failed to handle notification for %s (message %s): %v",
			n.EmailAddress, req.Message.MessageID, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "processing failed, expecting redelivery"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListEmails(c *gin.Context) {
	ctx := c.Request.Context()

	emails, err := s.st.ListEmails(ctx, s.cfg.ListLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if s.cfg.PruneRead && s.mail != nil {
		emails, err = s.pruneRead(ctx, emails)
		if err != nil {
			// Pruning is advisory; never hide valid emails because a
			// read-state check failed.
			log.Printf("Error pruning read emails: %v", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"emails": emails, "count": len(emails)})
}

// pruneRead drops emails the user already read in Gmail and deletes
// them from the store.
func (s *Server) pruneRead(ctx context.Context, emails []models.Email) ([]models.Email, error) {
	var kept []models.Email
	var read []string
	for _, e := range emails {
		unread, err := s.mail.IsUnread(ctx, e.MessageID)
		if err != nil {
			// On error keep the email rather than losing it.
			kept = append(kept, e)
			continue
		}
		if unread {
			kept = append(kept, e)
		} else {
			read = append(read, e.MessageID)
		}
	}
	if len(read) > 0 {
		log.Printf("Pruning %d read email(s) from the store", len(read))
		if err := s.st.DeleteEmails(ctx, read); err != nil {
			return kept, err
		}
	}
	return kept, nil
}

func (s *Server) handleDebug(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := s.st.EmailCount(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	sample, err := s.st.ListEmails(ctx, 10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	type entry struct {
		MessageID  string `json:"message_id"`
		Subject    string `json:"subject"`
		HasSummary bool   `json:"has_summary"`
		HasReply   bool   `json:"has_reply"`
	}
	entries := make([]entry, 0, len(sample))
	for _, e := range sample {
		entries = append(entries, entry{
			MessageID:  e.MessageID,
			Subject:    e.Subject,
			HasSummary: e.Summary != "",
			HasReply:   e.DraftReply != "",
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"store_count":     count,
		"processed_total": s.proc.Processed(),
		"store_emails":    entries,
	})
}

func (s *Server) handleFetch(c *gin.Context) {
	count, err := s.proc.FetchNow(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "emails_count": count})
}

func (s *Server) handleCleanup(c *gin.Context) {
	stats, err := s.st.Cleanup(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"total_before":  stats.TotalBefore,
		"total_after":   stats.TotalAfter,
		"empty_removed": stats.EmptyRemoved,
	})
}

// oidcAuth validates the Google-signed identity token Pub/Sub attaches
// to push requests when the subscription is configured for OIDC.
func oidcAuth(audience string) gin.HandlerFunc {
	const issuer = "accounts.google.com"

	return func(c *gin.Context) {
		parts := strings.Fields(c.GetHeader("Authorization"))
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		payload, err := idtoken.Validate(c.Request.Context(), parts[1], audience)
		if err != nil {
			log.Printf("Rejected push request from %s: %v", c.ClientIP(), err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if payload.Issuer != issuer && payload.Issuer != "https://"+issuer {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unexpected token issuer"})
			return
		}
		c.Next()
	}
}

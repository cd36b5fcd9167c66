package listing

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"unitools/market-api/internal"
	"unitools/market-api/internal/model"
	"unitools/market-api/internal/verification"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errListingGone     = errors.New("listing no longer exists")
	errAlreadyConsumed = errors.New("pending verification already consumed")
)

type verifyBody struct {
	Email  string `form:"email"`
	OTP    string `form:"otp" binding:"required"`
	ID     string `form:"id"`
	Ticket string `form:"ticket"`
}

// VerifyForm renders the passcode form, pre-filled from the link in the email
func VerifyForm(c *gin.Context, d *internal.Deps, kind string) {
	email := c.Query("email")
	id := c.Query("id")
	ticket := c.Query("ticket")

	if ticket != "" {
		t, err := d.Tickets.Parse(ticket)
		if err != nil || t.Kind != kind {
			c.String(http.StatusBadRequest, "Verification link is invalid or expired.")
			return
		}

		email, id = t.Email, t.ListingID
	}

	c.HTML(http.StatusOK, "verify.html", gin.H{
		"Title":  "Verify your listing",
		"Kind":   kind,
		"Email":  email,
		"ID":     id,
		"Ticket": ticket,
	})
}

// Verify checks the passcode of the pending submission and publishes its listing
func Verify(c *gin.Context, d *internal.Deps, kind string) {
	requestID := c.MustGet("requestID").(string)
	ctx := c.Request.Context()

	var body verifyBody
	if err := c.ShouldBind(&body); err != nil {
		c.String(http.StatusBadRequest, "Email and passcode are required.")
		return
	}

	email := strings.ToLower(strings.TrimSpace(body.Email))
	listingID := strings.TrimSpace(body.ID)

	if body.Ticket != "" {
		t, err := d.Tickets.Parse(body.Ticket)
		if err != nil {
			c.String(http.StatusBadRequest, "Verification link is invalid or expired.")
			return
		}

		if t.Kind != kind {
			c.String(http.StatusBadRequest, "This passcode belongs to a "+t.Kind+" listing.")
			return
		}

		email, listingID = t.Email, t.ListingID
	}

	if email == "" {
		c.String(http.StatusBadRequest, "Email and passcode are required.")
		return
	}

	p, err := d.Verifications.Get(ctx, email)
	if err != nil {
		if errors.Is(err, verification.ErrNotFound) {
			c.String(http.StatusBadRequest, "Invalid OTP.")
			return
		}

		c.String(http.StatusInternalServerError, "Internal server error")
		zap.L().Error("Failed to get pending verification", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	maxAttempts := viper.GetInt("verification.max_attempts")

	if p.Expired(time.Now()) {
		discard(c, d, p, requestID)
		c.String(http.StatusBadRequest, "Passcode expired, please submit your listing again.")
		return
	}

	if p.Kind != kind {
		c.String(http.StatusBadRequest, "This passcode belongs to a "+p.Kind+" listing.")
		return
	}

	if listingID != "" && listingID != p.ListingID {
		c.String(http.StatusBadRequest, "This passcode was replaced by a newer submission.")
		return
	}

	// The guess is counted before the hash is compared, concurrent guesses
	// past the limit never reach the comparison
	attempt, err := d.Verifications.ReserveAttempt(ctx, email, p.ListingID, maxAttempts)
	if err != nil {
		if errors.Is(err, verification.ErrNotFound) {
			discard(c, d, p, requestID)
			c.String(http.StatusBadRequest, "Too many wrong attempts, please submit your listing again.")
			return
		}

		c.String(http.StatusInternalServerError, "Internal server error")
		zap.L().Error("Failed to reserve passcode attempt", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	ok, err := d.Argon.Verify(strings.TrimSpace(body.OTP), p.CodeHash)
	if err != nil {
		c.String(http.StatusInternalServerError, "Internal server error")
		zap.L().Error("Failed to verify passcode hash", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	if !ok {
		if attempt >= maxAttempts {
			discard(c, d, p, requestID)
			c.String(http.StatusBadRequest, "Too many wrong attempts, please submit your listing again.")
			return
		}

		c.String(http.StatusBadRequest, "Invalid OTP.")
		return
	}

	// Redis backed entries are consumed last so a lost race still rolls back the publish
	err = d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := tx.Model(&model.Listing{}).
			Where("listing_id = ?", p.ListingID).
			Update("published", true)
		if r.Error != nil {
			return fmt.Errorf("failed to publish listing, %w", r.Error)
		}

		if r.RowsAffected == 0 {
			return errListingGone
		}

		consumed, err := d.Verifications.WithTx(tx).Consume(ctx, email, p.ListingID)
		if err != nil {
			return err
		}

		if !consumed {
			return errAlreadyConsumed
		}

		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, errAlreadyConsumed):
			c.String(http.StatusBadRequest, "Invalid OTP.")
		case errors.Is(err, errListingGone):
			discard(c, d, p, requestID)
			c.String(http.StatusBadRequest, "This listing no longer exists, please submit it again.")
		default:
			c.String(http.StatusInternalServerError, "Internal server error")
			zap.L().Error("Failed to publish listing", zap.Error(err), zap.String("requestID", requestID))
		}
		return
	}

	zap.L().Debug("Listing published", zap.String("listingID", p.ListingID), zap.String("requestID", requestID))

	browseURL, browseLabel := "/buy", "View Buy Listings"
	if kind == model.KindLease {
		browseURL, browseLabel = "/rent", "View Lease Listings"
	}

	c.HTML(http.StatusOK, "verified.html", gin.H{
		"Title":       "Listing published",
		"BrowseURL":   browseURL,
		"BrowseLabel": browseLabel,
	})
}

// discard drops a pending entry that can't be used anymore, unless a newer
// submission replaced it in the meantime
func discard(c *gin.Context, d *internal.Deps, p *model.PendingVerification, requestID string) {
	if err := d.Verifications.Delete(c.Request.Context(), p.Email, p.ListingID); err != nil {
		zap.L().Error("Failed to discard pending verification", zap.Error(err), zap.String("requestID", requestID))
	}
}

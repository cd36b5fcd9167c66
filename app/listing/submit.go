// Package listing contains the submission, verification and query handlers
// shared by sell and lease listings
package listing

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"unitools/market-api/internal"
	"unitools/market-api/internal/model"
	"unitools/market-api/internal/service"
	"unitools/market-api/pkg/security"
	"unitools/market-api/pkg/util"
	"unitools/market-api/pkg/validators"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const passcodeLength = 6

// MailBackoff is the wait between passcode mail attempts, multiplied by the attempt number
var MailBackoff = 2 * time.Second

// Submit handles POST /preowned/sell and /preowned/lease. The listing is
// stored unpublished and a passcode is mailed to the submitter.
func Submit(c *gin.Context, d *internal.Deps, kind string) {
	requestID := c.MustGet("requestID").(string)
	ctx := c.Request.Context()

	var form validators.ListingForm
	if err := c.ShouldBind(&form); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.String(http.StatusRequestEntityTooLarge, "Request body size exceeds limit")
			return
		}

		c.String(http.StatusBadRequest, validators.TranslateValidationError(err))
		return
	}

	price, err := form.Validate(kind)
	if err != nil {
		if errors.Is(err, validators.ErrEmailDomain) {
			c.String(http.StatusBadRequest, "Only "+viper.GetString("listing.email_domain")+" emails allowed.")
			return
		}

		c.String(http.StatusBadRequest, err.Error())
		return
	}

	code, images, err := validators.ImagesValidator(
		form.Images,
		viper.GetInt64("upload.max_total_size"),
		viper.GetInt("upload.max_files"),
	)
	if err != nil {
		if code == http.StatusInternalServerError {
			c.String(code, "Internal server error")
			zap.L().Error("Failed to read attachments", zap.Error(err), zap.String("requestID", requestID))
			return
		}

		c.String(code, err.Error())
		return
	}

	keys, err := d.Uploader.Do(ctx, images)
	if err != nil {
		c.String(http.StatusInternalServerError, "Internal server error")
		zap.L().Error("Failed to upload images", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	passcode, err := util.GenerateCode(passcodeLength)
	if err != nil {
		d.Uploader.Cleanup(keys)
		c.String(http.StatusInternalServerError, "Internal server error")
		zap.L().Error("Failed to generate passcode", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	codeHash, err := d.Argon.Hash(passcode)
	if err != nil {
		d.Uploader.Cleanup(keys)
		c.String(http.StatusInternalServerError, "Internal server error")
		zap.L().Error("Failed to hash passcode", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	ttl := viper.GetDuration("verification.code_ttl")
	expiresAt := time.Now().Add(ttl)
	listingID := uuid.NewString()

	ticket, err := d.Tickets.Sign(security.Ticket{
		Email:     form.Email,
		ListingID: listingID,
		Kind:      kind,
	}, expiresAt)
	if err != nil {
		d.Uploader.Cleanup(keys)
		c.String(http.StatusInternalServerError, "Internal server error")
		zap.L().Error("Failed to sign verification ticket", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	link := viper.GetString("host.base_url") + "/verify-otp/" + kind + "?ticket=" + url.QueryEscape(ticket)

	err = service.SendWithRetry(ctx, d.Mailer, viper.GetInt("mail.retries"), MailBackoff, form.Email, &service.PasscodeMail{
		SellerName: form.SellerName,
		ItemName:   form.ItemName,
		Code:       passcode,
		Link:       link,
		ExpiresIn:  ttl,
	})
	if err != nil {
		d.Uploader.Cleanup(keys)
		c.String(http.StatusBadGateway, "Failed to send the passcode email, please try again later")
		zap.L().Error("Failed to send passcode mail", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	l := &model.Listing{
		ListingID:       listingID,
		Kind:            kind,
		SellerName:      form.SellerName,
		Email:           form.Email,
		ContactNumber:   form.ContactNumber,
		WhatsappNumber:  form.WhatsappNumber,
		ItemName:        form.ItemName,
		ItemDescription: form.ItemDescription,
		Price:           price,
		PricePeriod:     form.PricePeriod,
		Images:          keys,
	}

	err = d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(l).Error; err != nil {
			return fmt.Errorf("failed to save listing, %w", err)
		}

		return d.Verifications.WithTx(tx).Save(ctx, &model.PendingVerification{
			Email:     form.Email,
			CodeHash:  codeHash,
			ListingID: listingID,
			Kind:      kind,
			ExpiresAt: expiresAt,
		})
	})
	if err != nil {
		d.Uploader.Cleanup(keys)
		c.String(http.StatusInternalServerError, "Internal server error")
		zap.L().Error("Failed to store submission", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	zap.L().Debug("Listing submitted",
		zap.String("listingID", listingID),
		zap.String("kind", kind),
		zap.String("requestID", requestID),
	)

	c.HTML(http.StatusOK, "submitted.html", gin.H{
		"Title":     "Check your inbox",
		"Email":     form.Email,
		"Link":      link,
		"ExpiresIn": ttl,
	})
}

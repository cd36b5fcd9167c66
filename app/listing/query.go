package listing

import (
	"errors"
	"net/http"

	"unitools/market-api/internal"
	"unitools/market-api/internal/model"
	"unitools/market-api/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Query returns one page of published listings of kind
func Query(c *gin.Context, d *internal.Deps, kind string) {
	requestID := c.MustGet("requestID").(string)

	q, err := service.ParseListingQuery(c.DefaultQuery)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     err.Error(),
			"requestID": requestID,
		})
		return
	}

	listings, total, err := service.FindListings(c.Request.Context(), d.DB, kind, q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to query listings", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"listings":   Responses(d, listings),
		"total":      total,
		"page":       q.Page,
		"totalPages": q.TotalPages(total),
	})
}

// Fetch returns a single published listing
func Fetch(c *gin.Context, d *internal.Deps, kind string) {
	requestID := c.MustGet("requestID").(string)

	l, err := service.FindPublished(c.Request.Context(), d.DB, kind, c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":     "Listing not found",
				"requestID": requestID,
			})
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to fetch listing", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusOK, l.Response(d.URLs.URLs(l.Images)))
}

// Responses resolves the image URLs of every listing
func Responses(d *internal.Deps, listings []model.Listing) []model.ListingResponse {
	out := make([]model.ListingResponse, len(listings))
	for i := range listings {
		out[i] = listings[i].Response(d.URLs.URLs(listings[i].Images))
	}

	return out
}

// Package image serves listing images kept in the configured store
package image

import (
	"errors"
	"net/http"

	"unitools/market-api/internal"
	"unitools/market-api/internal/service"
	"unitools/market-api/internal/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func Serve(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)

	key := c.Param("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "No image key provided",
			"requestID": requestID,
		})
		return
	}

	published, err := service.ImagePublished(c.Request.Context(), d.DB, key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to check image owner", zap.Error(err), zap.String("key", key), zap.String("requestID", requestID))
		return
	}

	// Images of unverified listings stay private
	if !published {
		c.JSON(http.StatusNotFound, gin.H{
			"error":     "Image not found",
			"requestID": requestID,
		})
		return
	}

	obj, err := d.Images.Get(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":     "Image not found",
				"requestID": requestID,
			})
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to read image", zap.Error(err), zap.String("key", key), zap.String("requestID", requestID))
		return
	}
	defer obj.Body.Close()

	// Keys are never reused
	c.DataFromReader(http.StatusOK, obj.Size, obj.ContentType, obj.Body, map[string]string{
		"Cache-Control": "public, max-age=31536000, immutable",
	})
}

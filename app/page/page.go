// Package page renders the HTML pages of the site
package page

import (
	"net/http"
	"net/url"
	"strconv"

	"unitools/market-api/app/listing"
	"unitools/market-api/internal"
	"unitools/market-api/internal/model"
	"unitools/market-api/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func Index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"Title":  "Home",
		"Domain": viper.GetString("listing.email_domain"),
	})
}

// Form renders the submission form of kind
func Form(c *gin.Context, kind string) {
	title := "Sell an item"
	if kind == model.KindLease {
		title = "Lease an item"
	}

	c.HTML(http.StatusOK, "form.html", gin.H{
		"Title":      title,
		"Kind":       kind,
		"Domain":     viper.GetString("listing.email_domain"),
		"MaxFiles":   viper.GetInt("upload.max_files"),
		"MaxSizeMiB": viper.GetInt64("upload.max_total_size") >> 20,
		"SiteKey":    viper.GetString("security.turnstile_site_key"),
	})
}

// Browse renders /buy and /rent with the same parameters as the JSON query
func Browse(c *gin.Context, d *internal.Deps, kind string) {
	requestID := c.MustGet("requestID").(string)

	q, err := service.ParseListingQuery(c.DefaultQuery)
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}

	listings, total, err := service.FindListings(c.Request.Context(), d.DB, kind, q)
	if err != nil {
		c.String(http.StatusInternalServerError, "Internal server error")
		zap.L().Error("Failed to query listings", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	title := "Buy Listings"
	if kind == model.KindLease {
		title = "Lease Listings"
	}

	totalPages := q.TotalPages(total)
	path := c.Request.URL.Path

	var prev, next string
	if q.Page > 1 {
		prev = pageURL(path, q, q.Page-1)
	}
	if q.Page < totalPages {
		next = pageURL(path, q, q.Page+1)
	}

	c.HTML(http.StatusOK, "listings.html", gin.H{
		"Title":      title,
		"Path":       path,
		"Listings":   listing.Responses(d, listings),
		"Page":       q.Page,
		"TotalPages": totalPages,
		"Sort":       q.Sort,
		"Search":     q.Search,
		"PrevURL":    prev,
		"NextURL":    next,
	})
}

func pageURL(path string, q *service.ListingQuery, page int) string {
	v := url.Values{}
	v.Set("page", strconv.Itoa(page))
	v.Set("limit", strconv.Itoa(q.Limit))

	if q.Sort != "none" {
		v.Set("sort", q.Sort)
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}

	return path + "?" + v.Encode()
}

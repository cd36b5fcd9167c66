// Package app wires every handler into the gin router
package app

import (
	"strings"
	"time"

	"unitools/market-api/app/image"
	"unitools/market-api/app/listing"
	"unitools/market-api/app/page"
	"unitools/market-api/app/root"
	"unitools/market-api/internal"
	"unitools/market-api/internal/model"
	"unitools/market-api/pkg/middleware"
	"unitools/market-api/pkg/validators"
	"unitools/market-api/web"

	cache "github.com/chenyahui/gin-cache"
	"github.com/chenyahui/gin-cache/persist"
	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	gray  = "\x1b[90m"
	reset = "\x1b[0m"
)

// Room for the text fields of a submission on top of the images
const formOverhead = 1 << 20

func NewRouter(d *internal.Deps) (*gin.Engine, error) {
	router := gin.New()

	tmpl, err := web.Templates()
	if err != nil {
		return nil, err
	}
	router.SetHTMLTemplate(tmpl)

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		validators.RegisterCustomValidations(v)
	}

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "HEAD", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if origins := viper.GetString("host.cors"); origins != "" {
		corsCfg.AllowOrigins = strings.Split(origins, ",")
	} else {
		corsCfg.AllowAllOrigins = true
	}

	router.Use(
		cors.New(corsCfg),
		ginzap.RecoveryWithZap(zap.L(), false),
		middleware.NewRequestIDMiddleware(),
		ginzap.GinzapWithConfig(zap.L(), &ginzap.Config{
			TimeFormat: "15:04:05.000",
			UTC:        true,
			Skipper: func(c *gin.Context) bool {
				return c.Request.Method == "HEAD" || strings.HasPrefix(c.Request.URL.Path, "/static/")
			},
			Context: func(c *gin.Context) []zapcore.Field {
				fields := []zapcore.Field{}

				if v := c.GetString("requestID"); v != "" {
					fields = append(fields, zap.String("request_id", v))
				}

				return fields
			},
		}),
	)

	router.HandleMethodNotAllowed = true
	router.RedirectFixedPath = true

	maxUploadSize := viper.GetInt64("upload.max_total_size")
	router.MaxMultipartMemory = maxUploadSize

	rateLimit := viper.GetInt("security.rate_limit")
	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RequestsPerSecond: rateLimit,
		Burst:             rateLimit * 2,
	}).Middleware()

	turnstile := middleware.NewTurnstile(viper.GetString("security.turnstile_secret")).Middleware()

	listingsCache := cacheFor(persist.NewMemoryStore(time.Minute), viper.GetInt("cache.listings_ttl"))

	// GET / 			-> Landing page
	router.GET("/", page.Index)

	router.StaticFS("/static", web.Static())

	api := router.Group("/api")
	{
		// HEAD /api/heartbeat 		-> Used to check if the server is alive
		api.HEAD("/heartbeat", root.Heartbeat)

		// GET /api/images/:key		-> Serves a listing image
		api.GET("/images/:key", func(c *gin.Context) { image.Serve(c, d) })
	}

	browsePaths := map[string]string{
		model.KindSell:  "/buy",
		model.KindLease: "/rent",
	}

	for _, kind := range model.Kinds {
		// GET /preowned/:kind		-> Submission form
		router.GET("/preowned/"+kind, func(c *gin.Context) { page.Form(c, kind) })

		// POST /preowned/:kind		-> Stores an unpublished listing and mails the passcode
		router.POST("/preowned/"+kind,
			limiter,
			middleware.BodySizeLimiter(maxUploadSize+formOverhead),
			turnstile,
			func(c *gin.Context) { listing.Submit(c, d, kind) },
		)

		// GET /verify-otp/:kind	-> Passcode form
		router.GET("/verify-otp/"+kind, func(c *gin.Context) { listing.VerifyForm(c, d, kind) })

		// POST /verify-otp/:kind	-> Checks the passcode and publishes the listing
		router.POST("/verify-otp/"+kind,
			limiter,
			middleware.BodySizeLimiter(formOverhead),
			func(c *gin.Context) { listing.Verify(c, d, kind) },
		)

		// GET /buy, /rent		-> Published listings as HTML
		router.GET(browsePaths[kind], func(c *gin.Context) { page.Browse(c, d, kind) })

		// GET /api/:kind/listings	-> Published listings as JSON
		api.GET("/"+kind+"/listings", listingsCache, func(c *gin.Context) { listing.Query(c, d, kind) })

		// GET /api/:kind/listings/:id	-> One published listing
		api.GET("/"+kind+"/listings/:id", listingsCache, func(c *gin.Context) { listing.Fetch(c, d, kind) })
	}

	return router, nil
}

// MakeLogger replaces the global zap logger with a colored development logger
func MakeLogger(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.EncodeTime = func(t time.Time, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString(gray + t.Format("15:04:05.000") + reset)
	}
	cfg.EncoderConfig.EncodeCaller = func(ec zapcore.EntryCaller, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString(gray + ec.TrimmedPath() + reset)
	}

	cfg.DisableStacktrace = true

	log, err := cfg.Build()
	if err != nil {
		return err
	}

	zap.ReplaceGlobals(log)
	return nil
}

func cacheFor(store persist.CacheStore, sec int) gin.HandlerFunc {
	if sec <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return cache.CacheByRequestURI(store, time.Second*time.Duration(sec))
}

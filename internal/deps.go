package internal

import (
	"context"
	"fmt"
	"time"

	"unitools/market-api/aws"
	"unitools/market-api/cloudflare"
	"unitools/market-api/db"
	"unitools/market-api/internal/service"
	"unitools/market-api/internal/storage"
	"unitools/market-api/internal/verification"
	"unitools/market-api/pkg/security"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Deps struct {
	DB            *gorm.DB
	Images        storage.Store
	URLs          storage.URLBuilder
	Verifications verification.Store
	Mailer        service.Mailer
	Argon         *security.ArgonHash
	Tickets       *security.TicketSigner
	Uploader      *service.Uploader

	closers []func(context.Context) error
}

// NewDeps connects every backend selected in the config
func NewDeps(ctx context.Context) (*Deps, error) {
	gdb, err := db.New()
	if err != nil {
		return nil, err
	}

	d := &Deps{
		DB:      gdb,
		URLs:    storage.URLBuilder{Base: viper.GetString("storage.public_url")},
		Mailer:  service.NewMailer(),
		Argon:   security.New(),
		Tickets: security.NewTicketSigner(viper.GetString("security.jwt_secret")),
	}

	if err := d.setupImages(ctx); err != nil {
		return nil, err
	}

	if err := d.setupVerifications(ctx); err != nil {
		return nil, err
	}

	d.Uploader = service.NewUploader(d.Images)
	return d, nil
}

func (d *Deps) setupImages(ctx context.Context) error {
	storageType := viper.GetString("storage.type")

	switch storageType {
	case "s3":
		s, err := aws.NewS3(ctx)
		if err != nil {
			return fmt.Errorf("failed to create S3 client, %w", err)
		}
		d.Images = s
	case "r2":
		s, err := cloudflare.NewR2(ctx)
		if err != nil {
			return fmt.Errorf("failed to create R2 client, %w", err)
		}
		d.Images = s
	case "gridfs":
		client, err := storage.ConnectMongo(ctx, viper.GetString("mongo.uri"))
		if err != nil {
			return err
		}
		d.closers = append(d.closers, client.Disconnect)

		s, err := storage.NewGridFSStore(client.Database(viper.GetString("mongo.database")))
		if err != nil {
			return err
		}
		d.Images = s
	default:
		d.Images = storage.NewDBStore(d.DB)
	}

	zap.L().Info("Image store ready", zap.String("type", storageType))
	return nil
}

func (d *Deps) setupVerifications(ctx context.Context) error {
	if viper.GetString("verification.store") != "redis" {
		d.Verifications = verification.NewGormStore(d.DB)
		return nil
	}

	rdb, err := verification.ConnectRedis(ctx,
		viper.GetString("redis.addr"),
		viper.GetString("redis.password"),
		viper.GetInt("redis.db"),
	)
	if err != nil {
		return err
	}

	d.closers = append(d.closers, func(context.Context) error { return rdb.Close() })
	d.Verifications = verification.NewRedisStore(rdb)

	return nil
}

// Close releases every connection opened by NewDeps
func (d *Deps) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, c := range d.closers {
		if err := c(ctx); err != nil {
			zap.L().Warn("Failed to close connection", zap.Error(err))
		}
	}

	if sqlDB, err := d.DB.DB(); err == nil {
		sqlDB.Close()
	}
}

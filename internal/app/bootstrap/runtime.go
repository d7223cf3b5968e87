package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"github.com/wolfman30/immigration-casework/internal/calendar"
	appconfig "github.com/wolfman30/immigration-casework/internal/config"
	"github.com/wolfman30/immigration-casework/internal/notify"
	"github.com/wolfman30/immigration-casework/internal/scheduling"
	"github.com/wolfman30/immigration-casework/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildCalendarProvider returns the external calendar used for busy lookups,
// or nil when no Google credentials or endpoint are configured. The provider
// is fronted by the Redis cache when a client is given.
func BuildCalendarProvider(ctx context.Context, cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) (scheduling.CalendarProvider, error) {
	if cfg == nil {
		return nil, nil
	}
	credentials := strings.TrimSpace(cfg.GoogleCalendarCredentialsFile)
	endpoint := strings.TrimSpace(cfg.GoogleCalendarEndpoint)
	if credentials == "" && endpoint == "" {
		return nil, nil
	}

	var opts []option.ClientOption
	if credentials != "" {
		opts = append(opts, option.WithCredentialsFile(credentials))
	}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
		if credentials == "" {
			opts = append(opts, option.WithoutAuthentication())
		}
	}

	google, err := calendar.NewGoogleProvider(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: google calendar: %w", err)
	}
	if logger != nil {
		logger.Info("google calendar enabled", "cached", redisClient != nil)
	}
	return calendar.NewCachedProvider(google, redisClient, cfg.CalendarCacheTTL, logger), nil
}

// BuildEmailSender selects the notification transport from EMAIL_PROVIDER.
// Unknown or misconfigured providers fall back to the stub sender.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) notify.EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		return notify.NewStubEmailSender(logger)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.EmailProvider)) {
	case "sendgrid":
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger)
		if sender != nil {
			return sender
		}
		logger.Warn("sendgrid selected without api key, using stub email sender")
	case "ses":
		if awsCfg != nil {
			client := sesv2.NewFromConfig(*awsCfg)
			return notify.NewSESSender(client, notify.SESConfig{
				FromEmail: cfg.EmailFrom,
				FromName:  cfg.EmailFromName,
			}, logger)
		}
		logger.Warn("ses selected without aws config, using stub email sender")
	}
	return notify.NewStubEmailSender(logger)
}

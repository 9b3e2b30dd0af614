package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Anvoria/loginguard/internal/cache"
	"github.com/Anvoria/loginguard/internal/config"
	"github.com/Anvoria/loginguard/internal/domain/admin"
	"github.com/Anvoria/loginguard/internal/domain/auth"
	"github.com/Anvoria/loginguard/internal/domain/login"
	"github.com/Anvoria/loginguard/internal/domain/risk"
	"github.com/Anvoria/loginguard/internal/domain/session"
	"github.com/Anvoria/loginguard/internal/domain/user"
	"github.com/Anvoria/loginguard/internal/events"
	"github.com/Anvoria/loginguard/internal/geo"
	"github.com/Anvoria/loginguard/internal/notify"
	"github.com/Anvoria/loginguard/internal/worker"
)

// Dependencies holds the wired services behind the HTTP surface
type Dependencies struct {
	Users     user.Service
	Sessions  session.Service
	Detector  login.Detector
	Auth      *auth.Service
	Blocklist *risk.Blocklist
	Scheduler *worker.Scheduler

	authHandler  *auth.Handler
	adminHandler *admin.Handler
	closers      []io.Closer
}

// NewDependencies builds repositories, stores, brokers and services from cfg.
// Optional integrations (GeoIP database, RabbitMQ, Kafka) are skipped when unconfigured.
func NewDependencies(cfg *config.Config, db *gorm.DB, client *redis.Client) (*Dependencies, error) {
	d := &Dependencies{}

	policy, err := risk.NewPolicy(cfg.Risk)
	if err != nil {
		return nil, fmt.Errorf("invalid risk policy: %w", err)
	}

	d.Blocklist, err = risk.NewBlocklist(cfg.Risk.Blocklist)
	if err != nil {
		return nil, fmt.Errorf("invalid blocklist: %w", err)
	}

	var locator geo.Locator = geo.NopLocator{}
	if cfg.Geo.DatabasePath != "" {
		mm, err := geo.OpenMaxMind(cfg.Geo.DatabasePath)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, mm)
		locator = cache.NewGeoCache(client, mm, cfg.Geo.CacheTTLDuration())
		slog.Info("GeoIP database loaded", "path", cfg.Geo.DatabasePath)
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.closers = append(d.closers, kp)
		publisher = kp
		slog.Info("Security events publishing to Kafka", "topic", cfg.Kafka.Topic)
	}

	var dispatcher notify.Dispatcher = notify.LogDispatcher{}
	if cfg.RabbitMQ.URL != "" {
		rd, err := notify.NewRabbitDispatcher(cfg.RabbitMQ.URL, cfg.RabbitMQ.EmailQueue)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.closers = append(d.closers, rd)
		dispatcher = rd
		slog.Info("Email jobs publishing to RabbitMQ", "queue", cfg.RabbitMQ.EmailQueue)
	}

	d.Users = user.NewService(user.NewRepository(db))
	d.Sessions = session.NewService(session.NewRedisStore(client), session.NewRepository(db), session.Options{
		Config:    cfg.Session,
		Locator:   locator,
		Publisher: publisher,
	})
	d.Detector = login.NewDetector(
		risk.NewAnalyzer(risk.NewRepository(db), d.Blocklist, policy),
		login.NewRepository(db),
		login.Options{
			Config:     cfg.Login,
			Dispatcher: dispatcher,
			Recipients: d.Users,
			Locator:    locator,
			Publisher:  publisher,
		},
	)
	d.Auth = auth.NewService(d.Users, d.Sessions, d.Detector)

	d.Scheduler, err = worker.New(cfg.Worker.CleanupSchedule, d.Sessions, d.Detector, d.Blocklist)
	if err != nil {
		d.Close()
		return nil, err
	}

	d.authHandler = auth.NewHandler(d.Auth, d.Sessions)
	d.adminHandler = admin.NewHandler(d.Blocklist, d.Sessions)
	return d, nil
}

// Close drains background work and releases broker and GeoIP handles
func (d *Dependencies) Close() error {
	if d.Sessions != nil {
		d.Sessions.Wait()
	}
	if d.Detector != nil {
		d.Detector.Wait()
	}

	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// Package bootstrap builds the ledger, notification pipeline and payment
// gateways from config.AppConfig. The API server and guidebookctl share it.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"guidebook/config"
	"guidebook/database"
	ledgerRepo "guidebook/database/repository/ledger"
	"guidebook/services/notification"
	"guidebook/services/payment"
	"guidebook/utils"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// OpenLedger connects the store selected by LEDGER_DRIVER. The returned
// closer releases the connection.
func OpenLedger(ctx context.Context, logger *zap.Logger) (ledgerRepo.Ledger, func(), error) {
	switch config.AppConfig.LedgerDriver {
	case "", "mongo":
		database.InitDB()
		l, err := ledgerRepo.NewMongoLedger(database.Database())
		if err != nil {
			return nil, nil, fmt.Errorf("mongo ledger: %w", err)
		}
		logger.Info("ledger ready", zap.String("driver", "mongo"))
		return l, func() { database.CloseDB(context.Background()) }, nil
	case "mysql":
		db, err := database.InitSQL()
		if err != nil {
			return nil, nil, err
		}
		l := ledgerRepo.NewSQLLedger(db)
		if err := l.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("mysql schema: %w", err)
		}
		logger.Info("ledger ready", zap.String("driver", "mysql"))
		return l, func() { _ = db.Close() }, nil
	case "memory":
		logger.Warn("using in-memory ledger, data is lost on restart")
		return ledgerRepo.NewMemoryLedger(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown LEDGER_DRIVER %q", config.AppConfig.LedgerDriver)
	}
}

// Notifications is the assembled delivery pipeline. Dispatcher is what the
// services notify through; Fanout is what the queue worker delivers with.
type Notifications struct {
	Dispatcher notification.Dispatcher
	Fanout     *notification.Fanout
	Realtime   *notification.Realtime
	Push       *notification.Push
	Redis      *redis.Client

	queue *asynq.Client
	bus   *notification.EventBus
}

// NewNotifications queues through asynq when Redis is configured and logs
// otherwise. The event bus joins the fan-out only when RABBIT_URL is set.
func NewNotifications(logger *zap.Logger) *Notifications {
	logChannel := notification.NewLogDispatcher(logger)
	if !utils.RedisConfigured() {
		fanout := notification.NewFanout(logger)
		fanout.Audit = []notification.Channel{logChannel}
		return &Notifications{Dispatcher: logChannel, Fanout: fanout}
	}

	n := &Notifications{Redis: utils.GetCacheClient()}
	n.Realtime = notification.NewRealtime(n.Redis)
	channels := []notification.Channel{n.Realtime}

	if fcm := utils.FirebaseInit(); fcm != nil {
		n.Push = notification.NewPush(n.Redis, fcm)
		channels = append(channels, n.Push)
	}
	if url := config.AppConfig.RabbitURL; url != "" {
		bus, err := notification.NewEventBus(url, config.AppConfig.EventExchange)
		if err != nil {
			logger.Error("event bus unavailable, continuing without it", zap.Error(err))
		} else {
			n.bus = bus
			channels = append(channels, bus)
		}
	}
	n.Fanout = notification.NewFanout(logger, channels...)
	n.Fanout.Audit = []notification.Channel{logChannel}
	n.queue = asynq.NewClient(utils.QueueRedisOpt())
	n.Dispatcher = notification.NewQueueDispatcher(n.queue, logger)
	return n
}

// Queued reports whether events go through the asynq queue.
func (n *Notifications) Queued() bool { return n.queue != nil }

func (n *Notifications) Close() {
	if n.queue != nil {
		_ = n.queue.Close()
	}
	if n.bus != nil {
		_ = n.bus.Close()
	}
}

// Gateways returns every payment gateway with credentials configured.
func Gateways(logger *zap.Logger) []payment.Gateway {
	cfg := config.AppConfig
	timeout := cfg.GatewayTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	var gateways []payment.Gateway
	if cfg.StripeKey != "" {
		gateways = append(gateways, payment.NewStripe(cfg.StripeWebhookSecret, timeout))
	}
	if cfg.MpesaConsumerKey != "" {
		gateways = append(gateways, payment.NewMpesa(cfg.MpesaBaseURL, cfg.MpesaConsumerKey, cfg.MpesaConsumerSecret,
			cfg.MpesaShortCode, cfg.MpesaPassKey, cfg.MpesaCallbackURL, timeout))
	}
	if cfg.PaypalClientID != "" {
		pp, err := payment.NewPayPal(cfg.PaypalClientID, cfg.PaypalSecret, cfg.PaypalMode, timeout)
		if err != nil {
			logger.Error("paypal gateway disabled", zap.Error(err))
		} else {
			gateways = append(gateways, pp)
		}
	}
	for _, g := range gateways {
		logger.Info("payment gateway enabled", zap.String("gateway", string(g.Name())))
	}
	return gateways
}

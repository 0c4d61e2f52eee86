package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/NordCoder/Pricerus/internal/domain/notification"
	"github.com/NordCoder/Pricerus/internal/domain/outbox"
	"github.com/NordCoder/Pricerus/internal/domain/price"
	"github.com/NordCoder/Pricerus/internal/domain/scrape"
	"github.com/NordCoder/Pricerus/internal/domain/tracking"
	"github.com/NordCoder/Pricerus/internal/domain/user"
	"github.com/NordCoder/Pricerus/internal/obs"
	intoutbox "github.com/NordCoder/Pricerus/internal/outbox"
	"github.com/NordCoder/Pricerus/internal/repository/postgres"
)

var (
	mNotified = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_records_total", Help: "Notification records created",
	})
	mSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_suppressed_total", Help: "Gate evaluations that did not notify",
	}, []string{"reason"})
	mMailErr = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_mail_errors_total", Help: "Recorded notifications whose email failed",
	})
)

// Gate decides, from the ledger alone, whether an observation owes the user
// an email, records it and then sends it.
type Gate struct {
	Log           *zap.Logger
	Tx            postgres.Transactor
	Configs       tracking.Repo
	Prices        price.Repo
	Notifications notification.Repo
	Users         user.Repo
	// Outbox is optional; when set a price-dropped event is enqueued with the record.
	Outbox outbox.Repository
	Mail   notification.EmailSender
	Clock  notification.Clock
}

// MaybeNotify returns the created record, or nil when nothing was owed.
// A mail failure is returned as a MAIL class error after the record is
// committed; callers must not treat it as a scrape failure.
func (g *Gate) MaybeNotify(ctx context.Context, configID int64, obsv *price.Observation, details notification.Details) (*notification.Record, error) {
	ctx, span := otel.Tracer("notifier.gate").Start(ctx, "notifier.maybe_notify")
	defer span.End()
	span.SetAttributes(attribute.Int64("config.id", configID))
	log := obs.WithTrace(ctx, g.Log, zap.Int64("config_id", configID))

	var (
		rec *notification.Record
		cfg *tracking.Config
		usr *user.User
	)
	err := g.Tx.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		cfg, err = g.Configs.Lock(txCtx, configID)
		if err != nil {
			return fmt.Errorf("lock config: %w", err)
		}
		reason, err := g.owed(txCtx, cfg, obsv)
		if err != nil {
			return err
		}
		if reason != "" {
			mSuppressed.WithLabelValues(reason).Inc()
			return nil
		}

		usr, err = g.Users.GetByID(txCtx, cfg.UserID)
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}

		sentAt := g.Clock.Now().UTC()
		if sentAt.Before(obsv.RecordedAt) {
			sentAt = obsv.RecordedAt
		}
		rec = &notification.Record{
			ConfigID: cfg.ID,
			UserID:   cfg.UserID,
			Price:    obsv.Price,
			SentAt:   sentAt,
		}
		if err := g.Notifications.Create(txCtx, rec); err != nil {
			return fmt.Errorf("create notification: %w", err)
		}
		return g.enqueue(txCtx, cfg, rec)
	})
	if err != nil {
		span.RecordError(err)
		return nil, scrape.NewError(scrape.ClassStore, err)
	}
	if rec == nil {
		return nil, nil
	}
	mNotified.Inc()

	subject, body := render(cfg, rec, details)
	if err := g.Mail.Send(ctx, usr.Email, subject, body); err != nil {
		mMailErr.Inc()
		span.RecordError(err)
		log.Warn("notification recorded but not delivered",
			zap.Int64("notification_id", rec.ID),
			zap.String("class", string(scrape.ClassMail)),
			zap.Error(err),
		)
		return rec, scrape.NewError(scrape.ClassMail, err)
	}
	log.Info("price drop notified", zap.Int64("notification_id", rec.ID), zap.String("price", rec.Price.String()))
	return rec, nil
}

// owed returns an empty reason when obsv starts a crossing that has no
// record yet. The current target is used, so a target edit takes effect on
// the next observation.
func (g *Gate) owed(ctx context.Context, cfg *tracking.Config, obsv *price.Observation) (string, error) {
	if !cfg.Enabled {
		return "disabled", nil
	}
	if !obsv.Price.LessThan(cfg.TargetPrice) {
		return "not_below_target", nil
	}
	above, err := g.Prices.LatestAtOrAbove(ctx, cfg.ID, cfg.TargetPrice)
	if err != nil {
		return "", fmt.Errorf("latest at or above target: %w", err)
	}
	var since *time.Time
	if above != nil {
		if above.RecordedAt.After(obsv.RecordedAt) {
			return "stale_observation", nil
		}
		since = &above.RecordedAt
	}
	exists, err := g.Notifications.ExistsAfter(ctx, cfg.ID, since)
	if err != nil {
		return "", fmt.Errorf("notification exists: %w", err)
	}
	if exists {
		return "already_notified", nil
	}
	return "", nil
}

func (g *Gate) enqueue(ctx context.Context, cfg *tracking.Config, rec *notification.Record) error {
	if g.Outbox == nil {
		return nil
	}
	data, err := intoutbox.EncodePriceDropped(outbox.PriceDroppedPayload{
		NotificationID: rec.ID,
		ConfigID:       cfg.ID,
		UserID:         cfg.UserID,
		ProductID:      cfg.ProductID,
		Price:          rec.Price.StringFixed(2),
		Target:         cfg.TargetPrice.StringFixed(2),
		At:             rec.SentAt,
	})
	if err != nil {
		return fmt.Errorf("encode price-dropped: %w", err)
	}
	if err := g.Outbox.Enqueue(ctx, rec.IdempotencyKey(), outbox.KindPriceDropped, data); err != nil {
		return fmt.Errorf("outbox enqueue: %w", err)
	}
	return nil
}

func render(cfg *tracking.Config, rec *notification.Record, details notification.Details) (subject, body string) {
	name := details.Title
	if name == "" {
		name = cfg.ProductName
	}
	if name == "" {
		name = cfg.ProductURL
	}
	subject = fmt.Sprintf("Price drop: %s is now %s", truncate(name, 80), rec.Price.StringFixed(2))
	var coupon string
	if details.Coupon != "" {
		coupon = fmt.Sprintf("A coupon is also available: %s.\n\n", details.Coupon)
	}
	body = fmt.Sprintf(
		"Hello!\n\nThe price of %s dropped to %s, below your target of %s.\n\n%s%s\n\nChecked at %s.\n\n-- \nPricerus",
		name,
		rec.Price.StringFixed(2),
		cfg.TargetPrice.StringFixed(2),
		coupon,
		cfg.ProductURL,
		rec.SentAt.UTC().Format(time.RFC3339),
	)
	return subject, body
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// IsMailError reports whether err only concerns delivery of a recorded notification.
func IsMailError(err error) bool {
	var se *scrape.Error
	return errors.As(err, &se) && se.Class == scrape.ClassMail
}

package fulfillment

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-sales/internal/httpclient"
)

// Doer is satisfied by *httpclient.Client.
type Doer interface {
	DoJSON(ctx context.Context, method, url string, in, out any) error
}

type ReporterConfig struct {
	BaseURL         string
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Reporter delivers outcomes to the sale record store.
type Reporter struct {
	base string
	http Doer
	cfg  ReporterConfig
	log  *zap.Logger
}

func NewReporter(cfg ReporterConfig, d Doer, log *zap.Logger) *Reporter {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	return &Reporter{base: strings.TrimRight(cfg.BaseURL, "/"), http: d, cfg: cfg, log: log}
}

// Report PUTs the outcome, retrying 5xx and transport failures with
// exponential backoff. A 409 means the sale already holds a terminal status
// and is treated as delivered; other 4xx answers are not retried.
func (r *Reporter) Report(ctx context.Context, out Outcome) error {
	target := fmt.Sprintf("%s/sales/%s/status", r.base, url.PathEscape(out.SaleID))
	body := out.update()
	log := r.log.With(zap.String("sale_id", out.SaleID), zap.String("status", string(out.Status)))

	op := func() error {
		err := r.http.DoJSON(ctx, http.MethodPut, target, body, nil)
		code := httpclient.StatusCode(err)
		switch {
		case err == nil:
			reportAttempts.WithLabelValues("ok").Inc()
			return nil
		case code == http.StatusConflict:
			reportAttempts.WithLabelValues("conflict").Inc()
			log.Info("sale already terminal, outcome dropped")
			return nil
		case code >= 400 && code < 500:
			reportAttempts.WithLabelValues("rejected").Inc()
			return backoff.Permanent(err)
		default:
			reportAttempts.WithLabelValues("error").Inc()
			return err
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, r.cfg.MaxRetries), ctx)

	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		log.Warn("status report failed, retrying", zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		return &ReportError{Outcome: out, Err: err}
	}
	return nil
}

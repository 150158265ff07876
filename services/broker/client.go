package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"propdesk-affiliate/pkg/config"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Manager is the trading-platform manager API used for payout side effects.
type Manager interface {
	CheckConsistency(ctx context.Context, login, payoutID string) error
	ResetAccount(ctx context.Context, login string) error
	BreachAccount(ctx context.Context, login string) error
}

var ErrUnauthorized = errors.New("broker: unauthorized")

type Params struct {
	fx.In
	Config         *config.Config
	TracerProvider trace.TracerProvider `optional:"true"`
}

func NewManager(p Params) Manager {
	if p.Config.Broker.URL == "" {
		zap.L().Warn("[Broker] BROKER.URL not set, manager calls are logged only")
		return logManager{}
	}

	tp := p.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return NewMT5Client(p.Config, tp.Tracer("broker.mt5"))
}

type MT5Client struct {
	baseURL  string
	username string
	password string

	http   *http.Client
	tracer trace.Tracer
	cb     *gobreaker.CircuitBreaker[struct{}]

	mu    sync.Mutex
	token string
}

func NewMT5Client(cfg *config.Config, tracer trace.Tracer) *MT5Client {
	timeout := cfg.Broker.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	threshold := cfg.Broker.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	openTimeout := cfg.Broker.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "mt5-manager",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			zap.L().Warn("[Broker] circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &MT5Client{
		baseURL:  strings.TrimRight(cfg.Broker.URL, "/"),
		username: cfg.Broker.Username,
		password: cfg.Broker.Password,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 20,
			},
		},
		tracer: tracer,
		cb:     cb,
	}
}

func (c *MT5Client) CheckConsistency(ctx context.Context, login, payoutID string) error {
	q := url.Values{"login": {login}, "payout_id": {payoutID}}
	return c.call(ctx, "mt5.check_consistency_rule", http.MethodGet, "/user_v3/check_consistency_rule", q)
}

func (c *MT5Client) ResetAccount(ctx context.Context, login string) error {
	return c.call(ctx, "mt5.reset_account", http.MethodGet, "/manager/reset_account/", url.Values{"login": {login}})
}

func (c *MT5Client) BreachAccount(ctx context.Context, login string) error {
	return c.call(ctx, "mt5.breach_account", http.MethodPost, "/manager/breach_account/", url.Values{"login": {login}})
}

func (c *MT5Client) call(ctx context.Context, name, method, path string, query url.Values) error {
	ctx, span := c.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	_, err := c.cb.Execute(func() (struct{}, error) {
		err := c.do(ctx, method, path, query)
		if errors.Is(err, ErrUnauthorized) {
			// token may have expired, fetch a new one once
			c.resetToken()
			err = c.do(ctx, method, path, query)
		}
		return struct{}{}, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (c *MT5Client) do(ctx context.Context, method, path string, query url.Values) error {
	token, err := c.authToken(ctx)
	if err != nil {
		return err
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", c.baseURL+path),
	)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("broker %s %s returned %s: %s", method, path, resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

func (c *MT5Client) authToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" {
		return c.token, nil
	}

	form := url.Values{"username": {c.username}, "password": {c.password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("broker auth returned %s", resp.Status)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode broker token: %w", err)
	}
	if body.AccessToken == "" {
		return "", errors.New("broker auth returned an empty token")
	}

	c.token = body.AccessToken
	return c.token, nil
}

func (c *MT5Client) resetToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

type logManager struct{}

func (logManager) CheckConsistency(ctx context.Context, login, payoutID string) error {
	zap.L().Info("[Broker] consistency check skipped", zap.String("login", login), zap.String("payout_id", payoutID))
	return nil
}

func (logManager) ResetAccount(ctx context.Context, login string) error {
	zap.L().Info("[Broker] account reset skipped", zap.String("login", login))
	return nil
}

func (logManager) BreachAccount(ctx context.Context, login string) error {
	zap.L().Info("[Broker] account breach skipped", zap.String("login", login))
	return nil
}

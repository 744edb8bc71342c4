// Package crmapi is the HTTP client of the remote appointment store.
package crmapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"dayline/internal/model"
)

// ErrConflict is returned when the store refuses new times because of another appointment.
var ErrConflict = errors.New("appointment time conflict")

// StatusError is a non-2xx answer of the store.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Code)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Message)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrConflict && e.Code == http.StatusConflict
}

// Client calls the appointments API of the booking backend.
type Client struct {
	baseURL    string
	apiKey     string
	apiExtra   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zerolog.Logger

	redis    *redis.Client
	cacheTTL time.Duration
}

// Options configures a Client.
type Options struct {
	BaseURL  string
	APIKey   string
	APIExtra string
	Timeout  time.Duration
	// RatePerSecond limits outgoing requests; zero disables limiting.
	RatePerSecond float64
	Burst         int
}

type appointmentsResponse struct {
	Appointments []model.WireAppointment `json:"appointments"`
}

type updateTimeRequest struct {
	Date  string `json:"date"`
	Start string `json:"start"`
	End   string `json:"end"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewClient constructs a client from opts.
func NewClient(opts Options, logger *zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	c := &Client{
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		apiExtra:   opts.APIExtra,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     logger,
	}
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	return c
}

// UseRedisCache configures optional Redis caching of day listings.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// FetchAppointmentsForDay lists the appointments of date with 24h wire times.
func (c *Client) FetchAppointmentsForDay(ctx context.Context, date time.Time) ([]model.WireAppointment, error) {
	day := date.Format(model.DateLayout)
	endpoint := fmt.Sprintf("%s/api/v1/appointments?date=%s", c.baseURL, url.QueryEscape(day))
	cacheKey := dayCacheKey(day)
	var resp appointmentsResponse

	if c.readCache(ctx, cacheKey, &resp) {
		return resp.Appointments, nil
	}

	if err := c.doGet(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("fetch appointments for %s: %w", day, err)
	}
	c.writeCache(ctx, cacheKey, resp)
	return resp.Appointments, nil
}

// UpdateAppointmentTime moves appointment id to start24-end24 on date. It is sent once;
// retrying is the backend's decision.
func (c *Client) UpdateAppointmentTime(ctx context.Context, id int64, date time.Time, start24, end24 string) (model.WireAppointment, error) {
	day := date.Format(model.DateLayout)
	endpoint := fmt.Sprintf("%s/api/v1/appointments/%s", c.baseURL, url.PathEscape(strconv.FormatInt(id, 10)))
	body := updateTimeRequest{Date: day, Start: start24, End: end24}

	var out model.WireAppointment
	if err := c.doJSON(ctx, http.MethodPatch, endpoint, body, &out); err != nil {
		return model.WireAppointment{}, fmt.Errorf("update appointment %d: %w", id, err)
	}
	c.invalidate(ctx, dayCacheKey(day))
	return out, nil
}

// HealthCheck checks if the appointments API is available.
func (c *Client) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/healthz", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: %d", resp.StatusCode)
	}
	return nil
}

func dayCacheKey(day string) string {
	return "appointments:" + day
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}

func (c *Client) invalidate(ctx context.Context, key string) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, key).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("failed to invalidate cache")
	}
}

func (c *Client) doGet(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		se := &StatusError{Code: resp.StatusCode}
		var e errorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &e) == nil {
			se.Message = e.Error
		}
		c.logger.Debug().Str("method", req.Method).Str("url", req.URL.Path).Int("status", resp.StatusCode).Msg("store request failed")
		return se
	}
	if out == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	return dec.Decode(out)
}

func (c *Client) addHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if c.apiExtra != "" {
		req.Header.Set("x-api-extra", c.apiExtra)
	}
}

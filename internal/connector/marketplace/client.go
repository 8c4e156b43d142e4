// Package marketplace — клиент API маркетплейса (OAuth client_credentials).
//
// Операции:
//   - Authenticate — получить токен доступа
//   - UploadAsset — загрузить изображение, получить его URL в CDN маркетплейса
//   - RegisterItem — зарегистрировать листинг, получить внешний ID
//
// Бюджет на первый вызов получает executor. Токен кэшируется; при 401 клиент
// делает ровно одну повторную авторизацию и один повтор запроса, и повтор
// проходит через Config.Gate. Запрос токена бюджет не расходует.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shaiso/storebridge/internal/connector"
	"github.com/shaiso/storebridge/internal/domain"
)

const defaultTimeout = 30 * time.Second

// maxAuthAttempts — запрос плюс один повтор после повторной авторизации.
const maxAuthAttempts = 2

// Config — конфигурация клиента.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string

	// Timeout — таймаут одного HTTP-запроса.
	Timeout time.Duration

	// Gate вызывается перед повтором запроса после 401.
	// Ошибка Gate возвращается вызывающему, повтор не отправляется.
	Gate func(ctx context.Context) error

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client — клиент маркетплейса. Безопасен для конкурентного использования.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	timeout      time.Duration
	http         *http.Client
	logger       *slog.Logger
	gate         func(ctx context.Context) error

	mu    sync.Mutex
	token string
}

// New создаёт клиент.
func New(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errors.New("marketplace: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("marketplace: invalid base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:      strings.TrimRight(base, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		timeout:      cfg.Timeout,
		http:         cfg.HTTPClient,
		logger:       cfg.Logger,
		gate:         cfg.Gate,
	}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// Authenticate получает новый токен и кэширует его.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"grant_type":    {"client_credentials"},
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth2.0/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", domain.NewError(domain.ErrorKindFatal, fmt.Errorf("create token request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", connector.UserAgent)

	status, body, err := c.send(ctx, req)
	if err != nil {
		return "", err
	}
	if !connector.IsSuccess(status) {
		return "", fmt.Errorf("authenticate: %w", connector.ClassifyStatus(status, body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		return "", domain.Errorf(domain.ErrorKindTransient, "authenticate: invalid token response")
	}

	c.mu.Lock()
	c.token = tr.AccessToken
	c.mu.Unlock()

	c.logger.Info("marketplace token refreshed")
	return tr.AccessToken, nil
}

type uploadResponse struct {
	ImageURL string `json:"imageUrl"`
}

// UploadAsset загружает изображение и возвращает его URL в CDN маркетплейса.
func (c *Client) UploadAsset(ctx context.Context, data []byte, filename string) (string, error) {
	if len(data) == 0 {
		return "", domain.Errorf(domain.ErrorKindFatal, "upload asset: empty payload")
	}

	build := func(ctx context.Context) (*http.Request, error) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		part, err := w.CreateFormFile("image", filename)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/product-images/upload", &buf)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		return req, nil
	}

	body, err := c.doAuthorized(ctx, build)
	if err != nil {
		return "", fmt.Errorf("upload asset: %w", err)
	}

	var resp uploadResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.ImageURL == "" {
		return "", domain.Errorf(domain.ErrorKindTransient, "upload asset: invalid response")
	}
	return resp.ImageURL, nil
}

type registerResponse struct {
	OriginProductNo json.Number `json:"originProductNo"`
}

// RegisterItem регистрирует листинг и возвращает его ID в маркетплейсе.
func (c *Client) RegisterItem(ctx context.Context, listing domain.Listing) (string, error) {
	payload, err := json.Marshal(toProductRequest(listing, time.Now().UTC()))
	if err != nil {
		return "", domain.NewError(domain.ErrorKindFatal, fmt.Errorf("marshal listing: %w", err))
	}

	build := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/products", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	body, err := c.doAuthorized(ctx, build)
	if err != nil {
		return "", fmt.Errorf("register item: %w", err)
	}

	var resp registerResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.OriginProductNo == "" {
		return "", domain.Errorf(domain.ErrorKindTransient, "register item: response without originProductNo")
	}
	return resp.OriginProductNo.String(), nil
}

// doAuthorized выполняет запрос с токеном.
// На первый 401 сбрасывает токен, получает бюджет через gate, авторизуется заново
// и повторяет запрос один раз.
// Повторный 401 возвращается как AuthExpired.
func (c *Client) doAuthorized(ctx context.Context, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < maxAuthAttempts; attempt++ {
		if attempt > 0 && c.gate != nil {
			if err := c.gate(ctx); err != nil {
				return nil, err
			}
		}

		token, err := c.currentToken(ctx)
		if err != nil {
			return nil, err
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		req, err := build(reqCtx)
		if err != nil {
			cancel()
			return nil, domain.NewError(domain.ErrorKindFatal, fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("User-Agent", connector.UserAgent)

		status, body, err := c.send(reqCtx, req)
		cancel()
		if err != nil {
			return nil, err
		}

		if connector.IsSuccess(status) {
			return body, nil
		}

		lastErr = connector.ClassifyStatus(status, body)
		if status != http.StatusUnauthorized {
			return nil, lastErr
		}

		c.logger.Warn("marketplace token expired", "attempt", attempt+1)
		c.invalidate(token)
	}
	return nil, lastErr
}

// currentToken возвращает кэшированный токен или получает новый.
func (c *Client) currentToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	if token != "" {
		return token, nil
	}
	return c.Authenticate(ctx)
}

// invalidate сбрасывает токен, если его ещё не обновил другой запрос.
func (c *Client) invalidate(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == token {
		c.token = ""
	}
}

func (c *Client) send(ctx context.Context, req *http.Request) (int, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, connector.ClassifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, connector.ClassifyTransport(ctx, err)
	}
	return resp.StatusCode, body, nil
}

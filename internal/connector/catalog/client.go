// Package catalog — клиент API каталога поставщика.
//
// Каталог отдаёт товары постранично (FetchBatch) и изображения товаров
// (FetchAsset). У API свой бюджет запросов (по умолчанию 180 в минуту),
// его получает вызывающий через ratelimit с ресурсом "catalog".
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/storebridge/internal/connector"
	"github.com/shaiso/storebridge/internal/domain"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultPageSize = 100
	maxPageSize     = 100

	// maxAssetSize — ограничение размера изображения.
	maxAssetSize = 10 << 20
)

// Config — конфигурация клиента.
type Config struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	PageSize int

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Filter — фильтр выборки товаров.
type Filter struct {
	Keyword  string
	Category string
}

// Page — страница товаров.
type Page struct {
	Items      []domain.SourceItem
	TotalCount int
}

// Client — клиент каталога.
type Client struct {
	baseURL  string
	apiKey   string
	timeout  time.Duration
	pageSize int
	http     *http.Client
	logger   *slog.Logger
}

// New создаёт клиент.
func New(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errors.New("catalog: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("catalog: invalid base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PageSize <= 0 || cfg.PageSize > maxPageSize {
		cfg.PageSize = defaultPageSize
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:  strings.TrimRight(base, "/"),
		apiKey:   cfg.APIKey,
		timeout:  cfg.Timeout,
		pageSize: cfg.PageSize,
		http:     cfg.HTTPClient,
		logger:   cfg.Logger,
	}, nil
}

// PageSize возвращает размер страницы по умолчанию.
func (c *Client) PageSize() int {
	return c.pageSize
}

type itemDTO struct {
	ItemID        json.Number `json:"item_id"`
	ItemName      string      `json:"item_name"`
	Price         int64       `json:"price"`
	Category      string      `json:"category"`
	Description   string      `json:"description"`
	ImageURL      string      `json:"image_url"`
	Images        []string    `json:"images"`
	StockQuantity int         `json:"stock_quantity"`
}

type listResponse struct {
	TotalCount int       `json:"total_count"`
	Items      []itemDTO `json:"items"`
}

// FetchBatch возвращает страницу товаров (page с 1).
func (c *Client) FetchBatch(ctx context.Context, f Filter, page, pageSize int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = c.pageSize
	}

	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	if f.Keyword != "" {
		q.Set("keyword", f.Keyword)
	}
	if f.Category != "" {
		q.Set("category", f.Category)
	}

	body, err := c.get(ctx, c.baseURL+"/getItemList?"+q.Encode())
	if err != nil {
		return Page{}, fmt.Errorf("fetch batch page %d: %w", page, err)
	}

	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Page{}, domain.Errorf(domain.ErrorKindTransient, "fetch batch page %d: parse: %v", page, err)
	}

	items := make([]domain.SourceItem, 0, len(resp.Items))
	for _, dto := range resp.Items {
		items = append(items, dto.toDomain())
	}
	return Page{Items: items, TotalCount: resp.TotalCount}, nil
}

// FetchAsset скачивает изображение товара.
func (c *Client) FetchAsset(ctx context.Context, assetURL string) ([]byte, error) {
	if _, err := url.ParseRequestURI(assetURL); err != nil {
		return nil, domain.Errorf(domain.ErrorKindFatal, "fetch asset: invalid url %q", assetURL)
	}
	body, err := c.get(ctx, assetURL)
	if err != nil {
		return nil, fmt.Errorf("fetch asset: %w", err)
	}
	return body, nil
}

// AssetName возвращает имя файла изображения по URL.
func AssetName(assetURL string) string {
	u, err := url.Parse(assetURL)
	if err != nil {
		return "image.jpg"
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "image.jpg"
	}
	return name
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, domain.NewError(domain.ErrorKindFatal, err)
	}
	req.Header.Set("User-Agent", connector.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, connector.ClassifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetSize))
	if err != nil {
		return nil, connector.ClassifyTransport(ctx, err)
	}
	if !connector.IsSuccess(resp.StatusCode) {
		c.logger.Warn("catalog request failed", "status", resp.StatusCode)
		return nil, connector.ClassifyStatus(resp.StatusCode, body)
	}
	return body, nil
}

func (d itemDTO) toDomain() domain.SourceItem {
	images := d.Images
	if len(images) == 0 && d.ImageURL != "" {
		images = []string{d.ImageURL}
	}
	return domain.SourceItem{
		ID:          d.ItemID.String(),
		Name:        d.ItemName,
		Description: d.Description,
		Price:       d.Price,
		Category:    d.Category,
		Images:      images,
		Stock:       d.StockQuantity,
	}
}

package maxdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/stocksync_backend/utils"
	"github.com/sirupsen/logrus"
)

// Business rule: every product query must carry saldoEstoque=positivo so
// only sellable stock reaches the rest of the system. Not configurable
// per call.
const (
	positiveStockParam = "saldoEstoque"
	positiveStockValue = "positivo"
)

const (
	defaultPageLimit = 1000
	pageDelay        = 200 * time.Millisecond
	retryDelay       = time.Second
	maxPageAttempts  = 3
)

// Client talks to the Max Data catalog API. Tokens are per tenant and
// injected externally (the token cache owns refresh); the client only
// looks one up per request.
type Client struct {
	baseURL   string
	http      *http.Client
	logger    *logrus.Logger
	pageRetry utils.RetryPolicy
	pageDelay time.Duration

	mu     sync.RWMutex
	tokens map[int]string
}

func NewClient(logger *logrus.Logger) *Client {
	baseURL := strings.TrimSpace(os.Getenv("MAX_DATA_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://rds.skytins.com.br:13345/v2"
	}
	timeout := time.Duration(intFromEnv("MAX_DATA_TIMEOUT_SECONDS", 30)) * time.Second

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
		pageRetry: utils.RetryPolicy{
			MaxAttempts: maxPageAttempts,
			Delay:       time.Duration(intFromEnv("MAX_DATA_RETRY_DELAY_MS", int(retryDelay/time.Millisecond))) * time.Millisecond,
		},
		pageDelay: time.Duration(intFromEnv("MAX_DATA_PAGE_DELAY_MS", int(pageDelay/time.Millisecond))) * time.Millisecond,
		tokens:    make(map[int]string),
	}
}

// SetAuthTokens replaces the whole per-tenant token table.
func (c *Client) SetAuthTokens(tokens map[int]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = make(map[int]string, len(tokens))
	for empId, token := range tokens {
		c.tokens[empId] = token
	}
}

func (c *Client) authToken(empId int) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens[empId]
}

// HasToken reports whether a bearer token is configured for the tenant.
func (c *Client) HasToken(empId int) bool {
	return c.authToken(empId) != ""
}

func (c *Client) get(ctx context.Context, empId int, path string, params url.Values) ([]byte, string, error) {
	token := c.authToken(empId)
	if token == "" {
		return nil, "", &AuthenticationError{EmpId: empId}
	}

	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return nil, "", &TimeoutError{URL: endpoint, Err: err}
		}
		return nil, "", &TransportError{URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &RemoteError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func productParams(page, limit int) url.Values {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set(positiveStockParam, positiveStockValue)
	params.Set("page", strconv.Itoa(page))
	return params
}

// GetProductsPage fetches one page of the tenant's catalog listing.
func (c *Client) GetProductsPage(ctx context.Context, empId, page, limit int) (*ProductPage, error) {
	body, _, err := c.get(ctx, empId, "product", productParams(page, limit))
	if err != nil {
		return nil, err
	}

	decoded := decodeList(body)
	switch decoded.shape {
	case shapePaginated:
	case shapePlainArray:
		return nil, &MalformedResponseError{Reason: "expected paginated envelope, got bare array"}
	default:
		return nil, &MalformedResponseError{Reason: decoded.reason}
	}

	items, err := decodeDocs[Product](decoded.envelope.Docs)
	if err != nil {
		return nil, &MalformedResponseError{Reason: "docs entry: " + err.Error()}
	}

	result := &ProductPage{Items: items, Page: page, Pages: 1}
	if decoded.envelope.Total != nil {
		result.Total = *decoded.envelope.Total
	}
	if decoded.envelope.Limit != nil {
		result.Limit = *decoded.envelope.Limit
	}
	if decoded.envelope.Page != nil && *decoded.envelope.Page > 0 {
		result.Page = *decoded.envelope.Page
	}
	if decoded.envelope.Pages != nil && *decoded.envelope.Pages > 0 {
		result.Pages = *decoded.envelope.Pages
	}
	return result, nil
}

// GetAllProducts drives GetProductsPage from page 1 until the last page
// the remote side reports. Each page gets up to 3 attempts with a fixed
// short delay; exhausting the budget aborts the whole fetch and discards
// everything accumulated for the tenant. A small delay between pages
// keeps the load on the ERP bounded.
func (c *Client) GetAllProducts(ctx context.Context, empId int) ([]Product, error) {
	if empId <= 0 {
		return nil, fmt.Errorf("invalid tenant id: %d", empId)
	}
	if !c.HasToken(empId) {
		return nil, &AuthenticationError{EmpId: empId}
	}

	var all []Product
	page := 1
	for {
		var resp *ProductPage
		err := utils.Retry(ctx, c.pageRetry, func() error {
			r, pageErr := c.GetProductsPage(ctx, empId, page, defaultPageLimit)
			if pageErr != nil {
				c.logger.WithFields(logrus.Fields{
					"empId": empId,
					"page":  page,
				}).Warn("catalog page fetch failed: ", pageErr.Error())
				return pageErr
			}
			resp = r
			return nil
		})
		if err != nil {
			return nil, err
		}

		all = append(all, resp.Items...)

		if resp.Page >= resp.Pages {
			break
		}
		page = resp.Page + 1
		if err := utils.SleepContext(ctx, c.pageDelay); err != nil {
			return nil, err
		}
	}

	c.logger.WithFields(logrus.Fields{
		"empId": empId,
		"total": len(all),
	}).Info("catalog fetch complete")
	return all, nil
}

// GetProduct fetches a single product by id.
func (c *Client) GetProduct(ctx context.Context, empId, productId int) (*Product, error) {
	params := url.Values{}
	params.Set(positiveStockParam, positiveStockValue)
	body, _, err := c.get(ctx, empId, "product/"+strconv.Itoa(productId), params)
	if err != nil {
		return nil, err
	}
	var product Product
	if err := unmarshalObject(body, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductByEan fetches a single product by barcode.
func (c *Client) GetProductByEan(ctx context.Context, empId int, ean string) (*Product, error) {
	params := url.Values{}
	params.Set(positiveStockParam, positiveStockValue)
	body, _, err := c.get(ctx, empId, "product/ean/"+url.PathEscape(ean), params)
	if err != nil {
		return nil, err
	}
	var product Product
	if err := unmarshalObject(body, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

// GetGroups fetches product categories. The endpoint sometimes answers
// with the paginated envelope and sometimes with a bare array; both are
// accepted, anything else yields an empty list with a warning.
func (c *Client) GetGroups(ctx context.Context, empId int) ([]Group, error) {
	body, _, err := c.get(ctx, empId, "product/groups", nil)
	if err != nil {
		return nil, err
	}
	return decodeGroupList[Group](c.logger, "groups", body)
}

// GetSubGroups fetches product subcategories, same shape tolerance as
// GetGroups.
func (c *Client) GetSubGroups(ctx context.Context, empId int) ([]SubGroup, error) {
	body, _, err := c.get(ctx, empId, "product/subgroups", nil)
	if err != nil {
		return nil, err
	}
	return decodeGroupList[SubGroup](c.logger, "subgroups", body)
}

// GetProductImage fetches the raw image bytes for a product, returning
// the payload and its content type.
func (c *Client) GetProductImage(ctx context.Context, empId, productId int) ([]byte, string, error) {
	return c.get(ctx, empId, "product/"+strconv.Itoa(productId)+"/image", nil)
}

// TestConnection probes the listing endpoint with a one-item page.
func (c *Client) TestConnection(ctx context.Context, empId int) bool {
	_, err := c.GetProductsPage(ctx, empId, 1, 1)
	return err == nil
}

// GetProductStats probes the first page for totals without walking the
// whole catalog. Failures degrade to zero stats, never an error.
func (c *Client) GetProductStats(ctx context.Context, empId int) CatalogStats {
	firstPage, err := c.GetProductsPage(ctx, empId, 1, 1)
	if err != nil {
		c.logger.WithFields(logrus.Fields{"empId": empId}).Warn("catalog stats probe failed: ", err.Error())
		return CatalogStats{}
	}
	return CatalogStats{
		TotalProducts: firstPage.Total,
		TotalPages:    firstPage.Pages,
		HasConnection: true,
	}
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func decodeGroupList[T any](logger *logrus.Logger, name string, body []byte) ([]T, error) {
	decoded := decodeList(body)
	switch decoded.shape {
	case shapePaginated:
		return decodeDocs[T](decoded.envelope.Docs)
	case shapePlainArray:
		return decodeDocs[T](decoded.plainDocs)
	default:
		logger.Warn("unexpected ", name, " response shape: ", decoded.reason)
		return []T{}, nil
	}
}

// Package api talks to the storefront backend: badge count fetches and the
// cart and wishlist mutation endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/utafrali/storefront/internal/domain"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httpclient"
	"github.com/utafrali/storefront/pkg/tracing"
	"github.com/utafrali/storefront/pkg/validator"
)

const tracerName = "storefront-agent/api"

// maxCountBody bounds a count response body.
const maxCountBody = 64 << 10

var errNotJSON = errors.New("response is not application/json")

// Storefront mutation and listing endpoints.
const (
	PathCartAdd                = "/cart/add"
	PathCartUpdate             = "/cart/update"
	PathCartRemove             = "/cart/remove-ajax"
	PathCartAddMultiple        = "/cart/add-multiple"
	PathCartItems              = "/cart/items"
	PathWishlistAdd            = "/wishlist/add"
	PathWishlistRemove         = "/wishlist/remove"
	PathWishlistRemoveMultiple = "/wishlist/remove-multiple"
	PathWishlistSync           = "/wishlist/sync"
	PathWishlistItems          = "/wishlist/items-json"
	PathSessionUsername        = "/api/session-username"
)

// DefaultCSRFHeader is used when neither the page nor the config names one.
const DefaultCSRFHeader = "X-CSRF-TOKEN"

// SessionExpiryHook is called once per request that fails with an expired
// session, before the error is returned.
type SessionExpiryHook func(ctx context.Context, err error)

// Config configures a Client.
type Config struct {
	BaseURL string
	// CSRFHeader is the header name used when the page meta does not set one.
	CSRFHeader string
	// CSRFToken is used when the page carries no _csrf meta tag.
	CSRFToken string
}

// Client calls the storefront mutation and listing endpoints. Requests carry
// the page's CSRF token, JSON bodies and the session cookies held by the
// underlying HTTP client's jar. Retries happen in the HTTP client.
type Client struct {
	cfg      Config
	doer     httpclient.Doer
	identity *IdentityResolver
	logger   *slog.Logger

	mu        sync.RWMutex
	onExpired SessionExpiryHook
}

// NewClient creates a mutation client. doer is normally a *httpclient.Client
// configured not to follow redirects.
func NewClient(cfg Config, doer httpclient.Doer, identity *IdentityResolver, logger *slog.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.CSRFHeader == "" {
		cfg.CSRFHeader = DefaultCSRFHeader
	}
	return &Client{
		cfg:      cfg,
		doer:     doer,
		identity: identity,
		logger:   logger,
	}
}

// OnSessionExpired installs the hook run on session expiry.
func (c *Client) OnSessionExpired(hook SessionExpiryHook) {
	c.mu.Lock()
	c.onExpired = hook
	c.mu.Unlock()
}

// Inputs validated before any request is made.
type itemInput struct {
	ProductID domain.ID `json:"productId" validate:"required"`
	Quantity  int       `json:"quantity,omitempty" validate:"gte=1,lte=999"`
}

type productInput struct {
	ProductID domain.ID `json:"productId" validate:"required"`
}

type productsInput struct {
	ProductIDs []domain.ID `json:"productIds" validate:"required,min=1,dive,required"`
}

// AddToCart adds quantity units of a product to the cart.
func (c *Client) AddToCart(ctx context.Context, productID domain.ID, quantity int) (*domain.MutationResult, error) {
	return c.mutate(ctx, PathCartAdd, itemInput{ProductID: productID, Quantity: quantity})
}

// UpdateCartItem sets the quantity of a cart line.
func (c *Client) UpdateCartItem(ctx context.Context, productID domain.ID, quantity int) (*domain.MutationResult, error) {
	return c.mutate(ctx, PathCartUpdate, itemInput{ProductID: productID, Quantity: quantity})
}

// RemoveFromCart removes a product from the cart.
func (c *Client) RemoveFromCart(ctx context.Context, productID domain.ID) (*domain.MutationResult, error) {
	return c.mutate(ctx, PathCartRemove, productInput{ProductID: productID})
}

// AddMultipleToCart adds one unit of each product.
func (c *Client) AddMultipleToCart(ctx context.Context, productIDs []domain.ID) (*domain.MutationResult, error) {
	return c.mutate(ctx, PathCartAddMultiple, productsInput{ProductIDs: productIDs})
}

// AddToWishlist saves a product to the wishlist.
func (c *Client) AddToWishlist(ctx context.Context, productID domain.ID) (*domain.MutationResult, error) {
	return c.mutate(ctx, PathWishlistAdd, productInput{ProductID: productID})
}

// RemoveFromWishlist drops a product from the wishlist.
func (c *Client) RemoveFromWishlist(ctx context.Context, productID domain.ID) (*domain.MutationResult, error) {
	return c.mutate(ctx, PathWishlistRemove, productInput{ProductID: productID})
}

// RemoveMultipleFromWishlist drops several products at once.
func (c *Client) RemoveMultipleFromWishlist(ctx context.Context, productIDs []domain.ID) (*domain.MutationResult, error) {
	return c.mutate(ctx, PathWishlistRemoveMultiple, productsInput{ProductIDs: productIDs})
}

// SyncWishlist uploads offline wishlist items to the shopper's account.
func (c *Client) SyncWishlist(ctx context.Context, items []domain.WishlistItem) (*domain.MutationResult, error) {
	if len(items) == 0 {
		return nil, apperrors.InvalidInput("no wishlist items to sync")
	}
	var out domain.MutationResult
	if err := c.do(ctx, http.MethodPost, PathWishlistSync, items, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, rejected(PathWishlistSync, out.Message)
	}
	return &out, nil
}

func (c *Client) mutate(ctx context.Context, path string, in any) (*domain.MutationResult, error) {
	if err := validator.Validate(in); err != nil {
		return nil, err
	}
	var out domain.MutationResult
	if err := c.do(ctx, http.MethodPost, path, in, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, rejected(path, out.Message)
	}
	return &out, nil
}

func rejected(path, message string) error {
	if message == "" {
		message = "request rejected"
	}
	return &apperrors.ClientError{Op: http.MethodPost + " " + path, Status: http.StatusOK, Message: message}
}

type cartItemsResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    *struct {
		Items []domain.CartItem `json:"items"`
	} `json:"data"`
}

// CartItems lists the cart.
func (c *Client) CartItems(ctx context.Context) ([]domain.CartItem, error) {
	var out cartItemsResponse
	if err := c.do(ctx, http.MethodGet, PathCartItems, nil, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, &apperrors.ClientError{Op: http.MethodGet + " " + PathCartItems, Status: http.StatusOK, Message: out.Message}
	}
	if out.Data == nil {
		return []domain.CartItem{}, nil
	}
	return out.Data.Items, nil
}

type wishlistItemsResponse struct {
	Success bool                  `json:"success"`
	Message string                `json:"message"`
	Data    []domain.WishlistItem `json:"data"`
}

// WishlistItems lists the wishlist.
func (c *Client) WishlistItems(ctx context.Context) ([]domain.WishlistItem, error) {
	var out wishlistItemsResponse
	if err := c.do(ctx, http.MethodGet, PathWishlistItems, nil, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, &apperrors.ClientError{Op: http.MethodGet + " " + PathWishlistItems, Status: http.StatusOK, Message: out.Message}
	}
	if out.Data == nil {
		return []domain.WishlistItem{}, nil
	}
	return out.Data, nil
}

// SessionUsername asks the storefront who is logged in. It returns "" for
// anonymous sessions.
func (c *Client) SessionUsername(ctx context.Context) (string, error) {
	var out struct {
		Username string `json:"username"`
	}
	if err := c.do(ctx, http.MethodGet, PathSessionUsername, nil, &out); err != nil {
		return "", err
	}
	if !domain.IsIdentity(out.Username) {
		return "", nil
	}
	return strings.TrimSpace(out.Username), nil
}

// do sends one JSON request and decodes the response into out. Session
// expiry runs the hook before the error is returned.
func (c *Client) do(ctx context.Context, method, path string, in, out any) (err error) {
	op := method + " " + path

	var body *bytes.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	var req *http.Request
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, http.NoBody)
	}
	if err != nil {
		return fmt.Errorf("build %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setCSRF(req)

	ctx, span := tracing.StartClientSpan(ctx, tracing.Tracer(tracerName), op, req)
	defer func() { tracing.EndSpan(span, err) }()

	resp, err := c.doer.Do(ctx, req)
	if err == nil {
		err = httpclient.DecodeJSON(resp, op, out)
	}
	if err != nil {
		c.handleFailure(ctx, op, err)
		return err
	}
	return nil
}

func (c *Client) setCSRF(req *http.Request) {
	var page domain.Page
	if c.identity != nil {
		page = c.identity.Page()
	}
	if header, token, ok := page.CSRF(c.cfg.CSRFHeader); ok {
		req.Header.Set(header, token)
		return
	}
	if c.cfg.CSRFToken != "" {
		req.Header.Set(c.cfg.CSRFHeader, c.cfg.CSRFToken)
	}
}

func (c *Client) handleFailure(ctx context.Context, op string, err error) {
	if !apperrors.IsSessionExpired(err) {
		c.logger.WarnContext(ctx, "storefront request failed",
			slog.String("op", op),
			slog.Int("status", apperrors.StatusOf(err)),
			slog.String("error", err.Error()),
		)
		return
	}

	c.logger.WarnContext(ctx, "storefront session expired", slog.String("op", op))
	c.mu.RLock()
	hook := c.onExpired
	c.mu.RUnlock()
	if hook != nil {
		hook(ctx, err)
	}
}

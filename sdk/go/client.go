package armorysdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBasePath is the API prefix a server uses unless server.base_path
// says otherwise.
const DefaultBasePath = "/v0"

// Client is a minimal Armory HTTP API client.
type Client struct {
	BaseURL string
	// BasePath must match the server's server.base_path. Empty means
	// DefaultBasePath.
	BasePath    string
	APIKey      string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no other credential is set. Servers
	// only honor it with --allow-actor-header.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: DefaultBasePath,
		Timeout:  10 * time.Second,
	}
}

// Armor is one component record. Fields a kind does not carry are nil.
type Armor struct {
	Kind           string `json:"kind"`
	Damaged        *bool  `json:"damaged,omitempty"`
	PowerRemaining *int   `json:"power_remaining,omitempty"`
	Count          *int   `json:"count,omitempty"`
	Connected      *bool  `json:"connected,omitempty"`
	Version        int    `json:"version"`
}

// Suit is a suit with its armor, newest first.
type Suit struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Version   int     `json:"version"`
	Size      int     `json:"size"`
	Armor     []Armor `json:"armor"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// Head is the result of a pop or peek; Armor is nil when the suit is empty.
type Head struct {
	Found bool   `json:"found"`
	Armor *Armor `json:"armor,omitempty"`
}

type Compatibility struct {
	SuitID     string `json:"suit_id"`
	Version    int    `json:"version"`
	Size       int    `json:"size"`
	Compatible bool   `json:"compatible"`
}

type RepairReport struct {
	SuitID   string `json:"suit_id"`
	Repaired int    `json:"repaired"`
	Suit     Suit   `json:"suit"`
}

// Event represents a log entry.
type Event struct {
	ID      int64          `json:"id"`
	TS      string         `json:"ts"`
	Type    string         `json:"type"`
	SuitID  string         `json:"suit_id"`
	ActorID string         `json:"actor_id"`
	Payload map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateSuitInput holds optional create parameters.
type CreateSuitInput struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	Version *int   `json:"version,omitempty"`
}

// PushArmorInput describes a component to push.
type PushArmorInput struct {
	Kind           string `json:"kind"`
	Damaged        bool   `json:"damaged,omitempty"`
	PowerRemaining int    `json:"power_remaining,omitempty"`
	Count          int    `json:"count,omitempty"`
	Connected      bool   `json:"connected,omitempty"`
	Version        int    `json:"version"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) CreateSuit(ctx context.Context, in CreateSuitInput) (Suit, error) {
	var resp Suit
	err := c.do(ctx, http.MethodPost, "suits", in, &resp)
	return resp, err
}

func (c *Client) GetSuit(ctx context.Context, id string) (Suit, error) {
	var resp Suit
	err := c.do(ctx, http.MethodGet, suitPath(id, ""), nil, &resp)
	return resp, err
}

func (c *Client) ListSuits(ctx context.Context) ([]Suit, error) {
	var resp []Suit
	err := c.do(ctx, http.MethodGet, "suits", nil, &resp)
	return resp, err
}

func (c *Client) DeleteSuit(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, suitPath(id, ""), nil, nil)
}

// PushArmor pushes a component and returns the updated suit.
func (c *Client) PushArmor(ctx context.Context, suitID string, in PushArmorInput) (Suit, error) {
	var resp Suit
	err := c.do(ctx, http.MethodPost, suitPath(suitID, "armor"), in, &resp)
	return resp, err
}

func (c *Client) PopArmor(ctx context.Context, suitID string) (Head, error) {
	var resp Head
	err := c.do(ctx, http.MethodDelete, suitPath(suitID, "armor/head"), nil, &resp)
	return resp, err
}

func (c *Client) PeekArmor(ctx context.Context, suitID string) (Head, error) {
	var resp Head
	err := c.do(ctx, http.MethodGet, suitPath(suitID, "armor/head"), nil, &resp)
	return resp, err
}

func (c *Client) Compatibility(ctx context.Context, suitID string) (Compatibility, error) {
	var resp Compatibility
	err := c.do(ctx, http.MethodGet, suitPath(suitID, "compatibility"), nil, &resp)
	return resp, err
}

func (c *Client) Repair(ctx context.Context, suitID string) (RepairReport, error) {
	var resp RepairReport
	err := c.do(ctx, http.MethodPost, suitPath(suitID, "repair"), nil, &resp)
	return resp, err
}

// Events returns a page of events, newest first. Pass the previous
// NextCursor to continue.
func (c *Client) Events(ctx context.Context, suitID string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if suitID != "" {
		q.Set("suit_id", suitID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func suitPath(id, sub string) string {
	p := "suits/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func (c *Client) base() string {
	basePath := strings.Trim(c.BasePath, "/")
	if c.BasePath == "" {
		basePath = strings.Trim(DefaultBasePath, "/")
	}
	base := strings.TrimRight(c.BaseURL, "/")
	if basePath == "" {
		return base
	}
	return base + "/" + basePath
}

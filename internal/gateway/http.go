package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"payment-reconciler/internal/models"
)

const macVersion = "1"

// HTTPConfig configures the HTTP gateway client.
type HTTPConfig struct {
	BaseURL string
	UserID  string
	// Secret is the base64 encoded authentication key.
	Secret  string
	Timeout time.Duration
}

// HTTPClient talks to the gateway's JSON API with MAC-signed requests.
type HTTPClient struct {
	base   *url.URL
	userID string
	secret []byte
	http   *http.Client
	now    func() time.Time
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient validates cfg and builds a client. Requests are never retried:
// a repeated capture or refund is not safe to issue blindly.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("gateway base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse gateway base url")
	}
	secret, err := base64.StdEncoding.DecodeString(cfg.Secret)
	if err != nil {
		return nil, errors.WithHint(errors.Wrap(err, "decode gateway secret"),
			"the gateway secret must be the base64 key shown in the gateway's application user settings")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		base:   base,
		userID: cfg.UserID,
		secret: secret,
		http:   &http.Client{Timeout: timeout},
		now:    time.Now,
	}, nil
}

type wireLabel struct {
	Descriptor struct {
		ID json.Number `json:"id"`
	} `json:"descriptor"`
	ContentAsString string `json:"contentAsString"`
}

type wireOperation struct {
	ID            int64 `json:"id"`
	FailureReason *struct {
		Description map[string]string `json:"description"`
	} `json:"failureReason"`
	Labels []wireLabel      `json:"labels"`
	Amount *decimal.Decimal `json:"amount"`
}

func (w wireOperation) operation() Operation {
	op := Operation{ID: w.ID, Labels: make(models.Labels, 0, len(w.Labels))}
	if w.FailureReason != nil && len(w.FailureReason.Description) > 0 {
		op.FailureReason = models.FailureReason(w.FailureReason.Description)
	}
	for _, l := range w.Labels {
		op.Labels = append(op.Labels, models.Label{ID: l.Descriptor.ID.String(), Value: l.ContentAsString})
	}
	if w.Amount != nil {
		op.Amount = decimal.NewNullDecimal(*w.Amount)
	}
	return op
}

type wireReduction struct {
	LineItemUniqueID   string          `json:"lineItemUniqueId"`
	QuantityReduction  decimal.Decimal `json:"quantityReduction"`
	UnitPriceReduction decimal.Decimal `json:"unitPriceReduction"`
}

type wireRefund struct {
	ExternalID  string          `json:"externalId"`
	Transaction int64           `json:"transaction"`
	Type        string          `json:"type"`
	Reductions  []wireReduction `json:"reductions"`
}

func (c *HTTPClient) Capture(ctx context.Context, spaceID, transactionID int64) (Operation, error) {
	var out wireOperation
	q := url.Values{"spaceId": {strconv.FormatInt(spaceID, 10)}, "id": {strconv.FormatInt(transactionID, 10)}}
	if err := c.do(ctx, "/api/transaction-completion/completeOnline", q, nil, &out); err != nil {
		return Operation{}, err
	}
	return out.operation(), nil
}

func (c *HTTPClient) Void(ctx context.Context, spaceID, transactionID int64) (Operation, error) {
	var out wireOperation
	q := url.Values{"spaceId": {strconv.FormatInt(spaceID, 10)}, "id": {strconv.FormatInt(transactionID, 10)}}
	if err := c.do(ctx, "/api/transaction-void/voidOnline", q, nil, &out); err != nil {
		return Operation{}, err
	}
	return out.operation(), nil
}

func (c *HTTPClient) Refund(ctx context.Context, spaceID int64, req RefundRequest) (Operation, error) {
	typ := req.Type
	if typ == "" {
		typ = RefundTypeMerchantInitiatedOnline
	}
	body := wireRefund{
		ExternalID:  req.ExternalID,
		Transaction: req.TransactionID,
		Type:        typ,
		Reductions:  make([]wireReduction, 0, len(req.Reductions)),
	}
	for _, r := range req.Reductions {
		body.Reductions = append(body.Reductions, wireReduction{
			LineItemUniqueID:   r.LineItemID,
			QuantityReduction:  r.QuantityReduction,
			UnitPriceReduction: r.UnitPriceReduction,
		})
	}
	var out wireOperation
	q := url.Values{"spaceId": {strconv.FormatInt(spaceID, 10)}}
	if err := c.do(ctx, "/api/refund/refund", q, body, &out); err != nil {
		return Operation{}, err
	}
	return out.operation(), nil
}

// CountOpenManualTasks counts the space's manual tasks in state OPEN.
func (c *HTTPClient) CountOpenManualTasks(ctx context.Context, spaceID int64) (int64, error) {
	filter := map[string]any{
		"fieldName": "state",
		"operator":  "EQUALS",
		"type":      "LEAF",
		"value":     "OPEN",
	}
	var n int64
	q := url.Values{"spaceId": {strconv.FormatInt(spaceID, 10)}}
	if err := c.do(ctx, "/api/manual-task/count", q, filter, &n); err != nil {
		return 0, err
	}
	return n, nil
}

type wireError struct {
	Message string `json:"message"`
}

func (c *HTTPClient) do(ctx context.Context, path string, query url.Values, body, out any) error {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()

	var payload io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode gateway request")
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), payload)
	if err != nil {
		return errors.Wrap(err, "build gateway request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.sign(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "call gateway %s", path)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "read gateway response %s", path)
	}

	switch {
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		// Not an answer about the operation; the job stays as it was.
		return errors.Newf("gateway %s: transient status %d", path, resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg := http.StatusText(resp.StatusCode)
		var we wireError
		if json.Unmarshal(raw, &we) == nil && we.Message != "" {
			msg = we.Message
		}
		return &RejectionError{StatusCode: resp.StatusCode, Message: msg}
	case resp.StatusCode >= 300 || resp.StatusCode < 200:
		return errors.Newf("gateway %s: unexpected status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(err, "decode gateway response %s", path)
	}
	return nil
}

// sign adds the MAC authentication headers: an HMAC-SHA512 over
// version|user|timestamp|method|path?query keyed with the decoded secret.
func (c *HTTPClient) sign(req *http.Request) {
	ts := strconv.FormatInt(c.now().Unix(), 10)
	payload := strings.Join([]string{macVersion, c.userID, ts, req.Method, req.URL.RequestURI()}, "|")
	mac := hmac.New(sha512.New, c.secret)
	mac.Write([]byte(payload))
	req.Header.Set("x-mac-version", macVersion)
	req.Header.Set("x-mac-userid", c.userID)
	req.Header.Set("x-mac-timestamp", ts)
	req.Header.Set("x-mac-value", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

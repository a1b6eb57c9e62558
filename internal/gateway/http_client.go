package gateway

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rongwang/fundchain-server/internal/metrics"
	"github.com/rongwang/fundchain-server/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/crypto/sha3"
)

const maxResponseBytes = 1 << 20

// HTTPClient talks JSON to the blockchain gateway service
type HTTPClient struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	log        logrus.FieldLogger
}

// NewHTTPClient creates a gateway client. Each call is bounded by timeout.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, log logrus.FieldLogger) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		timeout:    timeout,
		httpClient: &http.Client{},
		log:        log,
	}
}

// IdempotencyKey derives the key sent alongside a signed payload
func IdempotencyKey(signedTx string) string {
	sum := sha3.Sum256([]byte(signedTx))
	return hex.EncodeToString(sum[:])
}

func (c *HTTPClient) GenerateOrgWalletTx(ctx context.Context, orgID int64) (UnsignedTx, error) {
	return c.unsigned(ctx, "generate_org_wallet", "/wallet/organization", map[string]interface{}{
		"organization_id": orgID,
	})
}

func (c *HTTPClient) GenerateProjectWalletTx(ctx context.Context, projectID int64) (UnsignedTx, error) {
	return c.unsigned(ctx, "generate_project_wallet", "/wallet/project", map[string]interface{}{
		"project_id": projectID,
	})
}

func (c *HTTPClient) GenerateMintTx(ctx context.Context, toWalletHash string, amount decimal.Decimal) (UnsignedTx, error) {
	return c.unsigned(ctx, "generate_mint", "/token/mint", map[string]interface{}{
		"to":     toWalletHash,
		"amount": amount,
	})
}

func (c *HTTPClient) GenerateBurnApprovalTx(ctx context.Context, fromWalletHash string, amount decimal.Decimal) (UnsignedTx, error) {
	return c.unsigned(ctx, "generate_burn_approval", "/token/burn/approve", map[string]interface{}{
		"from":   fromWalletHash,
		"amount": amount,
	})
}

func (c *HTTPClient) GenerateBurnTx(ctx context.Context, approvalTxHash string, amount decimal.Decimal) (UnsignedTx, error) {
	return c.unsigned(ctx, "generate_burn", "/token/burn", map[string]interface{}{
		"approval_tx_hash": approvalTxHash,
		"amount":           amount,
	})
}

func (c *HTTPClient) GenerateInvestAllowanceTx(ctx context.Context, projectHash string, amount decimal.Decimal) (UnsignedTx, error) {
	return c.unsigned(ctx, "generate_invest_allowance", "/invest/allowance", map[string]interface{}{
		"project": projectHash,
		"amount":  amount,
	})
}

func (c *HTTPClient) GenerateInvestConfirmTx(ctx context.Context, projectHash, investorHash string, amount decimal.Decimal) (UnsignedTx, error) {
	return c.unsigned(ctx, "generate_invest_confirm", "/invest/confirm", map[string]interface{}{
		"project":  projectHash,
		"investor": investorHash,
		"amount":   amount,
	})
}

// PostTransaction relays a signed payload and returns the resulting transaction hash
func (c *HTTPClient) PostTransaction(ctx context.Context, signedTx string, txType models.TransactionType) (string, error) {
	const op = "post_transaction"
	headers := map[string]string{"Idempotency-Key": IdempotencyKey(signedTx)}
	raw, err := c.do(ctx, op, http.MethodPost, "/transaction", map[string]interface{}{
		"data": signedTx,
		"type": txType,
	}, headers)
	if err != nil {
		return "", err
	}

	hash := gjson.GetBytes(raw, "tx_hash").String()
	if hash == "" {
		return "", &Error{Op: op, Message: "response has no tx_hash"}
	}
	c.log.WithFields(logrus.Fields{"type": txType, "tx_hash": hash}).Info("transaction posted")
	return hash, nil
}

// GetBalance returns the token balance held by a wallet
func (c *HTTPClient) GetBalance(ctx context.Context, walletHash string) (decimal.Decimal, error) {
	const op = "get_balance"
	raw, err := c.do(ctx, op, http.MethodGet, "/balance/"+url.PathEscape(walletHash), nil, nil)
	if err != nil {
		return decimal.Zero, err
	}

	field := gjson.GetBytes(raw, "balance")
	if !field.Exists() {
		return decimal.Zero, &Error{Op: op, Message: "response has no balance"}
	}
	balance, err := decimal.NewFromString(field.String())
	if err != nil {
		return decimal.Zero, &Error{Op: op, Message: "malformed balance", Err: err}
	}
	return balance, nil
}

func (c *HTTPClient) unsigned(ctx context.Context, op, path string, body interface{}) (UnsignedTx, error) {
	raw, err := c.do(ctx, op, http.MethodPost, path, body, nil)
	if err != nil {
		return UnsignedTx{}, err
	}

	data := gjson.GetBytes(raw, "tx").String()
	if data == "" {
		return UnsignedTx{}, &Error{Op: op, Message: "response has no tx"}
	}
	return UnsignedTx{Data: data}, nil
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, body interface{}, headers map[string]string) (raw []byte, err error) {
	start := time.Now()
	defer func() { metrics.GatewayCall(op, time.Since(start), err) }()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &Error{Op: op, Err: fmt.Errorf("failed to encode request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.log.WithField("op", op).Warn("gateway call timed out")
			return nil, &Error{Op: op, Err: ErrTimeout}
		}
		return nil, &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		msg := gjson.GetBytes(raw, "message").String()
		if msg == "" {
			msg = gjson.GetBytes(raw, "error").String()
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		c.log.WithFields(logrus.Fields{"op": op, "status": resp.StatusCode}).Warn("gateway rejected call")
		return nil, &Error{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	return raw, nil
}

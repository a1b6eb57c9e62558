package service

import (
	"context"
	"strings"

	"github.com/rongwang/fundchain-server/internal/gateway"
	"github.com/rongwang/fundchain-server/internal/metrics"
	"github.com/rongwang/fundchain-server/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Issuer lets the token issuer mint and burn directly. Nothing is tracked
// locally: the unsigned transaction goes back to the caller and the signed one is
// relayed as is.
type Issuer struct {
	gateway gateway.Gateway
	log     logrus.FieldLogger
}

func NewIssuer(gw gateway.Gateway, log logrus.FieldLogger) *Issuer {
	return &Issuer{gateway: gw, log: log}
}

// MintTx builds an unsigned mint of amount to toHash, signed by from
func (i *Issuer) MintTx(ctx context.Context, from, toHash string, amount decimal.Decimal) (gateway.UnsignedTx, error) {
	if toHash == "" {
		return gateway.UnsignedTx{}, withDetail(ErrInvalidRequest, "destination wallet is required")
	}
	if !amount.IsPositive() {
		return gateway.UnsignedTx{}, withDetail(ErrInvalidAmount, "amount must be positive")
	}

	tx, err := i.gateway.GenerateMintTx(ctx, toHash, amount)
	if err != nil {
		return gateway.UnsignedTx{}, gatewayFailure("generate mint", err)
	}
	i.log.WithFields(logrus.Fields{"from": from, "to": toHash, "amount": amount.String()}).Info("issuer mint prepared")
	return tx, nil
}

// BurnTx builds an unsigned burn of amount reserved by burnFromTxHash
func (i *Issuer) BurnTx(ctx context.Context, from, burnFromTxHash string, amount decimal.Decimal) (gateway.UnsignedTx, error) {
	if burnFromTxHash == "" {
		return gateway.UnsignedTx{}, withDetail(ErrInvalidRequest, "approval transaction hash is required")
	}
	if !amount.IsPositive() {
		return gateway.UnsignedTx{}, withDetail(ErrInvalidAmount, "amount must be positive")
	}

	tx, err := i.gateway.GenerateBurnTx(ctx, burnFromTxHash, amount)
	if err != nil {
		return gateway.UnsignedTx{}, gatewayFailure("generate burn", err)
	}
	i.log.WithFields(logrus.Fields{"from": from, "approval": burnFromTxHash, "amount": amount.String()}).Info("issuer burn prepared")
	return tx, nil
}

// Submit relays a signed issuer transaction. kind is "mint" or "burn".
func (i *Issuer) Submit(ctx context.Context, kind, signedTx string) (string, error) {
	var txType models.TransactionType
	switch strings.ToLower(kind) {
	case "mint":
		txType = models.TxMint
	case "burn":
		txType = models.TxBurn
	default:
		return "", withDetail(ErrUnknownTransactionType, "%q", kind)
	}
	if strings.TrimSpace(signedTx) == "" {
		return "", withDetail(ErrInvalidRequest, "signed transaction is empty")
	}

	hash, err := i.gateway.PostTransaction(ctx, signedTx, txType)
	if err != nil {
		metrics.Broadcast("ISSUER_"+string(txType), string(CodeGatewayFailure))
		return "", gatewayFailure("post issuer "+kind, err)
	}
	metrics.Broadcast("ISSUER_"+string(txType), "ok")
	i.log.WithFields(logrus.Fields{"type": txType, "tx_hash": hash}).Info("issuer transaction broadcast")
	return hash, nil
}

package api_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/rongwang/fundchain-server/internal/api/testutils"
	"github.com/rongwang/fundchain-server/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createDeposit(t *testing.T, testCtx *testutils.TestContext, token string) models.DepositResponse {
	t.Helper()
	w := testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/v1/deposit",
		models.CreateDepositRequest{Amount: decimal.NewFromInt(500)}, testutils.AuthHeaders(token))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp models.DepositResponse
	testutils.DecodeBody(t, w, &resp)
	return resp
}

func TestDepositLifecycle(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	walletHash := testCtx.SeedUserWallet(t, testCtx.TestUserID, 0)
	userAuth := testutils.AuthHeaders(testCtx.TestUserJWT)
	staffAuth := testutils.AuthHeaders(testCtx.StaffJWT)

	deposit := createDeposit(t, testCtx, testCtx.TestUserJWT)
	assert.Equal(t, "success", deposit.Status)
	assert.Len(t, deposit.Reference, 8)
	assert.False(t, deposit.Approved)
	assert.Nil(t, deposit.Amount)

	t.Run("SecondPendingDepositIsRejected", func(t *testing.T) {
		w := testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/v1/deposit", nil, userAuth)
		assert.Equal(t, http.StatusConflict, w.Code)

		var resp models.ErrorResponse
		testutils.DecodeBody(t, w, &resp)
		assert.Equal(t, "DUPLICATE_PENDING_DEPOSIT", resp.Code)
	})

	t.Run("PendingDepositIsListed", func(t *testing.T) {
		w := testutils.PerformRequest(testCtx.Router, http.MethodGet, "/api/v1/deposit?status=pending", nil, userAuth)
		assert.Equal(t, http.StatusOK, w.Code)

		var resp models.DepositResponse
		testutils.DecodeBody(t, w, &resp)
		assert.Equal(t, deposit.ID, resp.ID)
	})

	t.Run("MintBeforeApprovalIsRejected", func(t *testing.T) {
		w := testutils.PerformRequest(testCtx.Router, http.MethodGet,
			fmt.Sprintf("/api/v1/deposit/%d/transaction", deposit.ID), nil, staffAuth)
		assert.Equal(t, http.StatusConflict, w.Code)

		var resp models.ErrorResponse
		testutils.DecodeBody(t, w, &resp)
		assert.Equal(t, "NOT_APPROVED", resp.Code)
	})

	approvePath := fmt.Sprintf("/api/v1/deposit/%d/approve", deposit.ID)
	w := testutils.PerformRequest(testCtx.Router, http.MethodPost, approvePath,
		models.ApproveDepositRequest{Amount: decimal.NewFromInt(480), Document: "bank-statement.pdf"}, staffAuth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var approved models.DepositResponse
	testutils.DecodeBody(t, w, &approved)
	assert.True(t, approved.Approved)
	require.NotNil(t, approved.Amount)
	assert.True(t, approved.Amount.Equal(decimal.NewFromInt(480)))
	assert.NotNil(t, approved.ApprovedAt)

	t.Run("ReapprovalIsRejected", func(t *testing.T) {
		w := testutils.PerformRequest(testCtx.Router, http.MethodPost, approvePath,
			models.ApproveDepositRequest{Amount: decimal.NewFromInt(1), Document: "again.pdf"}, staffAuth)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet,
		fmt.Sprintf("/api/v1/deposit/%d/transaction", deposit.ID), nil, staffAuth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var unsigned models.UnsignedTransactionResponse
	testutils.DecodeBody(t, w, &unsigned)
	assert.Equal(t, models.TxMint, unsigned.Type)
	assert.Equal(t, "unsigned:mint:"+walletHash+":480", unsigned.Tx)
	assert.NotZero(t, unsigned.TxID)

	t.Run("OwnerCannotBroadcastStaffDescriptor", func(t *testing.T) {
		w := testutils.PerformRequest(testCtx.Router, http.MethodPost,
			fmt.Sprintf("/tx_broadcast?tx_id=%d&tx_sig=signed", unsigned.TxID), nil, userAuth)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	w = testutils.PerformRequest(testCtx.Router, http.MethodPost,
		fmt.Sprintf("/tx_broadcast?tx_id=%d&tx_sig=signed-mint", unsigned.TxID), nil, staffAuth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var broadcast models.BroadcastResponse
	testutils.DecodeBody(t, w, &broadcast)
	assert.NotEmpty(t, broadcast.TxHash)

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet,
		fmt.Sprintf("/api/v1/deposit/%d", deposit.ID), nil, userAuth)
	require.Equal(t, http.StatusOK, w.Code)

	var minted models.DepositResponse
	testutils.DecodeBody(t, w, &minted)
	require.NotNil(t, minted.TxHash)
	assert.Equal(t, broadcast.TxHash, *minted.TxHash)

	t.Run("MintedDepositCannotBeDeleted", func(t *testing.T) {
		w := testutils.PerformRequest(testCtx.Router, http.MethodDelete,
			fmt.Sprintf("/api/v1/deposit/%d", deposit.ID), nil, userAuth)
		assert.Equal(t, http.StatusConflict, w.Code)

		var resp models.ErrorResponse
		testutils.DecodeBody(t, w, &resp)
		assert.Equal(t, "CANNOT_DELETE_MINTED", resp.Code)
	})

	t.Run("MintingFreesThePendingSlot", func(t *testing.T) {
		createDeposit(t, testCtx, testCtx.TestUserJWT)

		w := testutils.PerformRequest(testCtx.Router, http.MethodGet, "/api/v1/deposit", nil, userAuth)
		assert.Equal(t, http.StatusOK, w.Code)

		var deposits []models.DepositResponse
		testutils.DecodeBody(t, w, &deposits)
		assert.Len(t, deposits, 2)
	})
}

func TestDepositWithoutWallet(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)

	w := testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/v1/deposit",
		models.CreateDepositRequest{Amount: decimal.NewFromInt(10)}, testutils.AuthHeaders(testCtx.TestUserJWT))

	assert.Equal(t, http.StatusConflict, w.Code)
	var resp models.ErrorResponse
	testutils.DecodeBody(t, w, &resp)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "WALLET_MISSING", resp.Code)
}

func TestDepositAccessIsOwnerOnly(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	testCtx.SeedUserWallet(t, testCtx.TestUserID, 0)
	deposit := createDeposit(t, testCtx, testCtx.TestUserJWT)

	stranger := testutils.AuthHeaders(testCtx.Token(t, "user-2", ""))
	path := fmt.Sprintf("/api/v1/deposit/%d", deposit.ID)

	w := testutils.PerformRequest(testCtx.Router, http.MethodGet, path, nil, stranger)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = testutils.PerformRequest(testCtx.Router, http.MethodDelete, path, nil, stranger)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, path, nil, testutils.AuthHeaders(testCtx.StaffJWT))
	assert.Equal(t, http.StatusOK, w.Code)

	w = testutils.PerformRequest(testCtx.Router, http.MethodDelete, path, nil, testutils.AuthHeaders(testCtx.TestUserJWT))
	assert.Equal(t, http.StatusOK, w.Code)

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, path, nil, testutils.AuthHeaders(testCtx.TestUserJWT))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestApproveDepositValidation(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	testCtx.SeedUserWallet(t, testCtx.TestUserID, 0)
	deposit := createDeposit(t, testCtx, testCtx.TestUserJWT)
	path := fmt.Sprintf("/api/v1/deposit/%d/approve", deposit.ID)
	staffAuth := testutils.AuthHeaders(testCtx.StaffJWT)

	// Missing document fails binding
	w := testutils.PerformRequest(testCtx.Router, http.MethodPost, path,
		map[string]interface{}{"amount": "10"}, staffAuth)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Non-positive amount
	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, path,
		models.ApproveDepositRequest{Amount: decimal.Zero, Document: "doc"}, staffAuth)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp models.ErrorResponse
	testutils.DecodeBody(t, w, &resp)
	assert.Equal(t, "INVALID_AMOUNT", resp.Code)

	// Unknown deposit
	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/v1/deposit/999/approve",
		models.ApproveDepositRequest{Amount: decimal.NewFromInt(10), Document: "doc"}, staffAuth)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMintTransactionIsReissued(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	first := mintDescriptor(t, testCtx)
	staffAuth := testutils.AuthHeaders(testCtx.StaffJWT)

	w := testutils.PerformRequest(testCtx.Router, http.MethodGet, "/api/v1/deposit", nil,
		testutils.AuthHeaders(testCtx.TestUserJWT))
	require.Equal(t, http.StatusOK, w.Code)
	var deposits []models.DepositResponse
	testutils.DecodeBody(t, w, &deposits)
	require.Len(t, deposits, 1)
	path := fmt.Sprintf("/api/v1/deposit/%d", deposits[0].ID)

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, path+"/transaction", nil, staffAuth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var again models.UnsignedTransactionResponse
	testutils.DecodeBody(t, w, &again)
	assert.Equal(t, first.TxID, again.TxID)

	// deleting the deposit withdraws its outstanding mint
	w = testutils.PerformRequest(testCtx.Router, http.MethodDelete, path, nil, testutils.AuthHeaders(testCtx.TestUserJWT))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = testutils.PerformRequest(testCtx.Router, http.MethodPost,
		fmt.Sprintf("/tx_broadcast?tx_id=%d&tx_sig=signed-mint", first.TxID), nil, staffAuth)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp models.ErrorResponse
	testutils.DecodeBody(t, w, &resp)
	assert.Equal(t, "TRANSACTION_NOT_FOUND", resp.Code)
	assert.Empty(t, testCtx.Gateway.Posted())
}

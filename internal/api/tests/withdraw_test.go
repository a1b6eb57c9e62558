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

func createWithdraw(t *testing.T, testCtx *testutils.TestContext, amount int64) models.WithdrawResponse {
	t.Helper()
	w := testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/v1/withdraw",
		models.CreateWithdrawRequest{Amount: decimal.NewFromInt(amount)}, testutils.AuthHeaders(testCtx.TestUserJWT))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp models.WithdrawResponse
	testutils.DecodeBody(t, w, &resp)
	return resp
}

func broadcast(t *testing.T, testCtx *testutils.TestContext, token string, txID int64, sig string) models.BroadcastResponse {
	t.Helper()
	w := testutils.PerformRequest(testCtx.Router, http.MethodPost,
		fmt.Sprintf("/tx_broadcast?tx_id=%d&tx_sig=%s", txID, sig), nil, testutils.AuthHeaders(token))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp models.BroadcastResponse
	testutils.DecodeBody(t, w, &resp)
	return resp
}

func TestWithdrawLifecycle(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	walletHash := testCtx.SeedUserWallet(t, testCtx.TestUserID, 1000)
	userAuth := testutils.AuthHeaders(testCtx.TestUserJWT)
	staffAuth := testutils.AuthHeaders(testCtx.StaffJWT)

	withdraw := createWithdraw(t, testCtx, 250)
	assert.True(t, withdraw.Amount.Equal(decimal.NewFromInt(250)))
	assert.Nil(t, withdraw.ApprovedTxHash)

	t.Run("SecondPendingWithdrawIsRejected", func(t *testing.T) {
		w := testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/v1/withdraw",
			models.CreateWithdrawRequest{Amount: decimal.NewFromInt(5)}, userAuth)
		assert.Equal(t, http.StatusConflict, w.Code)

		var resp models.ErrorResponse
		testutils.DecodeBody(t, w, &resp)
		assert.Equal(t, "DUPLICATE_PENDING_WITHDRAW", resp.Code)
	})

	t.Run("BurnBeforeApprovalIsRejected", func(t *testing.T) {
		w := testutils.PerformRequest(testCtx.Router, http.MethodGet,
			fmt.Sprintf("/api/v1/withdraw/%d/burn/transaction", withdraw.ID), nil, staffAuth)
		assert.Equal(t, http.StatusConflict, w.Code)

		var resp models.ErrorResponse
		testutils.DecodeBody(t, w, &resp)
		assert.Equal(t, "NOT_APPROVED_YET", resp.Code)
	})

	t.Run("OnlyOwnerRequestsApproval", func(t *testing.T) {
		w := testutils.PerformRequest(testCtx.Router, http.MethodGet,
			fmt.Sprintf("/api/v1/withdraw/%d/approval/transaction", withdraw.ID), nil, staffAuth)
		assert.Equal(t, http.StatusForbidden, w.Code)

		var resp models.ErrorResponse
		testutils.DecodeBody(t, w, &resp)
		assert.Equal(t, "NOT_OWNER", resp.Code)
	})

	w := testutils.PerformRequest(testCtx.Router, http.MethodGet,
		fmt.Sprintf("/api/v1/withdraw/%d/approval/transaction", withdraw.ID), nil, userAuth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var approval models.UnsignedTransactionResponse
	testutils.DecodeBody(t, w, &approval)
	assert.Equal(t, models.TxBurnApproval, approval.Type)
	assert.Equal(t, "unsigned:burn-approval:"+walletHash+":250", approval.Tx)

	approved := broadcast(t, testCtx, testCtx.TestUserJWT, approval.TxID, "signed-approval")

	t.Run("ApprovedWithdrawCannotBeDeleted", func(t *testing.T) {
		w := testutils.PerformRequest(testCtx.Router, http.MethodDelete,
			fmt.Sprintf("/api/v1/withdraw/%d", withdraw.ID), nil, userAuth)
		assert.Equal(t, http.StatusConflict, w.Code)

		var resp models.ErrorResponse
		testutils.DecodeBody(t, w, &resp)
		assert.Equal(t, "CANNOT_DELETE_APPROVED", resp.Code)
	})

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet,
		fmt.Sprintf("/api/v1/withdraw/%d/burn/transaction", withdraw.ID), nil, staffAuth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var burn models.UnsignedTransactionResponse
	testutils.DecodeBody(t, w, &burn)
	assert.Equal(t, models.TxBurn, burn.Type)
	assert.Equal(t, "unsigned:burn:"+approved.TxHash+":250", burn.Tx)

	burned := broadcast(t, testCtx, testCtx.StaffJWT, burn.TxID, "signed-burn")

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet,
		fmt.Sprintf("/api/v1/withdraw/%d", withdraw.ID), nil, userAuth)
	require.Equal(t, http.StatusOK, w.Code)

	var final models.WithdrawResponse
	testutils.DecodeBody(t, w, &final)
	require.NotNil(t, final.ApprovedTxHash)
	require.NotNil(t, final.BurnedTxHash)
	assert.Equal(t, approved.TxHash, *final.ApprovedTxHash)
	assert.Equal(t, burned.TxHash, *final.BurnedTxHash)
	assert.NotNil(t, final.BurnedAt)

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, "/api/v1/withdraw", nil, userAuth)
	assert.Equal(t, http.StatusOK, w.Code)
	var listed []models.WithdrawResponse
	testutils.DecodeBody(t, w, &listed)
	assert.Len(t, listed, 1)

	// burning freed the pending slot
	createWithdraw(t, testCtx, 10)
}

func TestCreateWithdrawValidation(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	testCtx.SeedUserWallet(t, testCtx.TestUserID, 0)

	w := testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/v1/withdraw",
		models.CreateWithdrawRequest{Amount: decimal.NewFromInt(-5)}, testutils.AuthHeaders(testCtx.TestUserJWT))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp models.ErrorResponse
	testutils.DecodeBody(t, w, &resp)
	assert.Equal(t, "INVALID_AMOUNT", resp.Code)

	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/v1/withdraw",
		"not-an-object", testutils.AuthHeaders(testCtx.TestUserJWT))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeletePendingWithdraw(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	testCtx.SeedUserWallet(t, testCtx.TestUserID, 0)
	withdraw := createWithdraw(t, testCtx, 40)

	w := testutils.PerformRequest(testCtx.Router, http.MethodDelete,
		fmt.Sprintf("/api/v1/withdraw/%d", withdraw.ID), nil, testutils.AuthHeaders(testCtx.TestUserJWT))
	assert.Equal(t, http.StatusOK, w.Code)

	createWithdraw(t, testCtx, 40)
}

package testutils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rongwang/fundchain-server/internal/api"
	"github.com/rongwang/fundchain-server/internal/gateway"
	"github.com/rongwang/fundchain-server/internal/models"
	"github.com/rongwang/fundchain-server/internal/notify"
	"github.com/rongwang/fundchain-server/internal/repository"
	"github.com/rongwang/fundchain-server/internal/service"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const (
	StaffRole  = "staff"
	IssuerRole = "issuer"

	testJWTSecret = "test-secret-key"
)

// TestContext holds all dependencies for tests
type TestContext struct {
	Router     *gin.Engine
	Repository *repository.MemoryRepository
	Gateway    *gateway.Stub
	Service    service.Service
	JWTSecret  []byte

	TestUserID  string
	TestUserJWT string
	StaffID     string
	StaffJWT    string
	IssuerJWT   string
}

// Option tweaks the handler options of a test context
type Option func(*api.Options)

// WithBroadcastLimit enables per-user rate limiting on broadcast routes
func WithBroadcastLimit(perSecond float64, burst int) Option {
	return func(o *api.Options) {
		o.BroadcastRatePerSecond = perSecond
		o.BroadcastBurst = burst
	}
}

// SetupTestContext creates a new test context backed by the in-memory ledger and the stub gateway
func SetupTestContext(t *testing.T, opts ...Option) *TestContext {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	repo := repository.NewMemoryRepository()
	gw := gateway.NewStub()

	svc := service.NewDefaultService(repo, gw, notify.NewLogNotifier(log), log, service.Options{
		RevalidateOnConfirm: true,
		OrgWalletCurrency:   "EUR",
	})

	handlerOpts := api.Options{
		JWTSecret:   []byte(testJWTSecret),
		StaffRoles:  []string{StaffRole},
		IssuerRoles: []string{IssuerRole},
	}
	for _, opt := range opts {
		opt(&handlerOpts)
	}

	// Set up Gin router
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(gin.Recovery())
	api.NewHandler(svc, log, handlerOpts).SetupRoutes(router)

	ctx := &TestContext{
		Router:     router,
		Repository: repo,
		Gateway:    gw,
		Service:    svc,
		JWTSecret:  []byte(testJWTSecret),
		TestUserID: "user-1",
		StaffID:    "staff-1",
	}
	ctx.TestUserJWT = ctx.Token(t, ctx.TestUserID, "")
	ctx.StaffJWT = ctx.Token(t, ctx.StaffID, StaffRole)
	ctx.IssuerJWT = ctx.Token(t, "issuer-1", IssuerRole)
	return ctx
}

// Token signs a JWT for userID carrying role (omitted when empty)
func (tc *TestContext) Token(t *testing.T, userID, role string) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(24 * time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
	if role != "" {
		claims["role"] = role
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tc.JWTSecret)
	require.NoError(t, err, "Failed to generate JWT token")
	return tokenString
}

// Seed runs fn in one unit of work against the test ledger
func (tc *TestContext) Seed(t *testing.T, fn func(ctx context.Context, ledger repository.Ledger) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, tc.Repository.WithinTx(ctx, func(ledger repository.Ledger) error {
		return fn(ctx, ledger)
	}))
}

// SeedUserWallet gives userID a confirmed wallet and returns its hash
func (tc *TestContext) SeedUserWallet(t *testing.T, userID string, balance int64) string {
	t.Helper()
	hash := "0xwallet-" + userID
	tc.Seed(t, func(ctx context.Context, ledger repository.Ledger) error {
		return ledger.CreateWallet(ctx, &models.Wallet{
			OwnerRef: userID,
			Currency: "EUR",
			Hash:     &hash,
			Type:     models.WalletUser,
		})
	})
	tc.Gateway.SetBalance(hash, decimal.NewFromInt(balance))
	return hash
}

// SeedOrganization creates an active organization
func (tc *TestContext) SeedOrganization(t *testing.T) *models.Organization {
	t.Helper()
	org := &models.Organization{Name: "Green Fields", Active: true}
	tc.Seed(t, func(ctx context.Context, ledger repository.Ledger) error {
		return ledger.CreateOrganization(ctx, org)
	})
	return org
}

// SeedProject creates an active EUR project open for a month either side of now,
// accepting 100 to 10000 per investor up to 1000000 in total. walletHash, when set,
// is stored as the project's confirmed wallet.
func (tc *TestContext) SeedProject(t *testing.T, orgID int64, walletHash string) *models.Project {
	t.Helper()
	now := time.Now().UTC()
	project := &models.Project{
		OrganizationID:  orgID,
		Name:            "Solar Roofs",
		Active:          true,
		StartDate:       now.AddDate(0, -1, 0),
		EndDate:         now.AddDate(0, 1, 0),
		Currency:        "EUR",
		MinPerUser:      decimal.NewFromInt(100),
		MaxPerUser:      decimal.NewFromInt(10000),
		ExpectedFunding: decimal.NewFromInt(1000000),
	}
	tc.Seed(t, func(ctx context.Context, ledger repository.Ledger) error {
		if err := ledger.CreateProject(ctx, project); err != nil {
			return err
		}
		if walletHash == "" {
			return nil
		}
		return ledger.CreateWallet(ctx, &models.Wallet{
			OwnerRef: strconv.FormatInt(project.ID, 10),
			Currency: project.Currency,
			Hash:     &walletHash,
			Type:     models.WalletProject,
		})
	})
	return project
}

// PerformRequest executes an HTTP request against the router
func PerformRequest(r http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer

	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBody)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// AuthHeaders returns headers with Authorization token
func AuthHeaders(token string) map[string]string {
	return map[string]string{
		"Authorization": fmt.Sprintf("Bearer %s", token),
	}
}

// DecodeBody unmarshals a recorded JSON response into out
func DecodeBody(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), "body: %s", w.Body.String())
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/R3E-Network/beacon-orchestrator/internal/beacon"
	"github.com/R3E-Network/beacon-orchestrator/internal/chain"
	"github.com/R3E-Network/beacon-orchestrator/internal/funding"
	"github.com/R3E-Network/beacon-orchestrator/internal/perp"
	"github.com/R3E-Network/beacon-orchestrator/internal/txexec"
	"github.com/R3E-Network/beacon-orchestrator/internal/wallet"
	"github.com/R3E-Network/beacon-orchestrator/pkg/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubBeacons struct {
	createFn      func(ctx context.Context, owner common.Address) (*beacon.CreateResult, error)
	updateFn      func(ctx context.Context, b common.Address, proof, signals []byte) (*beacon.UpdateResult, error)
	batchCreateFn func(ctx context.Context, count int, owner common.Address) (*txexec.BatchSummary, error)
}

func (s *stubBeacons) Create(ctx context.Context, owner common.Address) (*beacon.CreateResult, error) {
	if s.createFn != nil {
		return s.createFn(ctx, owner)
	}
	return &beacon.CreateResult{Beacon: common.HexToAddress("0x1")}, nil
}

func (s *stubBeacons) BatchCreate(ctx context.Context, count int, owner common.Address) (*txexec.BatchSummary, error) {
	if s.batchCreateFn != nil {
		return s.batchCreateFn(ctx, count, owner)
	}
	return &txexec.BatchSummary{Total: count, Succeeded: count}, nil
}

func (s *stubBeacons) Register(context.Context, common.Address) (common.Hash, bool, error) {
	return common.Hash{}, true, nil
}

func (s *stubBeacons) Update(ctx context.Context, b common.Address, proof, signals []byte) (*beacon.UpdateResult, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, b, proof, signals)
	}
	return &beacon.UpdateResult{Data: big.NewInt(1)}, nil
}

func (s *stubBeacons) BatchUpdate(_ context.Context, items []beacon.UpdateItem) ([]beacon.UpdateOutcome, error) {
	outcomes := make([]beacon.UpdateOutcome, len(items))
	for i, item := range items {
		outcomes[i] = beacon.UpdateOutcome{Index: i, Beacon: item.Beacon.Hex(), Success: true}
	}
	return outcomes, nil
}

func (s *stubBeacons) UpdateECDSA(context.Context, txexec.HashSigner, common.Address, *big.Int) (*beacon.EcdsaUpdateResult, error) {
	return &beacon.EcdsaUpdateResult{Index: big.NewInt(1), Nonce: big.NewInt(1)}, nil
}

func (s *stubBeacons) CreateVerifiable(context.Context, common.Address, *big.Int, uint32) (*beacon.VerifiableCreateResult, error) {
	return &beacon.VerifiableCreateResult{}, nil
}

func (s *stubBeacons) GetData(context.Context, common.Address) (*big.Int, *big.Int, error) {
	return big.NewInt(5), big.NewInt(6), nil
}

func (s *stubBeacons) GetTwap(context.Context, common.Address, uint32) (*big.Int, error) {
	return big.NewInt(7), nil
}

type stubPerps struct {
	depositFn func(ctx context.Context, perpID common.Hash, margin *big.Int) (*perp.DepositResult, error)
}

func (s *stubPerps) Deploy(context.Context, common.Address) (*perp.DeployResult, error) {
	return &perp.DeployResult{PerpID: common.HexToHash("0x9")}, nil
}

func (s *stubPerps) DepositLiquidity(ctx context.Context, perpID common.Hash, margin *big.Int) (*perp.DepositResult, error) {
	if s.depositFn != nil {
		return s.depositFn(ctx, perpID, margin)
	}
	return &perp.DepositResult{PerpID: perpID, PosID: big.NewInt(1), MarginUSDC: margin}, nil
}

type stubFunding struct {
	fundFn func(ctx context.Context, guest common.Address, usdcAmount, ethAmount *big.Int) (*funding.FundResult, error)
}

func (s *stubFunding) FundGuest(ctx context.Context, guest common.Address, usdcAmount, ethAmount *big.Int) (*funding.FundResult, error) {
	if s.fundFn != nil {
		return s.fundFn(ctx, guest, usdcAmount, ethAmount)
	}
	return &funding.FundResult{Guest: guest, USDCAmount: usdcAmount, ETHAmount: ethAmount}, nil
}

type stubWallets struct {
	added []common.Address
}

func (s *stubWallets) Add(_ context.Context, addr common.Address, _ string) error {
	s.added = append(s.added, addr)
	return nil
}

func (s *stubWallets) Disable(context.Context, common.Address) error { return nil }

func (s *stubWallets) List(context.Context) ([]*wallet.Wallet, error) {
	return []*wallet.Wallet{{Address: common.HexToAddress("0x2")}}, nil
}

type stubTypes struct{}

func (s *stubTypes) Register(context.Context, *beacon.TypeConfig) error { return nil }
func (s *stubTypes) Get(context.Context, string) (*beacon.TypeConfig, error) {
	return nil, beacon.ErrTypeNotFound
}
func (s *stubTypes) List(context.Context) ([]*beacon.TypeConfig, error) {
	return []*beacon.TypeConfig{}, nil
}

func testRouter(t *testing.T, token string, beacons BeaconService, perps PerpService) (*gin.Engine, *stubWallets) {
	t.Helper()
	if beacons == nil {
		beacons = &stubBeacons{}
	}
	if perps == nil {
		perps = &stubPerps{}
	}
	wallets := &stubWallets{}
	clients := chain.NewClientSet([]chain.Endpoint{{URL: "mock", Client: testutil.NewMockNode()}}, 8453, zap.NewNop())
	srv := NewServer(beacons, perps, &stubFunding{}, wallets, &stubTypes{}, clients, nil, zap.NewNop())
	return srv.Router(token), wallets
}

func doJSON(router *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router, _ := testRouter(t, "", nil, nil)
	w := doJSON(router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestInfo(t *testing.T) {
	router, _ := testRouter(t, "", nil, nil)
	w := doJSON(router, http.MethodGet, "/info", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 8453, resp["chain_id"])
	assert.EqualValues(t, 1, resp["wallets"])
}

func TestBearerAuth(t *testing.T) {
	router, _ := testRouter(t, "secret", nil, nil)
	body := gin.H{"owner": "0x00000000000000000000000000000000000000aa"}

	w := doJSON(router, http.MethodPost, "/beacon", "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(router, http.MethodPost, "/beacon", "wrong", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(router, http.MethodPost, "/beacon", "secret", body)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthDisabledWhenNoToken(t *testing.T) {
	router, _ := testRouter(t, "", nil, nil)
	w := doJSON(router, http.MethodPost, "/beacon",
		"", gin.H{"owner": "0x00000000000000000000000000000000000000aa"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateRejectsBadOwner(t *testing.T) {
	router, _ := testRouter(t, "", nil, nil)
	w := doJSON(router, http.MethodPost, "/beacon", "", gin.H{"owner": "nonsense"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid owner address")
}

func TestBatchCreateCountBounds(t *testing.T) {
	router, _ := testRouter(t, "", nil, nil)
	owner := "0x00000000000000000000000000000000000000aa"

	w := doJSON(router, http.MethodPost, "/beacon/batch", "", gin.H{"count": 0, "owner": owner})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodPost, "/beacon/batch", "", gin.H{"count": 101, "owner": owner})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodPost, "/beacon/batch", "", gin.H{"count": 3, "owner": owner})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUpdateDecodesHexPayloads(t *testing.T) {
	var gotProof []byte
	beacons := &stubBeacons{
		updateFn: func(_ context.Context, _ common.Address, proof, _ []byte) (*beacon.UpdateResult, error) {
			gotProof = proof
			return &beacon.UpdateResult{Data: big.NewInt(9)}, nil
		},
	}
	router, _ := testRouter(t, "", beacons, nil)
	w := doJSON(router, http.MethodPost, "/beacon/update", "", gin.H{
		"beacon":         "0x00000000000000000000000000000000000000bb",
		"proof":          "0xdeadbeef",
		"public_signals": "0x01",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, gotProof)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"pool exhausted", wallet.ErrNoWalletAvailable, http.StatusServiceUnavailable},
		{"timeout", &txexec.TimeoutError{}, http.StatusGatewayTimeout},
		{"revert", &txexec.RevertError{Reason: "tick out of range"}, http.StatusUnprocessableEntity},
		{"event missing", txexec.ErrEventNotFound, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			beacons := &stubBeacons{
				createFn: func(context.Context, common.Address) (*beacon.CreateResult, error) {
					return nil, tt.err
				},
			}
			router, _ := testRouter(t, "", beacons, nil)
			w := doJSON(router, http.MethodPost, "/beacon",
				"", gin.H{"owner": "0x00000000000000000000000000000000000000aa"})
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestDepositLiquidityValidatesPerpID(t *testing.T) {
	router, _ := testRouter(t, "", nil, nil)

	w := doJSON(router, http.MethodPost, "/perp/banana/liquidity", "", gin.H{"margin_usdc": "10000000"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	perpID := "0x" + strings.Repeat("ab", 32)
	w = doJSON(router, http.MethodPost, "/perp/"+perpID+"/liquidity", "", gin.H{"margin_usdc": "10000000"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestFundGuestRoute(t *testing.T) {
	router, _ := testRouter(t, "", nil, nil)

	w := doJSON(router, http.MethodPost, "/wallets/fund", "", gin.H{
		"address":     "0x00000000000000000000000000000000000000dd",
		"usdc_amount": "10000000",
		"eth_amount":  "1000000000000000",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "usdc_amount")

	w = doJSON(router, http.MethodPost, "/wallets/fund", "", gin.H{
		"address":     "0x00000000000000000000000000000000000000dd",
		"usdc_amount": "not-a-number",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddWallet(t *testing.T) {
	router, wallets := testRouter(t, "", nil, nil)
	w := doJSON(router, http.MethodPost, "/wallets", "", gin.H{
		"address": "0x00000000000000000000000000000000000000cc",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, wallets.added, 1)
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := testRouter(t, "", nil, nil)
	doJSON(router, http.MethodGet, "/health", "", nil)

	w := doJSON(router, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "beaconator_http_requests_total")
}

func TestBatchUpdateCountBounds(t *testing.T) {
	router, _ := testRouter(t, "", nil, nil)

	w := doJSON(router, http.MethodPost, "/beacon/update/batch", "", gin.H{"items": []gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	items := []gin.H{{
		"beacon":         "0x00000000000000000000000000000000000000aa",
		"proof":          "0x01",
		"public_signals": "0x02",
	}}
	w = doJSON(router, http.MethodPost, "/beacon/update/batch", "", gin.H{"items": items})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"succeeded":1`)
}

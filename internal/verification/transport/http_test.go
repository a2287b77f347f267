package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/contraverify/internal/verification/domain"
	"github.com/pendergraft/contraverify/internal/verification/engine"
	"github.com/pendergraft/contraverify/internal/verification/match"
)

const testAddress = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

// mockService implements Service for testing
type mockService struct {
	verifyErr error
	getErr    error
	listErr   error

	lastVerify domain.VerifyRequest
	lastFilter domain.ListFilter
	lastPage   domain.PaginationParams
}

func (m *mockService) Verify(_ context.Context, req domain.VerifyRequest) (*domain.VerifyResult, error) {
	m.lastVerify = req
	if m.verifyErr != nil {
		return nil, m.verifyErr
	}
	perfect := match.StatusPerfect
	return &domain.VerifyResult{
		ID:     "0192",
		Stored: true,
		Verification: &engine.Export{
			Address: req.Address,
			ChainID: req.ChainID,
			Status:  engine.ExportStatus{RuntimeMatch: &perfect},
		},
	}, nil
}

func (m *mockService) Get(_ context.Context, chainID uint64, address string) (*domain.VerifiedContract, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return &domain.VerifiedContract{
		ID: "0192", ChainID: chainID, Address: address, RuntimeMatch: "perfect",
		Verification: json.RawMessage(`{"address":"` + address + `"}`),
	}, nil
}

func (m *mockService) List(_ context.Context, filter domain.ListFilter, pagination domain.PaginationParams) (*domain.ListResult, error) {
	m.lastFilter, m.lastPage = filter, pagination
	if m.listErr != nil {
		return nil, m.listErr
	}
	return &domain.ListResult{
		Data:       []domain.VerifiedContract{{ID: "0192", ChainID: 1, Address: testAddress}},
		HasMore:    true,
		NextCursor: "0192",
	}, nil
}

func setupRouter(svc Service) *chi.Mux {
	r := chi.NewRouter()
	h := NewHandler(svc)
	h.RegisterRoutes(r)
	return r
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error.Code
}

func TestHandler_Verify(t *testing.T) {
	svc := &mockService{}
	router := setupRouter(svc)

	body := fmt.Sprintf(`{
		"chainId": 1,
		"address": %q,
		"compilerVersion": "0.8.19+commit.7dd6d404",
		"contractIdentifier": "src/A.sol:A",
		"creationTransactionHash": "0xabc",
		"stdJsonInput": {"language":"Solidity","sources":{"src/A.sol":{"content":"contract A {}"}},"settings":{}}
	}`, testAddress)

	req := httptest.NewRequest("POST", "/verify", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Stored)
	assert.Equal(t, "0192", resp.ID)
	require.NotNil(t, resp.Verification.Status.RuntimeMatch)
	assert.Equal(t, match.StatusPerfect, *resp.Verification.Status.RuntimeMatch)

	assert.Equal(t, uint64(1), svc.lastVerify.ChainID)
	assert.Equal(t, "src/A.sol:A", svc.lastVerify.ContractIdentifier)
	assert.Equal(t, "0xabc", svc.lastVerify.CreationTxHash)
	require.NotNil(t, svc.lastVerify.StdJSONInput)
	assert.Contains(t, svc.lastVerify.StdJSONInput.Sources, "src/A.sol")
}

func TestHandler_Verify_InvalidJSON(t *testing.T) {
	router := setupRouter(&mockService{})

	req := httptest.NewRequest("POST", "/verify", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, rec))
}

func TestHandler_Verify_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid address", fmt.Errorf("%w: bad", domain.ErrInvalidAddress), http.StatusBadRequest, "INVALID_REQUEST"},
		{"invalid request", domain.ErrInvalidRequest, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown chain", domain.ErrChainNotFound, http.StatusBadRequest, "CHAIN_NOT_SUPPORTED"},
		{"rpc down", fmt.Errorf("%w: dial tcp", engine.ErrCannotFetchBytecode), http.StatusBadGateway, "cannot_fetch_bytecode"},
		{"not deployed", engine.ErrContractNotDeployed, http.StatusUnprocessableEntity, "contract_not_deployed"},
		{"no match", engine.ErrNoMatch, http.StatusUnprocessableEntity, "no_match"},
		{"compiler error", fmt.Errorf("%w: ParserError", engine.ErrCompilerError), http.StatusUnprocessableEntity, "compiler_error"},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
		{"unknown", fmt.Errorf("disk full"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupRouter(&mockService{verifyErr: tt.err})

			req := httptest.NewRequest("POST", "/verify", bytes.NewBufferString(`{}`))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, errorCode(t, rec))
		})
	}
}

func TestHandler_Verify_BodyTooLarge(t *testing.T) {
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, 8)
			next.ServeHTTP(w, r)
		})
	})
	NewHandler(&mockService{}).RegisterRoutes(router)

	req := httptest.NewRequest("POST", "/verify", bytes.NewBufferString(`{"address":"0x0000000000"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHandler_Get(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		router := setupRouter(&mockService{})

		req := httptest.NewRequest("GET", "/verify/10/"+testAddress, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp domain.VerifiedContract
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, uint64(10), resp.ChainID)
		assert.JSONEq(t, `{"address":"`+testAddress+`"}`, string(resp.Verification))
	})

	t.Run("not found", func(t *testing.T) {
		router := setupRouter(&mockService{getErr: domain.ErrNotFound})

		req := httptest.NewRequest("GET", "/verify/1/"+testAddress, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "NOT_FOUND", errorCode(t, rec))
	})

	t.Run("bad chain id", func(t *testing.T) {
		router := setupRouter(&mockService{})

		req := httptest.NewRequest("GET", "/verify/mainnet/"+testAddress, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_List(t *testing.T) {
	t.Run("passes query", func(t *testing.T) {
		svc := &mockService{}
		router := setupRouter(svc)

		req := httptest.NewRequest("GET", "/verified?chainId=5&match=perfect&limit=10&cursor=abc", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, domain.ListFilter{ChainID: 5, Match: "perfect"}, svc.lastFilter)
		assert.Equal(t, domain.PaginationParams{Limit: 10, Cursor: "abc"}, svc.lastPage)

		var resp ListResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Data, 1)
		assert.True(t, resp.HasMore)
		assert.Equal(t, "0192", resp.NextCursor)
	})

	tests := []struct {
		name  string
		query string
		err   error
	}{
		{"bad limit", "limit=many", nil},
		{"negative limit", "limit=-1", nil},
		{"bad chain", "chainId=x", nil},
		{"bad cursor", "cursor=zzz", domain.ErrInvalidCursor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupRouter(&mockService{listErr: tt.err})

			req := httptest.NewRequest("GET", "/verified?"+tt.query, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

// Package transport provides HTTP request/response types for the verification domain.
package transport

import (
	"github.com/pendergraft/contraverify/internal/verification/compilation"
	"github.com/pendergraft/contraverify/internal/verification/domain"
	"github.com/pendergraft/contraverify/internal/verification/engine"
)

// VerifyRequest is the HTTP request body for verifying a contract.
type VerifyRequest struct {
	ChainID            uint64                 `json:"chainId"`
	Address            string                 `json:"address"`
	CreationTxHash     string                 `json:"creationTransactionHash,omitempty"`
	Language           string                 `json:"language,omitempty"`
	CompilerVersion    string                 `json:"compilerVersion"`
	ContractIdentifier string                 `json:"contractIdentifier"`
	StdJSONInput       *compilation.JSONInput `json:"stdJsonInput"`
}

// ToDomain converts VerifyRequest to domain.VerifyRequest.
func (r VerifyRequest) ToDomain() domain.VerifyRequest {
	return domain.VerifyRequest{
		ChainID:            r.ChainID,
		Address:            r.Address,
		CreationTxHash:     r.CreationTxHash,
		Language:           r.Language,
		CompilerVersion:    r.CompilerVersion,
		ContractIdentifier: r.ContractIdentifier,
		StdJSONInput:       r.StdJSONInput,
	}
}

// VerifyResponse is the response for a successful verification.
type VerifyResponse struct {
	ID           string         `json:"id"`
	Stored       bool           `json:"stored"`
	Verification *engine.Export `json:"verification"`
}

// ListResponse is a page of verified contracts.
type ListResponse struct {
	Data       []domain.VerifiedContract `json:"data"`
	HasMore    bool                      `json:"hasMore"`
	NextCursor string                    `json:"nextCursor,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

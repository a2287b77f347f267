// Package domain contains the business logic for contract verification.
package domain

import (
	"encoding/json"

	"github.com/pendergraft/contraverify/internal/verification/compilation"
	"github.com/pendergraft/contraverify/internal/verification/engine"
)

// VerifyRequest is the request to verify a deployed contract.
type VerifyRequest struct {
	ChainID uint64 `json:"chainId"`
	Address string `json:"address"`
	// CreationTxHash enables creation bytecode matching when set.
	CreationTxHash string `json:"creationTransactionHash,omitempty"`
	// Language defaults to StdJSONInput.Language.
	Language           string                 `json:"language,omitempty"`
	CompilerVersion    string                 `json:"compilerVersion"`
	ContractIdentifier string                 `json:"contractIdentifier"`
	StdJSONInput       *compilation.JSONInput `json:"stdJsonInput"`
}

// VerifyResult is the result of a verification.
type VerifyResult struct {
	ID           string         `json:"id,omitempty"`
	Verification *engine.Export `json:"verification"`
	// Stored is false when a better match for the address was already stored.
	Stored bool `json:"stored"`
}

// VerifiedContract is a stored verification.
type VerifiedContract struct {
	ID                 string          `json:"id"`
	ChainID            uint64          `json:"chainId"`
	Address            string          `json:"address"`
	Language           string          `json:"language"`
	CompilerVersion    string          `json:"compilerVersion"`
	FullyQualifiedName string          `json:"fullyQualifiedName"`
	RuntimeMatch       string          `json:"runtimeMatch,omitempty"`
	CreationMatch      string          `json:"creationMatch,omitempty"`
	VerifiedAt         string          `json:"verifiedAt"`
	Verification       json.RawMessage `json:"verification,omitempty"`
}

// ListFilter narrows List.
type ListFilter struct {
	ChainID uint64
	Match   string // "perfect" or "partial"
}

// PaginationParams contains pagination options
type PaginationParams struct {
	Limit  int
	Cursor string
}

// ListResult is a page of verified contracts, without their exports.
type ListResult struct {
	Data       []VerifiedContract `json:"data"`
	HasMore    bool               `json:"hasMore"`
	NextCursor string             `json:"nextCursor,omitempty"`
}

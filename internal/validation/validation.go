// Package validation checks verification request fields before any network or
// compiler work is done.
package validation

import (
	"errors"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/contraverify/internal/verification/compilation"
)

// contractNameRegex matches Solidity and Vyper identifiers.
var contractNameRegex = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// ValidateAddress validates an Ethereum address. Mixed-case input must carry a
// valid EIP-55 checksum.
func ValidateAddress(addr string) error {
	if len(addr) != 42 {
		return errors.New("invalid address length: must be 42 characters (0x + 40 hex)")
	}
	if !strings.HasPrefix(addr, "0x") {
		return errors.New("invalid address: must start with 0x")
	}
	if !common.IsHexAddress(addr) {
		return errors.New("invalid address: contains non-hex characters")
	}
	body := addr[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		if common.HexToAddress(addr).Hex() != addr {
			return errors.New("invalid address: bad EIP-55 checksum")
		}
	}
	return nil
}

// ValidateChainID validates a chain ID
func ValidateChainID(chainID uint64) error {
	if chainID == 0 {
		return errors.New("chain ID must be positive")
	}
	return nil
}

// ValidateTxHash validates a 32-byte 0x-prefixed transaction hash.
func ValidateTxHash(hash string) error {
	if len(hash) != 66 || !strings.HasPrefix(hash, "0x") {
		return errors.New("invalid transaction hash: must be 0x followed by 64 hex characters")
	}
	for _, c := range hash[2:] {
		isDigit := c >= '0' && c <= '9'
		isLowerHex := c >= 'a' && c <= 'f'
		isUpperHex := c >= 'A' && c <= 'F'
		if !isDigit && !isLowerHex && !isUpperHex {
			return errors.New("invalid transaction hash: contains non-hex characters")
		}
	}
	return nil
}

// ValidateContractIdentifier validates a fully qualified "path:Name" identifier.
func ValidateContractIdentifier(id string) error {
	target, err := compilation.ParseTarget(id)
	if err != nil {
		return err
	}
	if !contractNameRegex.MatchString(target.Name) {
		return errors.New("invalid contract name in identifier")
	}
	if strings.Contains(target.Path, "\x00") {
		return errors.New("invalid source path in identifier")
	}
	return nil
}

// ValidateCompilerVersion accepts release versions with an optional commit
// suffix ("0.8.28+commit.7893614a") and vyper pre-releases ("0.4.0rc6").
func ValidateCompilerVersion(v string) error {
	if v == "" {
		return errors.New("compiler version cannot be empty")
	}
	if compilation.CanonicalVersion(v) == "" {
		return errors.New("invalid compiler version: must be in format X.Y.Z[+commit.HASH]")
	}
	if strings.ContainsAny(v, `/\ `) {
		return errors.New("invalid characters in compiler version")
	}
	return nil
}

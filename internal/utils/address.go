package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var hex40 = regexp.MustCompile("^[0-9a-fA-F]{40}$")

// IsEvmAddress checks whether the string is a 20-byte EVM address,
// with or without the 0x prefix.
func IsEvmAddress(address string) bool {
	if address == "" {
		return false
	}
	if strings.HasPrefix(strings.ToLower(address), "0x") {
		address = address[2:]
	}
	return hex40.MatchString(address)
}

// ParseAddress parses a principal identifier into a checksummed address.
func ParseAddress(address string) (common.Address, error) {
	if !IsEvmAddress(address) {
		return common.Address{}, fmt.Errorf("invalid address: %q", address)
	}
	return common.HexToAddress(address), nil
}

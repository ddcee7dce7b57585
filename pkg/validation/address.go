package validation

import (
	"fmt"
	"strings"
)

const walletAddressLength = 56

// ValidateWalletAddress validates a provider wallet address: 56 characters of
// base32 (A-Z, 2-7) starting with 'G', the account-id format the payment
// network uses.
func ValidateWalletAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("wallet address cannot be empty")
	}

	if len(addr) != walletAddressLength {
		return fmt.Errorf("invalid wallet address length: expected %d characters, got %d", walletAddressLength, len(addr))
	}

	if addr[0] != 'G' {
		return fmt.Errorf("invalid wallet address prefix: expected 'G', got %q", addr[0])
	}

	for _, r := range addr {
		if (r < 'A' || r > 'Z') && (r < '2' || r > '7') {
			return fmt.Errorf("invalid wallet address character %q", r)
		}
	}

	return nil
}

// NormalizeWalletAddress trims whitespace and upper-cases the address.
func NormalizeWalletAddress(addr string) string {
	return strings.ToUpper(strings.TrimSpace(addr))
}

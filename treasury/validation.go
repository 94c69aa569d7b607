package treasury

import (
	"strings"

	"github.com/midnightos/treasury/models"
)

const maxAddressLength = 256

// ValidateAddress rejects empty, oversized or non bech32-alphabet-like
// addresses. Checksums are the wallet node's concern.
func ValidateAddress(addr string) error {
	if addr == "" {
		return models.NewError(models.KindValidation, "recipient is required")
	}
	if len(addr) > maxAddressLength {
		return models.NewError(models.KindValidation, "recipient is longer than %d characters", maxAddressLength)
	}
	for _, r := range addr {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return models.NewError(models.KindValidation, "recipient '%s' is malformed", addr)
		}
	}
	return nil
}

func validateProposal(description string, amount int64, recipient string) error {
	if strings.TrimSpace(description) == "" {
		return models.NewError(models.KindValidation, "description is required")
	}
	if amount <= 0 {
		return models.NewError(models.KindValidation, "amount must be greater than zero")
	}
	return ValidateAddress(recipient)
}

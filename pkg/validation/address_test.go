package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateWalletAddress(t *testing.T) {
	valid := "G" + strings.Repeat("A", 27) + strings.Repeat("7", 28)
	require.NoError(t, ValidateWalletAddress(valid))

	require.Error(t, ValidateWalletAddress(""))
	require.Error(t, ValidateWalletAddress("G"+strings.Repeat("A", 54)))
	require.Error(t, ValidateWalletAddress("G"+strings.Repeat("A", 56)))
	require.Error(t, ValidateWalletAddress("A"+strings.Repeat("A", 55)))
	require.Error(t, ValidateWalletAddress("G"+strings.Repeat("A", 54)+"1"))
	require.Error(t, ValidateWalletAddress("G"+strings.Repeat("a", 55)))
}

func TestNormalizeWalletAddress(t *testing.T) {
	addr := " g" + strings.Repeat("a", 55) + " "
	normalized := NormalizeWalletAddress(addr)
	require.NoError(t, ValidateWalletAddress(normalized))
}

package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestFormatMajor(t *testing.T) {
	require.Equal(t, "1500.50", FormatMajor(150050, "NGN"))
	require.Equal(t, "0.05", FormatMajor(5, "usd"))
	require.Equal(t, "1200", FormatMajor(1200, "JPY"))
}

func TestFromMajorRoundsToMinorUnit(t *testing.T) {
	require.Equal(t, int64(150050), FromMajor(decimal.RequireFromString("1500.5"), "NGN"))
	require.Equal(t, int64(1001), FromMajor(decimal.RequireFromString("10.005"), "NGN"))
}

func TestParseMajor(t *testing.T) {
	minor, err := ParseMajor(" 100 ", "NGN")
	require.NoError(t, err)
	require.Equal(t, int64(10000), minor)

	_, err = ParseMajor("abc", "NGN")
	require.Error(t, err)
}

func TestToMajorRoundTrip(t *testing.T) {
	for _, minor := range []int64{0, 1, 99, 100, 123456789} {
		require.Equal(t, minor, FromMajor(ToMajor(minor, "NGN"), "NGN"))
	}
}

package scripthost

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDateRoundTripsISOFormat(t *testing.T) {
	d, err := parseDate("2021-05-30", "%Y-%m-%d")
	require.NoError(t, err)

	out, err := d.format("%Y-%m-%d")
	require.NoError(t, err)
	require.Equal(t, "2021-05-30", out)
}

func TestDateReformatsBetweenDifferentLayouts(t *testing.T) {
	d, err := parseDate("30/05/2021", "%d/%m/%Y")
	require.NoError(t, err)

	out, err := d.format("%Y-%m-%d")
	require.NoError(t, err)
	require.Equal(t, "2021-05-30", out)
}

func TestDateParseRejectsUnsupportedDirective(t *testing.T) {
	_, err := parseDate("2021-05-30", "%Q")
	require.Error(t, err)
}

func TestDateParseRejectsMismatchedInput(t *testing.T) {
	_, err := parseDate("not-a-date", "%Y-%m-%d")
	require.Error(t, err)
}

func TestDateFormatWithTimeComponents(t *testing.T) {
	d, err := parseDate("2021-05-30 14:05:09", "%Y-%m-%d %H:%M:%S")
	require.NoError(t, err)

	out, err := d.format("%H:%M")
	require.NoError(t, err)
	require.Equal(t, "14:05", out)
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseBaktaConfigEnv_Coercion(t *testing.T) {
	environ := []string{
		"BAKTA_CONFIG_COMPLETE_GENOME=true",
		"BAKTA_CONFIG_HAS_REPLICONS=no",
		"BAKTA_CONFIG_MIN_CONTIG_LENGTH=200",
		"BAKTA_CONFIG_PLASMID=none",
		"BAKTA_CONFIG_GENUS=Escherichia",
		"UNRELATED=should-be-ignored",
	}

	got := parseBaktaConfigEnv(environ)

	require.Equal(t, true, got["completeGenome"])
	require.Equal(t, false, got["hasReplicons"])
	require.Equal(t, 200, got["minContigLength"])
	require.Nil(t, got["plasmid"])
	require.Contains(t, got, "plasmid")
	require.Equal(t, "Escherichia", got["genus"])
	require.NotContains(t, got, "unrelated")
}

func TestConfigKeyToField(t *testing.T) {
	cases := map[string]string{
		"MIN_CONTIG_LENGTH": "minContigLength",
		"GENUS":             "genus",
		"DERM_TYPE":         "dermType",
		"TRANSLATION_TABLE": "translationTable",
	}
	for in, want := range cases {
		require.Equal(t, want, configKeyToField(in))
	}
}

func TestCoerceBaktaConfigValue(t *testing.T) {
	require.Equal(t, true, coerceBaktaConfigValue("1"))
	require.Equal(t, true, coerceBaktaConfigValue("YES"))
	require.Equal(t, false, coerceBaktaConfigValue("0"))
	require.Nil(t, coerceBaktaConfigValue("None"))
	require.Equal(t, 42, coerceBaktaConfigValue("42"))
	require.Equal(t, "Staphylococcus", coerceBaktaConfigValue("Staphylococcus"))
}

func TestMustParseDuration_FallsBackOnInvalid(t *testing.T) {
	fallback := 5 * time.Minute
	require.Equal(t, fallback, mustParseDuration("not-a-duration", fallback))
	require.Equal(t, fallback, mustParseDuration("", fallback))
}

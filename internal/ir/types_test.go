package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContractRulesAndTargets(t *testing.T) {
	c := Contract{
		Permissions:  []Rule{{Target: "a"}, {Target: "b"}},
		Prohibitions: []Rule{{Target: "a"}},
		Obligations:  []Rule{{Target: ""}},
	}

	assert.Len(t, c.Rules(), 4)
	assert.Equal(t, []string{"a", "b"}, c.Targets())
}

func TestAgreementJSONOmitsConfirmed(t *testing.T) {
	a := Agreement{Contract: Contract{ID: "urn:a", Kind: KindAgreement}, Confirmed: true}

	b, err := json.Marshal(a)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "confirmed")
	assert.Contains(t, string(b), `"@id":"urn:a"`)
}

func TestResourceKindRoundTrip(t *testing.T) {
	for _, k := range []ResourceKind{ResourceOffered, ResourceRequested} {
		parsed, err := ParseResourceKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := ParseResourceKind("borrowed")
	assert.Error(t, err)
}

func TestIsSupportedModelVersion(t *testing.T) {
	assert.True(t, IsSupportedModelVersion(ModelVersion))
	assert.False(t, IsSupportedModelVersion("1.0.0"))
}

func TestFixedGenerator(t *testing.T) {
	gen := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", gen.Generate())
	assert.Equal(t, "urn:uuid:b", URN(gen))
	assert.Panics(t, func() { gen.Generate() })
}

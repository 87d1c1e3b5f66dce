package fields

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryValidates(t *testing.T) {
	r := Default()
	require.NoError(t, r.Validate())
	assert.Contains(t, r.CollectionIDs(), "RCMImageProducts")
	assert.Contains(t, r.CollectionIDs(), "Radarsat2")
}

func TestRegistryValidateFailures(t *testing.T) {
	tests := []struct {
		name       string
		collection CollectionFields
	}{
		{
			name: "Empty field id",
			collection: CollectionFields{
				CollectionID: "Test",
				Fields:       []Field{{Name: "FOO", RapiID: ""}},
			},
		},
		{
			name: "Empty field name",
			collection: CollectionFields{
				CollectionID: "Test",
				Fields:       []Field{{Name: "", RapiID: "T.FOO"}},
			},
		},
		{
			name: "Duplicate field name",
			collection: CollectionFields{
				CollectionID: "Test",
				Fields: []Field{
					{Name: "FOO", RapiID: "T.FOO"},
					{Name: "foo", RapiID: "T.FOO2"},
				},
			},
		},
		{
			name:       "Empty collection id",
			collection: CollectionFields{CollectionID: ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(tt.collection)
			assert.Error(t, r.Validate())
		})
	}
}

func TestRegistryResolve(t *testing.T) {
	r := Default()

	t.Run("Known field", func(t *testing.T) {
		fieldID, val, err := r.Resolve("RCMImageProducts", "beam_mnemonic", "16M11")
		require.NoError(t, err)
		assert.Equal(t, "RCM.BEAM_MNEMONIC", fieldID)
		assert.Equal(t, "16M11", val)
	})

	t.Run("Choice canonicalized", func(t *testing.T) {
		fieldID, val, err := r.Resolve("RCMImageProducts", "LOOK_DIRECTION", "right")
		require.NoError(t, err)
		assert.Equal(t, "RCM.ANTENNA_ORIENTATION", fieldID)
		assert.Equal(t, "Right", val)
	})

	t.Run("Invalid choice", func(t *testing.T) {
		_, _, err := r.Resolve("Radarsat2", "ORBIT_DIRECTION", "Sideways")
		assert.Error(t, err)
	})

	t.Run("Unknown field", func(t *testing.T) {
		_, _, err := r.Resolve("NAPL", "POLARIZATION", "VV")
		assert.Error(t, err)
	})

	t.Run("Unknown collection", func(t *testing.T) {
		_, _, err := r.Resolve("NoSuchCollection", "ORDER_KEY", "x")
		assert.Error(t, err)
	})
}

package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driverkit/coord/halerr"
)

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry(nil)

	require.NoError(t, r.Register(Info{ID: "gpu", Version: "2.1.0", Provides: []string{"graphics"}}))

	info, err := r.Lookup("gpu")
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", info.Version)
	assert.Equal(t, 1, r.Count())

	_, err = r.Lookup("audio")
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", halerr.CodeOf(err))
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry(nil)

	err := r.Register(Info{ID: "", Version: "1.0.0"})
	require.Error(t, err)
	assert.True(t, halerr.IsValidation(err))

	err = r.Register(Info{ID: "gpu", Version: "not-a-version"})
	require.Error(t, err)
	assert.Equal(t, "BAD_VERSION", halerr.CodeOf(err))

	require.NoError(t, r.Register(Info{ID: "gpu", Version: "1.0.0"}))
	err = r.Register(Info{ID: "gpu", Version: "1.0.1"})
	require.Error(t, err)
	assert.Equal(t, "ALREADY_EXISTS", halerr.CodeOf(err))
}

func TestConstraintSatisfied(t *testing.T) {
	r := NewRegistry(nil)

	require.NoError(t, r.Register(Info{ID: "gpu", Version: "2.1.0"}))
	require.NoError(t, r.Register(Info{
		ID:       "audio",
		Version:  "1.4.2",
		Requires: map[string]string{"gpu": ">=2.0.0"},
	}))
}

func TestConstraintViolated(t *testing.T) {
	r := NewRegistry(nil)

	require.NoError(t, r.Register(Info{ID: "gpu", Version: "1.9.0"}))

	err := r.Register(Info{
		ID:       "audio",
		Version:  "1.4.2",
		Requires: map[string]string{"gpu": ">=2.0.0"},
	})
	require.Error(t, err)
	assert.Equal(t, "INCOMPATIBLE_DRIVER", halerr.CodeOf(err))
	assert.True(t, halerr.IsConfiguration(err))
	assert.Equal(t, 1, r.Count())
}

func TestConstraintCheckedOnPeerArrival(t *testing.T) {
	r := NewRegistry(nil)

	// audio constrains a gpu that is not registered yet; the check runs
	// when gpu arrives.
	require.NoError(t, r.Register(Info{
		ID:       "audio",
		Version:  "1.4.2",
		Requires: map[string]string{"gpu": "^2.0"},
	}))

	err := r.Register(Info{ID: "gpu", Version: "3.0.0"})
	require.Error(t, err)
	assert.Equal(t, "INCOMPATIBLE_DRIVER", halerr.CodeOf(err))

	require.NoError(t, r.Register(Info{ID: "gpu", Version: "2.5.1"}))
}

func TestBadConstraint(t *testing.T) {
	r := NewRegistry(nil)

	require.NoError(t, r.Register(Info{ID: "gpu", Version: "2.1.0"}))
	err := r.Register(Info{
		ID:       "audio",
		Version:  "1.0.0",
		Requires: map[string]string{"gpu": ">>nonsense"},
	})
	require.Error(t, err)
	assert.Equal(t, "BAD_CONSTRAINT", halerr.CodeOf(err))
}

func TestByCapability(t *testing.T) {
	r := NewRegistry(nil)

	require.NoError(t, r.Register(Info{ID: "gpu", Version: "2.1.0", Provides: []string{"graphics", "dma"}}))
	require.NoError(t, r.Register(Info{ID: "nic", Version: "1.0.0", Provides: []string{"dma"}}))
	require.NoError(t, r.Register(Info{ID: "audio", Version: "1.0.0", Provides: []string{"audio"}}))

	assert.Len(t, r.ByCapability("dma"), 2)
	assert.Len(t, r.ByCapability("audio"), 1)
	assert.Empty(t, r.ByCapability("storage"))
}

func TestUnregisterAndClear(t *testing.T) {
	r := NewRegistry(nil)

	require.NoError(t, r.Register(Info{ID: "gpu", Version: "2.1.0"}))
	require.NoError(t, r.Unregister("gpu"))

	err := r.Unregister("gpu")
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", halerr.CodeOf(err))

	require.NoError(t, r.Register(Info{ID: "gpu", Version: "2.1.0"}))
	r.Clear()
	assert.Zero(t, r.Count())
}

package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-lab-org/sipg-sub003/sim"
)

func sampleState() sim.State {
	return sim.State{
		Clock:     sim.Time{Year: 2004, Iteration: 1, Iterations: 2},
		StepCount: 9,
		Cities: map[string]sim.CityState{
			"Alpha": {
				Population: 1200.5,
				Locals: map[string]sim.LocalState{
					"Water": {
						Imports:            12,
						CumulativeCashFlow: -340.25,
						Reservoir:          &sim.ReservoirState{Volume: 900, Withdrawals: 40, CumulativeWithdrawals: 100},
						Elements: map[string]sim.ElementState{
							"Alpha.well": {Production: 30, Operational: true},
						},
					},
				},
			},
		},
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	// GIVEN a checkpoint written to a nested directory
	path := Path(filepath.Join(t.TempDir(), "saves"), "fed-1", "initialState")
	cp := Checkpoint{
		Header: Header{RunID: "run-42", Federate: "fed-1", Label: "initialState", SavedAt: time.Unix(1700000000, 0).UTC()},
		State:  sampleState(),
	}
	require.NoError(t, Write(path, cp))

	// WHEN read back
	got, err := Read(path)

	// THEN header and state are preserved
	require.NoError(t, err)
	assert.Equal(t, sampleState(), got.State)
	assert.Equal(t, "run-42", got.Header.RunID)
	assert.Equal(t, Version, got.Header.Version)
	assert.Equal(t, 2004, got.Header.Year)
	assert.Equal(t, 1, got.Header.Iteration)

	// AND no temporary file is left behind
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestReadHeader_DoesNotNeedState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.ckpt.zst")
	require.NoError(t, Write(path, Checkpoint{Header: Header{Label: "reset"}, State: sampleState()}))

	h, err := ReadHeader(path)

	require.NoError(t, err)
	assert.Equal(t, "reset", h.Label)
	assert.Equal(t, 2004, h.Year)
}

func TestRead_CorruptFile_Fails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.ckpt.zst")
	require.NoError(t, os.WriteFile(path, []byte("not zstd"), 0o644))

	_, err := Read(path)

	assert.Error(t, err)
}

func TestLatest_Missing(t *testing.T) {
	_, err := Latest(t.TempDir(), "fed", "initialState")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPath_SanitizesSeparators(t *testing.T) {
	assert.Equal(t, filepath.Join("d", "a_b-init.ckpt.zst"), Path("d", "a/b", "init"))
}

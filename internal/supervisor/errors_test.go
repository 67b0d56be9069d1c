package supervisor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnError_Matching(t *testing.T) {
	cause := fmt.Errorf("fork/exec: %w", os.ErrNotExist)
	var err error = &SpawnError{Reason: spawnReason(cause), Err: cause}

	assert.ErrorIs(t, err, ErrSpawnFailed)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.NotErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, "backend spawn failed: executable not found: fork/exec: file does not exist", err.Error())

	assert.Equal(t, "permission denied", spawnReason(os.ErrPermission))
	assert.Equal(t, "spawn error", spawnReason(errors.New("boom")))
}

func TestState_TextRoundTrip(t *testing.T) {
	for _, st := range []State{Stopped, Starting, Running, Stopping, Failed} {
		b, err := st.MarshalText()
		require.NoError(t, err)
		var back State
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, st, back)
	}
	var s State
	assert.Error(t, s.UnmarshalText([]byte("exploded")))
	assert.Equal(t, "state(9)", State(9).String())
}

func TestSnapshot_JSON(t *testing.T) {
	b, err := json.Marshal(Snapshot{State: Running, Address: "127.0.0.1:5173"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"running","address":"127.0.0.1:5173","error":"","restarts":0}`, string(b))
}

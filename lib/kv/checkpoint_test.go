package kv

import (
	"errors"
	"sync"
	"testing"

	"github.com/ValentinKolb/fKV/lib/kv/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointTokens(t *testing.T) {
	s := newDiskStore(t, t.TempDir())
	sess := startSession(t, s)
	typed := NewTyped(codec.String(), codec.Concat())
	_, err := typed.Upsert(sess, "k", "v", 1)
	require.NoError(t, err)

	full, err := s.Checkpoint()
	require.NoError(t, err)
	assert.True(t, full.Checked)
	assert.Len(t, full.Token, 36)

	index, err := s.CheckpointIndex()
	require.NoError(t, err)
	assert.Len(t, index.Token, 36)

	hybridLog, err := s.CheckpointHybridLog()
	require.NoError(t, err)
	assert.Len(t, hybridLog.Token, 36)

	infos, err := s.Checkpoints()
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, hybridLog.Token, infos[0].Token)
	assert.Equal(t, full.Token, infos[2].Token)

	// separately taken facets recover together
	rec, err := s.Recover(index.Token, hybridLog.Token)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, rec.Status)
	assert.Equal(t, infos[0].Version, rec.Version)
	assert.Contains(t, rec.SessionIDs, sess.ID())
}

func TestRecoverFailures(t *testing.T) {
	s := newDiskStore(t, t.TempDir())

	rec, err := s.Recover("not-a-token", "not-a-token")
	assert.True(t, errors.Is(err, ErrRecovery), "got %v", err)
	assert.Equal(t, StatusNotFound, rec.Status)

	_, err = s.Recover("6ba7b810-9dad-11d1-80b4-00c04fd430c8", "6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	assert.True(t, errors.Is(err, ErrRecovery), "got %v", err)

	cp, err := s.CheckpointIndex()
	require.NoError(t, err)
	// an index-only checkpoint has no hybrid log facet
	_, err = s.Recover(cp.Token, cp.Token)
	assert.True(t, errors.Is(err, ErrRecovery), "got %v", err)
}

func TestRecoverLatest(t *testing.T) {
	dir := t.TempDir()
	typed := NewTyped(codec.String(), codec.Add(codec.Uint64()))

	s := newDiskStore(t, dir)
	_, _, ok, err := s.RecoverLatest()
	require.NoError(t, err)
	assert.False(t, ok)

	sess := startSession(t, s)
	_, err = typed.Upsert(sess, "a", 1, 1)
	require.NoError(t, err)
	_, err = s.Checkpoint()
	require.NoError(t, err)
	_, err = typed.Upsert(sess, "a", 2, 2)
	require.NoError(t, err)
	latest, err := s.Checkpoint()
	require.NoError(t, err)
	_, err = s.CheckpointIndex()
	require.NoError(t, err)
	sess.Stop()
	require.NoError(t, s.Close())

	restored := newDiskStore(t, dir)
	rec, token, ok, err := restored.RecoverLatest()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, latest.Token, token)
	assert.Equal(t, StatusOK, rec.Status)

	check := startSession(t, restored)
	v, _ := readValue(t, typed, check, "a", 1)
	assert.Equal(t, uint64(2), v)
}

// TestSumStoreRecovery runs concurrent counting sessions, checkpoints while they
// are running, recovers the checkpoint into a fresh store, verifies the totals
// implied by each session's recovered serial and then replays the rest.
func TestSumStoreRecovery(t *testing.T) {
	const (
		workers    = 4
		ops        = 4000
		uniqueKeys = 100
	)
	dir := t.TempDir()
	typed := NewTyped(codec.Uint64(), codec.Add(codec.Uint64()))
	keyOf := func(serial uint64) uint64 { return (serial - 1) % uniqueKeys }

	s := newDiskStore(t, dir)

	var halfway, finished sync.WaitGroup
	checkpointed := make(chan struct{})
	halfway.Add(workers)
	finished.Add(workers)
	errs := make(chan error, workers)

	for w := 0; w < workers; w++ {
		go func() {
			defer finished.Done()
			sess, err := s.StartSession()
			if err != nil {
				errs <- err
				halfway.Done()
				return
			}
			for serial := uint64(1); serial <= ops; serial++ {
				if _, err := typed.Rmw(sess, keyOf(serial), 1, serial); err != nil {
					errs <- err
				}
				if serial == ops/2 {
					halfway.Done()
				}
			}
			// the session has to be live at checkpoint time to be recorded
			<-checkpointed
			sess.Stop()
		}()
	}

	halfway.Wait()
	cp, err := s.Checkpoint()
	require.NoError(t, err)
	close(checkpointed)
	finished.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// every key got the same number of increments
	check := startSession(t, s)
	for k := uint64(0); k < uniqueKeys; k++ {
		v, _ := readValue(t, typed, check, k, k+1)
		require.Equal(t, uint64(workers*ops/uniqueKeys), v)
	}
	require.NoError(t, s.Close())

	// crash and recover
	restored := newDiskStore(t, dir)
	rec, err := restored.Recover(cp.Token, cp.Token)
	require.NoError(t, err)
	require.Len(t, rec.SessionIDs, workers)

	expected := make([]uint64, uniqueKeys)
	sessions := make([]*Session, 0, workers)
	resumed := make([]uint64, 0, workers)
	for _, id := range rec.SessionIDs {
		sess, serial, err := restored.ContinueSession(id)
		require.NoError(t, err)
		require.GreaterOrEqual(t, serial, uint64(ops/2))
		require.LessOrEqual(t, serial, uint64(ops))
		for i := uint64(1); i <= serial; i++ {
			expected[keyOf(i)]++
		}
		sessions = append(sessions, sess)
		resumed = append(resumed, serial)
	}

	verify := startSession(t, restored)
	for k := uint64(0); k < uniqueKeys; k++ {
		v, _ := readValue(t, typed, verify, k, k+1)
		require.Equal(t, expected[k], v, "key %d after recovery", k)
	}

	// replaying everything after the recovered serials completes the population
	for i, sess := range sessions {
		for serial := resumed[i] + 1; serial <= ops; serial++ {
			_, err := typed.Rmw(sess, keyOf(serial), 1, serial)
			require.NoError(t, err)
		}
		sess.Stop()
	}
	for k := uint64(0); k < uniqueKeys; k++ {
		v, _ := readValue(t, typed, verify, k, uniqueKeys+k+1)
		require.Equal(t, uint64(workers*ops/uniqueKeys), v, "key %d after replay", k)
	}
}

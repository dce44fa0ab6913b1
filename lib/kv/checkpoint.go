package kv

import (
	"time"

	"github.com/ValentinKolb/fKV/lib/engine"
)

// CheckPoint is the outcome of a checkpoint request. Checked is false when
// the request was coalesced into a checkpoint already in progress; Token then
// names that checkpoint.
type CheckPoint struct {
	Checked bool
	Token   string
}

// Recover is the outcome of a recovery
type Recover struct {
	Status     Status
	Version    uint32
	SessionIDs []string
}

func (s *Store) requireDisk(op string) error {
	if s.dir == "" {
		return newError(ErrCInvalidType, nil, "%s needs a disk backed store", op)
	}
	return nil
}

func (s *Store) checkpoint(kind string, take func() (engine.CheckpointResult, error)) (CheckPoint, error) {
	if err := s.requireDisk(kind); err != nil {
		return CheckPoint{}, err
	}

	start := time.Now()
	res, err := take()
	if err != nil {
		checkpointFailure.Inc()
		return CheckPoint{}, newError(ErrCCheckpoint, err, "%s failed", kind)
	}
	observeSince(checkpointSeconds, start)

	log.Debugf("%s %s (checked=%v) in %s", kind, res.Token, res.Checked, time.Since(start))
	return CheckPoint{Checked: res.Checked, Token: res.Token}, nil
}

// Checkpoint takes a full checkpoint. The token names both the index and the
// hybrid log facet.
func (s *Store) Checkpoint() (CheckPoint, error) {
	return s.checkpoint("checkpoint", s.engine.Checkpoint)
}

// CheckpointIndex checkpoints the hash index only
func (s *Store) CheckpointIndex() (CheckPoint, error) {
	return s.checkpoint("index checkpoint", s.engine.CheckpointIndex)
}

// CheckpointHybridLog checkpoints the hybrid log only
func (s *Store) CheckpointHybridLog() (CheckPoint, error) {
	return s.checkpoint("hybrid log checkpoint", s.engine.CheckpointHybridLog)
}

// Recover restores the store from an index token and a hybrid log token. For
// a full checkpoint both tokens are the same. Sessions live at checkpoint
// time can afterwards be resumed with ContinueSession.
func (s *Store) Recover(indexToken, hybridLogToken string) (Recover, error) {
	if err := s.requireDisk("recover"); err != nil {
		return Recover{}, err
	}

	start := time.Now()
	res, err := s.engine.Recover(indexToken, hybridLogToken)
	if err != nil {
		return Recover{Status: res.Status}, newError(ErrCRecovery, err, "recover from %s/%s", indexToken, hybridLogToken)
	}
	observeSince(recoverSeconds, start)

	return Recover{Status: res.Status, Version: res.Version, SessionIDs: res.SessionIDs}, nil
}

// RecoverLatest recovers the newest checkpoint that holds both facets. ok is
// false if there is none.
func (s *Store) RecoverLatest() (rec Recover, token string, ok bool, err error) {
	infos, err := s.Checkpoints()
	if err != nil {
		return Recover{}, "", false, err
	}
	for _, info := range infos {
		if info.Index && info.HybridLog {
			rec, err = s.Recover(info.Token, info.Token)
			return rec, info.Token, err == nil, err
		}
	}
	return Recover{}, "", false, nil
}

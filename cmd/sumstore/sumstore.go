package sumstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ValentinKolb/fKV/lib/kv"
	"github.com/ValentinKolb/fKV/lib/kv/codec"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sync/errgroup"
)

var log = logger.GetLogger("bench")

// paramsFile is the file in the storage directory the populate run leaves
// for the recover run
const paramsFile = "sumstore.json"

// Params describes one sum-store population. Every worker issues Ops
// increments; the increment with serial s goes to key (s-1) % Keys.
type Params struct {
	Workers int    `json:"workers"`
	Ops     uint64 `json:"ops"`
	Keys    uint64 `json:"keys"`
	Token   string `json:"token,omitempty"`
}

func (p *Params) validate() error {
	if p.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", p.Workers)
	}
	if p.Ops < 2 {
		return fmt.Errorf("ops must be at least 2, got %d", p.Ops)
	}
	if p.Keys < 1 {
		return fmt.Errorf("keys must be at least 1, got %d", p.Keys)
	}
	return nil
}

func (p *Params) keyOf(serial uint64) uint64 {
	return (serial - 1) % p.Keys
}

// expected returns the value of every key once the given serials of all
// sessions are applied
func (p *Params) expected(serials []uint64) []uint64 {
	sums := make([]uint64, p.Keys)
	for _, last := range serials {
		full, rest := last/p.Keys, last%p.Keys
		for k := range sums {
			sums[k] += full
			if uint64(k) < rest {
				sums[k]++
			}
		}
	}
	return sums
}

// Save writes the parameters to dir
func (p *Params) Save(dir string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, paramsFile), data, 0o644)
}

// LoadParams reads the parameters a populate run saved in dir
func LoadParams(dir string) (*Params, error) {
	data, err := os.ReadFile(filepath.Join(dir, paramsFile))
	if err != nil {
		return nil, fmt.Errorf("no sum-store population in %s: %w", dir, err)
	}
	p := &Params{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", paramsFile, err)
	}
	if p.Token == "" {
		return nil, errors.New("population has no checkpoint token")
	}
	return p, p.validate()
}

func newTyped() *kv.Typed[uint64, uint64] {
	return kv.NewTyped(codec.Uint64(), codec.Add(codec.Uint64()))
}

// increment adds one to the key of serial. Statuses other than OK and PENDING
// fail the run, since the totals could not match afterwards.
func (p *Params) increment(typed *kv.Typed[uint64, uint64], sess *kv.Session, serial uint64) error {
	status, err := typed.Rmw(sess, p.keyOf(serial), 1, serial)
	if err != nil {
		return err
	}
	if status != kv.StatusOK && status != kv.StatusPending {
		return fmt.Errorf("increment %d on session %s: %s", serial, sess.ID(), status)
	}
	return nil
}

// drain completes the pending increments of sess and fails if one of them did
// not apply
func drain(sess *kv.Session) error {
	sess.CompletePending(true)
	if failures := sess.Failures(); len(failures) > 0 {
		f := failures[0]
		return fmt.Errorf("%d pending increments on session %s failed, first %d: %s", len(failures), sess.ID(), f.Serial, f.Status)
	}
	return nil
}

// Populate runs the workers concurrently and takes a full checkpoint once every
// worker is halfway through. The sessions stay live until the checkpoint is
// taken, so all of them are part of it. The token is stored in p.
func Populate(store *kv.Store, p *Params) error {
	if err := p.validate(); err != nil {
		return err
	}
	typed := newTyped()

	var halfway sync.WaitGroup
	halfway.Add(p.Workers)
	checkpointed := make(chan struct{})

	var g errgroup.Group
	for w := 0; w < p.Workers; w++ {
		g.Go(func() error {
			reached := false
			defer func() {
				if !reached {
					halfway.Done()
				}
			}()
			sess, err := store.StartSession()
			if err != nil {
				return err
			}
			defer sess.Stop()

			for serial := uint64(1); serial <= p.Ops; serial++ {
				if err := p.increment(typed, sess, serial); err != nil {
					return err
				}
				if serial == p.Ops/2 {
					reached = true
					halfway.Done()
				}
			}
			if err := drain(sess); err != nil {
				return err
			}
			<-checkpointed
			return nil
		})
	}

	halfway.Wait()
	cp, cpErr := store.Checkpoint()
	close(checkpointed)
	if err := g.Wait(); err != nil {
		return err
	}
	if cpErr != nil {
		return cpErr
	}
	p.Token = cp.Token
	log.Infof("sum-store populated: %d workers x %d ops, checkpoint %s", p.Workers, p.Ops, cp.Token)
	return nil
}

// Mismatch is a key whose recovered value differs from the expected one
type Mismatch struct {
	Key      uint64
	Expected uint64
	Actual   uint64
}

// Report is the outcome of Verify
type Report struct {
	Version    uint32
	Serials    map[string]uint64
	Mismatches []Mismatch
	// Replayed is set when the remaining operations were replayed and the
	// totals checked afterwards
	Replayed bool
}

// OK reports whether every key had the expected value
func (r *Report) OK() bool {
	return len(r.Mismatches) == 0
}

// Verify recovers the checkpoint of p, continues every recovered session and
// checks that each key holds exactly the increments up to the recovered
// serials. With replay set, the sessions then issue their remaining operations
// and the full totals are checked as well.
func Verify(store *kv.Store, p *Params, replay bool) (*Report, error) {
	rec, err := store.Recover(p.Token, p.Token)
	if err != nil {
		return nil, err
	}
	if len(rec.SessionIDs) != p.Workers {
		return nil, fmt.Errorf("checkpoint %s recorded %d sessions, expected %d", p.Token, len(rec.SessionIDs), p.Workers)
	}

	report := &Report{Version: rec.Version, Serials: make(map[string]uint64, len(rec.SessionIDs))}
	sessions := make([]*kv.Session, 0, len(rec.SessionIDs))
	defer func() {
		for _, sess := range sessions {
			sess.Stop()
		}
	}()
	serials := make([]uint64, 0, len(rec.SessionIDs))
	for _, id := range rec.SessionIDs {
		sess, serial, err := store.ContinueSession(id)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
		serials = append(serials, serial)
		report.Serials[id] = serial
	}

	typed := newTyped()
	check, err := store.StartSession()
	if err != nil {
		return nil, err
	}
	defer check.Stop()

	var serial uint64
	compare := func(expected []uint64) error {
		for k, want := range expected {
			serial++
			status, pending, err := typed.Read(check, uint64(k), serial)
			if err != nil {
				return err
			}
			if status == kv.StatusPending {
				check.CompletePending(true)
			}
			got, _ := pending.Get()
			if err := pending.Err(); err != nil {
				return err
			}
			if got != want {
				report.Mismatches = append(report.Mismatches, Mismatch{Key: uint64(k), Expected: want, Actual: got})
			}
		}
		return nil
	}

	if err := compare(p.expected(serials)); err != nil {
		return nil, err
	}
	if !replay || !report.OK() {
		return report, nil
	}

	for i, sess := range sessions {
		for s := serials[i] + 1; s <= p.Ops; s++ {
			if err := p.increment(typed, sess, s); err != nil {
				return nil, err
			}
		}
		if err := drain(sess); err != nil {
			return nil, err
		}
	}
	full := make([]uint64, p.Workers)
	for i := range full {
		full[i] = p.Ops
	}
	report.Replayed = true
	if err := compare(p.expected(full)); err != nil {
		return nil, err
	}
	return report, nil
}

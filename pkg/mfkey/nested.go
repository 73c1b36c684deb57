package mfkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/barnettlynn/mfkey/pkg/mfclassic"
)

const (
	DefaultNestedTimeout = 1500 * time.Millisecond
	DefaultCheckTimeout  = 2500 * time.Millisecond
)

// Config tunes the recovery engine.
type Config struct {
	NestedTimeout time.Duration // bound on one nonce acquisition
	CheckTimeout  time.Duration // bound on one key batch check

	// Progress, when set, is called after every brute force batch.
	Progress func(done, total int)
}

// Engine runs nested and brute force key recovery against a device.
type Engine struct {
	dev     NestedDevice
	checker KeyChecker
	cfg     Config
}

// NewEngine creates an engine. dev may be nil when only BruteForce and
// CheckSectors are used.
func NewEngine(dev NestedDevice, checker KeyChecker, cfg Config) *Engine {
	if cfg.NestedTimeout <= 0 {
		cfg.NestedTimeout = DefaultNestedTimeout
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = DefaultCheckTimeout
	}
	return &Engine{dev: dev, checker: checker, cfg: cfg}
}

// NestedRequest names the known sector key and the target sector key.
type NestedRequest struct {
	KnownBlock    uint8
	KnownKeyType  mfclassic.KeyType
	KnownKey      mfclassic.Key
	TargetBlock   uint8
	TargetKeyType mfclassic.KeyType
	Calibrate     bool
}

// Outcome classifies a nested run that completed without device errors.
type Outcome int

const (
	OutcomeFound        Outcome = iota // key verified by the oracle
	OutcomeNoCandidates                // intersection left no state
	OutcomeNotVerified                 // oracle rejected every candidate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeNoCandidates:
		return "no candidates"
	case OutcomeNotVerified:
		return "not verified"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// NestedResult reports a nested run.
type NestedResult struct {
	Outcome    Outcome
	Key        mfclassic.Key
	UID        uint32
	Block      uint8
	KeyType    mfclassic.KeyType
	Candidates int
}

// RecoverNested recovers the target key from two nested authentications.
func (e *Engine) RecoverNested(ctx context.Context, req NestedRequest) (NestedResult, error) {
	if e.dev == nil {
		return NestedResult{}, errors.New("no nested device configured")
	}

	nctx, cancel := context.WithTimeout(ctx, e.cfg.NestedTimeout)
	resp, err := e.dev.AcquireNonces(nctx, mfclassic.NonceRequest{
		KnownBlock:    req.KnownBlock,
		KnownKeyType:  req.KnownKeyType,
		KnownKey:      req.KnownKey,
		TargetBlock:   req.TargetBlock,
		TargetKeyType: req.TargetKeyType,
		Calibrate:     req.Calibrate,
	})
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !mfclassic.IsTimeout(err) {
			err = &mfclassic.TimeoutError{Op: "nested", Cause: err}
		}
		return NestedResult{}, err
	}

	res := NestedResult{UID: resp.UID, Block: resp.Block, KeyType: resp.KeyType}
	slog.Debug("nested samples",
		"uid", fmt.Sprintf("%08X", resp.UID),
		"nt0", fmt.Sprintf("%08X", resp.Samples[0].NT),
		"ks0", fmt.Sprintf("%08X", resp.Samples[0].KS1),
		"nt1", fmt.Sprintf("%08X", resp.Samples[1].NT),
		"ks1", fmt.Sprintf("%08X", resp.Samples[1].KS1))

	lists, err := recoverLists(ctx, resp)
	if err != nil {
		return res, err
	}
	a, b := lists[0], lists[1]
	slog.Debug("candidate states", "list0", len(a.States), "list1", len(b.States))

	if err := IntersectFingerprint(a, b); err != nil {
		return res, err
	}
	a.SortByValue()
	b.SortByValue()
	a.Dedupe()
	b.Dedupe()
	if err := IntersectValue(a, b); err != nil {
		return res, err
	}

	res.Candidates = len(a.States)
	if res.Candidates == 0 {
		res.Outcome = OutcomeNoCandidates
		slog.Info("no candidate keys", "uid", fmt.Sprintf("%08X", res.UID), "block", res.Block, "key_type", res.KeyType.String())
		return res, nil
	}

	key, found, err := e.verify(ctx, res.Block, res.KeyType, false, a.Keys())
	if err != nil {
		return res, err
	}
	if !found {
		res.Outcome = OutcomeNotVerified
		slog.Info("candidates rejected", "uid", fmt.Sprintf("%08X", res.UID), "block", res.Block, "key_type", res.KeyType.String(), "candidates", res.Candidates)
		return res, nil
	}
	res.Outcome = OutcomeFound
	res.Key = key
	slog.Info("found key", "uid", fmt.Sprintf("%08X", res.UID), "block", res.Block, "key_type", res.KeyType.String(), "key", key.String())
	return res, nil
}

// recoverLists builds and sorts both candidate lists concurrently.
func recoverLists(ctx context.Context, resp mfclassic.NonceResponse) ([2]*StateList, error) {
	var lists [2]*StateList
	g, gctx := errgroup.WithContext(ctx)
	for i := range lists {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			l := NewStateList(resp, i)
			l.SortByFingerprint()
			lists[i] = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return lists, err
	}
	return lists, nil
}

// verify submits keys in batches of MaxBatch and returns the first accepted key.
func (e *Engine) verify(ctx context.Context, block uint8, kt mfclassic.KeyType, clear bool, keys []mfclassic.Key) (mfclassic.Key, bool, error) {
	n := e.checker.MaxBatch()
	if n <= 0 {
		n = mfclassic.DefaultMaxBatch
	}
	for start := 0; start < len(keys); start += n {
		end := min(start+n, len(keys))
		idx, found, err := e.check(ctx, block, kt, clear, keys[start:end])
		if err != nil {
			return mfclassic.Key{}, false, err
		}
		if found {
			return keys[start+idx], true, nil
		}
	}
	return mfclassic.Key{}, false, nil
}

func (e *Engine) check(ctx context.Context, block uint8, kt mfclassic.KeyType, clear bool, keys []mfclassic.Key) (int, bool, error) {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CheckTimeout)
	defer cancel()
	idx, found, err := e.checker.CheckKeys(cctx, block, kt, clear, keys)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !mfclassic.IsTimeout(err) {
			err = &mfclassic.TimeoutError{Op: "check keys", Cause: err}
		}
		return 0, false, err
	}
	if found && (idx < 0 || idx >= len(keys)) {
		return 0, false, fmt.Errorf("oracle reported key index %d for batch of %d", idx, len(keys))
	}
	return idx, found, nil
}

// Legacy status codes of the nested command.
const (
	LegacyTimeout  = -1
	LegacyNotFound = -4
	LegacyFound    = -5
)

// LegacyCode maps a nested run onto the integer convention used by the
// Proxmark client: -1 timeout, device status passed through, -4 nothing
// verified, -5 key found.
func LegacyCode(res NestedResult, err error) int {
	if err != nil {
		if mfclassic.IsTimeout(err) {
			return LegacyTimeout
		}
		if code, ok := mfclassic.IsDeviceError(err); ok {
			return code
		}
		return LegacyNotFound
	}
	if res.Outcome == OutcomeFound {
		return LegacyFound
	}
	return LegacyNotFound
}

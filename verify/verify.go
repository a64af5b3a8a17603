// Package verify implements the stateless step verifier: given a
// pre-root, an access log, and a claimed post-root, it replays the
// logged step against an access.Replay state and checks that the logged
// accesses chain from pre-root to post-root without ever touching a live
// machine. A mismatch anywhere - a wrong address, a stale sibling, a
// flipped byte in any recorded word - surfaces as a panic inside
// access.Replay; this package's only job is to catch that panic and turn
// it into a plain rejection rather than letting it escape to the caller.
package verify

import (
	"github.com/go-rvm/rvm/access"
	"github.com/go-rvm/rvm/interp"
	"github.com/go-rvm/rvm/merkle"
)

// VerifyAccessLog replays log's accesses against a fresh Replay state and
// reports whether every entry chains correctly and the final folded root
// matches log.RootHashAfter. It never panics: access.Replay's internal
// panics (log exhausted early, address mismatch, broken proof chain) are
// recovered here and reported as a plain false.
func VerifyAccessLog(log *access.Log) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	r := access.NewReplay(log)
	if err := interp.Step(r); err != nil {
		return false
	}
	return r.Exhausted() && r.Root() == log.RootHashAfter
}

// VerifyStateTransition is the full verify_state_transition(pre_root, log,
// post_root) operation: it additionally checks that log claims to start
// from preRoot and ends at postRootClaim, on top of VerifyAccessLog's
// internal consistency check. It never errors; disagreement is reported
// as a plain rejection rather than a panic or a thrown error.
func VerifyStateTransition(preRoot merkle.Hash, log *access.Log, postRootClaim merkle.Hash) bool {
	if log.RootHashBefore != preRoot {
		return false
	}
	if !VerifyAccessLog(log) {
		return false
	}
	return log.RootHashAfter == postRootClaim
}

package syncmgr

import (
	"context"
	"sync"
)

type hashToken struct {
	ch   chan struct{}
	refs int
}

// hashLocks hands out one mutual-exclusion token per content hash. Tokens
// are refcounted and dropped once nobody holds or waits for them.
type hashLocks struct {
	mu     sync.Mutex
	tokens map[string]*hashToken
}

func newHashLocks() *hashLocks {
	return &hashLocks{tokens: make(map[string]*hashToken)}
}

// acquire blocks until the token for hash is free or ctx is done. contended
// reports whether the caller had to wait for another holder.
func (l *hashLocks) acquire(ctx context.Context, hash string) (release func(), contended bool, err error) {
	l.mu.Lock()
	tok, ok := l.tokens[hash]
	if !ok {
		tok = &hashToken{ch: make(chan struct{}, 1)}
		l.tokens[hash] = tok
	}
	tok.refs++
	l.mu.Unlock()

	select {
	case tok.ch <- struct{}{}:
	default:
		contended = true
		select {
		case tok.ch <- struct{}{}:
		case <-ctx.Done():
			l.unref(hash, tok)
			return nil, true, ctx.Err()
		}
	}

	var once sync.Once
	release = func() {
		once.Do(func() {
			<-tok.ch
			l.unref(hash, tok)
		})
	}
	return release, contended, nil
}

func (l *hashLocks) unref(hash string, tok *hashToken) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tok.refs--
	if tok.refs == 0 {
		delete(l.tokens, hash)
	}
}

func (l *hashLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tokens)
}

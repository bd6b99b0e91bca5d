package watcher

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Hexidecibel/companion/internal/core/logging"
	"github.com/Hexidecibel/companion/internal/core/pathenc"
	"github.com/Hexidecibel/companion/internal/core/tmux"
)

// Resolver maps terminal-multiplexer sessions that opted in via the session
// environment tag to the encoded project directories the log store uses.
// Refresh rebuilds both directions of the mapping; reads may come from any
// goroutine.
type Resolver struct {
	client *tmux.Client
	tag    string
	log    zerolog.Logger

	mu             sync.RWMutex
	identityToDir  map[string]string
	identityToPath map[string]string
	dirToIdentity  map[string]string
}

// NewResolver creates a Resolver querying through the given tmux client.
// tag is the session environment variable marking opted-in sessions.
func NewResolver(client *tmux.Client, tag string) *Resolver {
	return &Resolver{
		client:         client,
		tag:            tag,
		log:            logging.Component("resolver"),
		identityToDir:  make(map[string]string),
		identityToPath: make(map[string]string),
		dirToIdentity:  make(map[string]string),
	}
}

// Refresh re-enumerates multiplexer sessions and rebuilds the identity
// mappings. A query failure for one session (killed between enumeration and
// detail query) skips that session only; the sweep continues.
func (r *Resolver) Refresh(ctx context.Context) error {
	sessions, err := r.client.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	identityToDir := make(map[string]string)
	identityToPath := make(map[string]string)
	dirToIdentity := make(map[string]string)

	for _, session := range sessions {
		value, tagged, err := r.client.SessionEnv(ctx, session, r.tag)
		if err != nil {
			r.log.Warn().Err(err).Str("session", session).Msg("tag query failed, skipping session")
			continue
		}
		if !tagged || value == "" {
			continue
		}

		dir, err := r.client.SessionPath(ctx, session)
		if err != nil {
			r.log.Warn().Err(err).Str("session", session).Msg("path query failed, skipping session")
			continue
		}

		encoded := pathenc.Encode(dir)
		identityToDir[session] = encoded
		identityToPath[session] = dir
		dirToIdentity[encoded] = session
	}

	r.mu.Lock()
	r.identityToDir = identityToDir
	r.identityToPath = identityToPath
	r.dirToIdentity = dirToIdentity
	r.mu.Unlock()

	return nil
}

// Tag opts a session in by writing the marker variable into its session
// environment.
func (r *Resolver) Tag(ctx context.Context, session string) error {
	return r.client.SetSessionEnv(ctx, session, r.tag, "1")
}

// IdentityForDir returns the tagged identity owning an encoded project
// directory.
func (r *Resolver) IdentityForDir(dir string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.dirToIdentity[dir]
	return identity, ok
}

// DirForIdentity returns the encoded project directory for an identity.
func (r *Resolver) DirForIdentity(identity string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dir, ok := r.identityToDir[identity]
	return dir, ok
}

// PathForIdentity returns the raw working directory for an identity, for
// display.
func (r *Resolver) PathForIdentity(identity string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	path, ok := r.identityToPath[identity]
	return path, ok
}

// Identities returns all tagged identities, sorted.
func (r *Resolver) Identities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.identityToDir))
	for identity := range r.identityToDir {
		out = append(out, identity)
	}
	sort.Strings(out)
	return out
}

// HasTagged reports whether any identity is currently tagged. Path
// filtering is disabled until the first tagged identity appears so early
// activity is not lost.
func (r *Resolver) HasTagged() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.dirToIdentity) > 0
}

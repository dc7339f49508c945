// Package acl implements hierarchical path permission evaluation with
// deny-trumps-allow semantics (spec §4.6). Entries are stored durably
// (surviving restart) but evaluation runs lock-free against an
// immutable snapshot the writer swaps in atomically.
package acl

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cuemby/databay/pkg/durable"
)

// Entry is one durable (resourcePath, subject) permission grant/deny
// pair. Subject "*" is the wildcard matched in addition to the
// requester's own subject id at every path prefix.
type Entry struct {
	ResourcePath string
	Subject      string
	Allow        Permission
	Deny         Permission
}

type snapshot = map[string]map[string]Entry // resourcePath -> subject -> Entry

// Engine evaluates access requests against the durable entry table.
type Engine struct {
	store *durable.State[Entry]
	cur   atomic.Pointer[snapshot]
	mu    sync.Mutex // serializes writers; readers never block
}

// Open loads (or creates) the ACL table rooted at dir.
func Open(dir string) (*Engine, error) {
	store, err := durable.Open[Entry](dir, "acl")
	if err != nil {
		return nil, err
	}
	e := &Engine{store: store}
	e.rebuild()
	return e, nil
}

// Close flushes the underlying durable store.
func (e *Engine) Close() error { return e.store.Close() }

func entryKey(path, subject string) string { return path + "\x00" + subject }

// Grant durably records an allow/deny pair for (resourcePath, subject)
// and atomically publishes the new snapshot for readers.
func (e *Engine) Grant(resourcePath, subject string, allow, deny Permission) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	path := NormalizePath(resourcePath)
	entry := Entry{ResourcePath: path, Subject: subject, Allow: allow, Deny: deny}
	if err := e.store.Set(entryKey(path, subject), entry); err != nil {
		return err
	}
	e.rebuild()
	return nil
}

// Revoke removes any entry for (resourcePath, subject).
func (e *Engine) Revoke(resourcePath, subject string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	path := NormalizePath(resourcePath)
	if err := e.store.Remove(entryKey(path, subject)); err != nil {
		return err
	}
	e.rebuild()
	return nil
}

func (e *Engine) rebuild() {
	next := make(snapshot)
	for _, k := range e.store.Keys() {
		entry, ok := e.store.TryGet(k)
		if !ok {
			continue
		}
		bySubject, ok := next[entry.ResourcePath]
		if !ok {
			bySubject = make(map[string]Entry)
			next[entry.ResourcePath] = bySubject
		}
		bySubject[entry.Subject] = entry
	}
	e.cur.Store(&next)
}

const wildcardSubject = "*"

// HasAccess walks every prefix of resourcePath from root to full,
// accumulating allow/deny bits from both the subject-specific and
// wildcard entries at each prefix. Deny always wins: any ancestor deny
// intersecting the requested permission denies access outright,
// regardless of any allow (spec invariant I8).
func (e *Engine) HasAccess(resourcePath, subject string, requested Permission) bool {
	snap := *e.cur.Load()
	path := NormalizePath(resourcePath)

	var effectiveAllow, effectiveDeny Permission
	for _, prefix := range pathPrefixes(path) {
		bySubject, ok := snap[prefix]
		if !ok {
			continue
		}
		if entry, ok := bySubject[subject]; ok {
			effectiveAllow |= entry.Allow
			effectiveDeny |= entry.Deny
		}
		if entry, ok := bySubject[wildcardSubject]; ok {
			effectiveAllow |= entry.Allow
			effectiveDeny |= entry.Deny
		}
	}

	if effectiveDeny.Intersects(requested) {
		return false
	}
	return effectiveAllow.Has(requested)
}

// NormalizePath collapses "//" and strips leading/trailing "/".
func NormalizePath(path string) string {
	parts := strings.Split(path, "/")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return strings.Join(cleaned, "/")
}

// pathPrefixes returns every prefix of a normalized path from root
// ("") through the full path, e.g. "a/b/c" -> ["", "a", "a/b", "a/b/c"].
func pathPrefixes(path string) []string {
	if path == "" {
		return []string{""}
	}
	segments := strings.Split(path, "/")
	prefixes := make([]string, 0, len(segments)+1)
	prefixes = append(prefixes, "")
	for i := range segments {
		prefixes = append(prefixes, strings.Join(segments[:i+1], "/"))
	}
	return prefixes
}

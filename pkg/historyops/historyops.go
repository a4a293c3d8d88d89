// Package historyops implements WorkspaceHistoryOps (spec §6.1): the public
// facade over a workspace's history cache that answers "what did this path
// look like at wall-clock time T?" by walking the manifest tree from the
// workspace root, validating every manifest it has to fetch, and caching the
// result in pkg/history so repeat lookups at nearby timestamps stay local.
package historyops

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parsec-cloud/parsec-client-go/pkg/clock"
	"github.com/parsec-cloud/parsec-client-go/pkg/errs"
	"github.com/parsec-cloud/parsec-client-go/pkg/history"
	"github.com/parsec-cloud/parsec-client-go/pkg/plog"
	"github.com/parsec-cloud/parsec-client-go/pkg/transport"
	"github.com/parsec-cloud/parsec-client-go/pkg/types"
	"github.com/parsec-cloud/parsec-client-go/pkg/validator"
)

// Validator is the subset of *validator.Validator WorkspaceHistoryOps
// delegates manifest/block validation to — the same interface-seam pattern
// pkg/certops uses, so a *certops.CertificateOps already wired with
// WithValidator satisfies this too.
type Validator interface {
	ValidateWorkspaceManifest(ctx context.Context, in validator.ValidateManifestInput) (*types.WorkspaceManifest, error)
	ValidateChildManifest(ctx context.Context, in validator.ValidateManifestInput) (types.Manifest, error)
	ValidateBlock(ctx context.Context, realm types.RealmID, keyIndex uint64, access types.BlockRef, encrypted []byte) ([]byte, error)
}

// versionKey identifies one version of one entry, for the key-index side
// cache: pkg/history.Store caches the decoded Manifest but not the keyIndex
// its encryption used, since that's fetch-time metadata external to the
// manifest's own content (spec §4.2.1 threads KeyIndex in from the caller,
// never from the decoded payload).
type versionKey struct {
	id      types.VlobID
	version uint32
}

// WorkspaceHistoryOps answers point-in-time reads against one workspace
// realm, composing the history cache, the authenticated transport, and a
// Validator for manifest/block decryption and integrity checks.
type WorkspaceHistoryOps struct {
	store     *history.Store
	cmds      transport.AuthenticatedCmds
	validator Validator
	realm     types.RealmID
	clock     clock.TimeProvider
	log       zerolog.Logger

	mu         sync.Mutex
	keyIndexes map[versionKey]uint64

	fdMu   sync.Mutex
	fds    map[FileDescriptor]*openFile
	nextFD uint64
}

// New creates a WorkspaceHistoryOps for one workspace realm.
func New(store *history.Store, cmds transport.AuthenticatedCmds, v Validator, realm types.RealmID, tp clock.TimeProvider) *WorkspaceHistoryOps {
	if tp == nil {
		tp = clock.Real{}
	}
	return &WorkspaceHistoryOps{
		store:      store,
		cmds:       cmds,
		validator:  v,
		realm:      realm,
		clock:      tp,
		log:        plog.WithComponent("historyops"),
		keyIndexes: map[versionKey]uint64{},
		fds:        map[FileDescriptor]*openFile{},
	}
}

// EntryStat is the generic shape of stat_entry's answer: enough to tell a
// file from a directory and report size/version/timestamps without exposing
// the full manifest payload.
type EntryStat struct {
	ID      types.VlobID
	Kind    types.ManifestKind
	Version uint32
	Created time.Time
	Updated time.Time
	Size    uint64 // meaningful only when Kind == ManifestFile
}

func entryStatOf(m types.Manifest) EntryStat {
	meta := m.Meta()
	st := EntryStat{ID: meta.ID, Kind: m.Kind(), Version: meta.Version, Created: meta.Created, Updated: meta.Updated}
	if fm, ok := m.(*types.FileManifest); ok {
		st.Size = fm.Size
	}
	return st
}

// DirEntry is one named child of a folder/workspace listing.
type DirEntry struct {
	Name string
	ID   types.VlobID
}

// StatEntry implements spec §6.1's stat_entry: resolve path at wall-clock
// time at (the current time if at is zero) and report its kind/size/version.
func (o *WorkspaceHistoryOps) StatEntry(ctx context.Context, path string, at time.Time) (EntryStat, error) {
	at = o.resolveAt(at)
	m, _, err := o.resolvePath(ctx, path, at)
	if err != nil {
		return EntryStat{}, err
	}
	return entryStatOf(m), nil
}

// OpenFolderReader implements spec §6.1's open_folder_reader: the sorted
// name->id listing of path's children at at.
func (o *WorkspaceHistoryOps) OpenFolderReader(ctx context.Context, path string, at time.Time) ([]DirEntry, error) {
	at = o.resolveAt(at)
	m, _, err := o.resolvePath(ctx, path, at)
	if err != nil {
		return nil, err
	}
	children, err := childrenOf(m)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(children))
	for name, id := range children {
		out = append(out, DirEntry{Name: name, ID: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (o *WorkspaceHistoryOps) resolveAt(at time.Time) time.Time {
	if at.IsZero() {
		return o.clock.Now()
	}
	return at
}

// resolvePath walks from the workspace root down to path, fetching and
// validating every manifest not already cached at at.
func (o *WorkspaceHistoryOps) resolvePath(ctx context.Context, path string, at time.Time) (types.Manifest, uint64, error) {
	current, keyIndex, err := o.fetchManifest(ctx, nil, at)
	if err != nil {
		return nil, 0, err
	}
	for _, name := range splitPath(path) {
		children, err := childrenOf(current)
		if err != nil {
			return nil, 0, err
		}
		childID, ok := children[name]
		if !ok {
			return nil, 0, errs.ErrEntryNotFound
		}
		current, keyIndex, err = o.fetchManifest(ctx, &childID, at)
		if err != nil {
			return nil, 0, err
		}
	}
	return current, keyIndex, nil
}

func childrenOf(m types.Manifest) (map[string]types.VlobID, error) {
	switch mm := m.(type) {
	case *types.WorkspaceManifest:
		return mm.Children, nil
	case *types.FolderManifest:
		return mm.Children, nil
	default:
		return nil, errs.ErrNotADirectory
	}
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// fetchManifest resolves entryID (nil meaning the workspace root) at at,
// consulting the history cache before going to the server.
func (o *WorkspaceHistoryOps) fetchManifest(ctx context.Context, entryID *types.VlobID, at time.Time) (types.Manifest, uint64, error) {
	id := o.realm
	if entryID != nil {
		id = *entryID
	}

	cached := o.store.Resolve(id, at)
	switch cached.Status {
	case history.ResolvedNotFound:
		return nil, 0, errs.ErrEntryNotFound
	case history.ResolvedExists:
		if keyIndex, ok := o.cachedKeyIndex(id, cached.Manifest.Meta().Version); ok {
			return cached.Manifest, keyIndex, nil
		}
		// Manifest content is cached but we never recorded its keyIndex
		// (process restart, or populated by another path) — fall through
		// and re-fetch so the block-read path has a keyIndex to use.
	}

	resp, err := o.cmds.VlobRead(ctx, id, nil, &at)
	if err != nil {
		return nil, 0, &errs.Offline{Cause: err}
	}

	in := validator.ValidateManifestInput{
		RealmID:           o.realm,
		KeyIndex:          resp.KeyIndex,
		Author:            resp.Author,
		ExpectedVersion:   resp.Version,
		ExpectedTimestamp: resp.Timestamp,
		Encrypted:         resp.Encrypted,
	}

	var manifest types.Manifest
	if entryID == nil {
		manifest, err = o.validator.ValidateWorkspaceManifest(ctx, in)
	} else {
		in.EntryID = entryID
		manifest, err = o.validator.ValidateChildManifest(ctx, in)
	}
	if err != nil {
		return nil, 0, err
	}

	if err := o.store.PopulateExists(at, manifest); err != nil {
		return nil, 0, err
	}
	o.setKeyIndex(id, manifest.Meta().Version, resp.KeyIndex)
	return manifest, resp.KeyIndex, nil
}

func (o *WorkspaceHistoryOps) cachedKeyIndex(id types.VlobID, version uint32) (uint64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	k, ok := o.keyIndexes[versionKey{id: id, version: version}]
	return k, ok
}

func (o *WorkspaceHistoryOps) setKeyIndex(id types.VlobID, version uint32, keyIndex uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.keyIndexes[versionKey{id: id, version: version}] = keyIndex
}

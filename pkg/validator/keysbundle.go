package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/parsec-cloud/parsec-client-go/pkg/certstore"
	"github.com/parsec-cloud/parsec-client-go/pkg/crypto"
	"github.com/parsec-cloud/parsec-client-go/pkg/errs"
	"github.com/parsec-cloud/parsec-client-go/pkg/metrics"
	"github.com/parsec-cloud/parsec-client-go/pkg/transport"
	"github.com/parsec-cloud/parsec-client-go/pkg/types"
)

// keysBundleCache caches the active realm-keys bundle per realm (spec
// §4.2.2), generalizing the teacher's pkg/security/ca.go cache-with-mutex
// pattern (certCache map[string]*CachedCert + sync.RWMutex) to a per-realm
// keys bundle.
type keysBundleCache struct {
	mu      sync.RWMutex
	entries map[types.RealmID]*types.KeysBundle
}

func newKeysBundleCache() *keysBundleCache {
	return &keysBundleCache{entries: map[types.RealmID]*types.KeysBundle{}}
}

func (c *keysBundleCache) get(realm types.RealmID) (*types.KeysBundle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.entries[realm]
	return b, ok
}

func (c *keysBundleCache) set(realm types.RealmID, b *types.KeysBundle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[realm] = b
}

func (c *keysBundleCache) invalidate(realm types.RealmID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, realm)
}

// loadKeysBundle returns the cached bundle for realm if it already covers
// keyIndex (nil means "whatever is current"); otherwise it performs the
// single server round trip from spec §4.2.2 and refreshes the cache.
func (v *Validator) loadKeysBundle(ctx context.Context, realm types.RealmID, keyIndex *uint64) (*types.KeysBundle, error) {
	if cached, ok := v.bundles.get(realm); ok {
		if keyIndex == nil || *keyIndex <= cached.KeyIndex {
			metrics.ValidatorKeysBundleCacheTotal.WithLabelValues("hit").Inc()
			return cached, nil
		}
	}
	metrics.ValidatorKeysBundleCacheTotal.WithLabelValues("miss").Inc()

	resp, err := v.cmds.RealmGetKeysBundle(ctx, realm, keyIndex)
	if err != nil {
		switch {
		case errors.Is(err, transport.ErrAccessNotAvailableForAuthor), errors.Is(err, transport.ErrAuthorNotAllowed):
			return nil, errs.ErrNotAllowed
		case errors.Is(err, transport.ErrBadKeyIndex):
			return nil, errs.NewInternal(err)
		default:
			return nil, &errs.Offline{Cause: err}
		}
	}

	serialized, err := crypto.Open(v.wrapKey, resp.KeysBundleAccess)
	if err != nil {
		return nil, &errs.InvalidKeysBundle{Cause: err}
	}
	var bundle types.KeysBundle
	if err := json.Unmarshal(serialized, &bundle); err != nil {
		return nil, &errs.InvalidKeysBundle{Cause: err}
	}
	if bundle.RealmID != realm {
		return nil, &errs.InvalidKeysBundle{Cause: fmt.Errorf("validator: bundle realm mismatch")}
	}

	if err := v.checkRotationIntegrity(realm, &bundle); err != nil {
		return nil, err
	}

	v.bundles.set(realm, &bundle)
	return &bundle, nil
}

// checkRotationIntegrity verifies the bundle's active canary against the
// newest RealmKeyRotation certificate on file for this realm, standing in
// for the admin signature check spec §4.2.2 describes.
func (v *Validator) checkRotationIntegrity(realm types.RealmID, bundle *types.KeysBundle) error {
	f1 := certstore.Filter{}
	res, err := v.certs.GetMany(types.CertRealmKeyRotation, f1, certstore.Current(), 0, 0)
	if err != nil {
		return errs.NewInternal(err)
	}
	var newest *types.RealmKeyRotationCertificate
	for i := range res {
		p, ok := res[i].Cert.Payload.(types.RealmKeyRotationCertificate)
		if !ok || p.RealmID != realm {
			continue
		}
		if newest == nil || p.KeyIndex > newest.KeyIndex {
			pc := p
			newest = &pc
		}
	}
	if newest == nil {
		return &errs.InvalidKeysBundle{Cause: fmt.Errorf("validator: no rotation certificate for realm")}
	}
	if newest.KeyIndex != bundle.KeyIndex {
		return &errs.InvalidKeysBundle{Cause: fmt.Errorf("validator: bundle key index %d does not match rotation certificate %d", bundle.KeyIndex, newest.KeyIndex)}
	}
	if string(newest.KeyCanary) != string(bundle.Canary) {
		return &errs.InvalidKeysBundle{Cause: fmt.Errorf("validator: bundle canary mismatch")}
	}
	return nil
}

// keyAt resolves bundle's key at keyIndex, polling the server exactly once
// more on a miss (spec §4.2.1 step 2, §5 "poll-then-retry" guarantee).
func (v *Validator) keyAt(ctx context.Context, realm types.RealmID, keyIndex uint64) ([]byte, error) {
	bundle, err := v.loadKeysBundle(ctx, realm, &keyIndex)
	if err != nil {
		return nil, err
	}
	if key, ok := bundle.KeyAt(keyIndex); ok {
		return key, nil
	}
	// Single retry: force a fresh round trip past the cache.
	metrics.ValidatorKeysBundleCacheTotal.WithLabelValues("retry").Inc()
	v.bundles.invalidate(realm)
	bundle, err = v.loadKeysBundle(ctx, realm, &keyIndex)
	if err != nil {
		return nil, err
	}
	if key, ok := bundle.KeyAt(keyIndex); ok {
		return key, nil
	}
	return nil, &errs.InvalidKeysBundle{Cause: errs.ErrKeyNotFound}
}

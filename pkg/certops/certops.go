// Package certops implements CertificateOps (spec §6.1): the public facade
// that polls the server for new certificates, feeds them through
// certstore.AddBatch, and issues every certificate-producing write (realm
// lifecycle, user lifecycle, Shamir recovery setup). It is the top of the
// leaves-first dependency order: CertStore -> Validators -> CertificateOps.
package certops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/parsec-cloud/parsec-client-go/pkg/certstore"
	"github.com/parsec-cloud/parsec-client-go/pkg/clock"
	"github.com/parsec-cloud/parsec-client-go/pkg/crypto"
	"github.com/parsec-cloud/parsec-client-go/pkg/errs"
	"github.com/parsec-cloud/parsec-client-go/pkg/metrics"
	"github.com/parsec-cloud/parsec-client-go/pkg/plog"
	"github.com/parsec-cloud/parsec-client-go/pkg/transport"
	"github.com/parsec-cloud/parsec-client-go/pkg/types"
)

// CertificateOps owns the certificate store, the authenticated transport,
// and the local device's own signing identity: every certificate this
// device issues is authored by (deviceID, signKey). Generating that keypair
// is out of scope here (spec Non-goals "key generation schemes") — callers
// obtain it from pkg/config's device identity file and pass it in at
// construction.
type CertificateOps struct {
	certs    *certstore.Store
	cmds     transport.AuthenticatedCmds
	deviceID types.DeviceID
	userID   types.UserID
	signKey  crypto.SigningKey
	clock    clock.TimeProvider
	log      zerolog.Logger

	validator Validator
}

// New creates a CertificateOps for one authenticated device connection.
func New(certs *certstore.Store, cmds transport.AuthenticatedCmds, deviceID types.DeviceID, userID types.UserID, signKey crypto.SigningKey, tp clock.TimeProvider) *CertificateOps {
	if tp == nil {
		tp = clock.Real{}
	}
	return &CertificateOps{
		certs:    certs,
		cmds:     cmds,
		deviceID: deviceID,
		userID:   userID,
		signKey:  signKey,
		clock:    tp,
		log:      plog.WithComponent("certops"),
	}
}

// PollServerForNewCertificates implements spec §6.1's
// poll_server_for_new_certificates: fetch the server's delta past our
// current per-topic cursors and ingest it, returning the number of
// certificates applied.
func (o *CertificateOps) PollServerForNewCertificates(ctx context.Context) (int, error) {
	cursors, err := o.certs.LastTimestamps()
	if err != nil {
		return 0, errs.NewInternal(err)
	}
	resp, err := o.cmds.CertificateGet(ctx, cursors)
	if err != nil {
		return 0, &errs.Offline{Cause: err}
	}

	batch := certstore.Batch{
		types.TopicCommon:    resp.Common,
		types.TopicSequester: resp.Sequester,
		types.TopicShamir:    resp.Shamir,
	}
	for _, certs := range resp.Realm {
		batch[types.TopicRealm] = append(batch[types.TopicRealm], certs...)
	}

	start := o.clock.Now()
	report, err := o.certs.AddBatch(batch)
	metrics.CertIngestBatchDuration.Observe(o.clock.Now().Sub(start).Seconds())
	if err != nil {
		var ic *errs.InvalidCertificate
		if errors.As(err, &ic) {
			metrics.CertIngestRejectedTotal.WithLabelValues("invalid").Inc()
		}
		return 0, err
	}
	if report.MaybeRedactedSwitch {
		o.log.Debug().Msg("user redacted/full handle switch detected during poll")
	}
	return report.Applied, nil
}

// WaitForCursors implements validator.CursorWaiter (spec §4.2.1 step 1) as a
// single poll attempt: if the local cursors already satisfy neededCommon
// and neededRealm, return immediately; otherwise poll the server exactly
// once and re-check. A validator never retries beyond that single poll.
func (o *CertificateOps) WaitForCursors(ctx context.Context, neededCommon, neededRealm time.Time, realm types.RealmID) error {
	if o.cursorsSatisfy(neededCommon, neededRealm, realm) {
		return nil
	}
	if _, err := o.PollServerForNewCertificates(ctx); err != nil {
		return err
	}
	if o.cursorsSatisfy(neededCommon, neededRealm, realm) {
		return nil
	}
	return &errs.Offline{Cause: fmt.Errorf("certops: server did not catch up to required cursors")}
}

func (o *CertificateOps) cursorsSatisfy(neededCommon, neededRealm time.Time, realm types.RealmID) bool {
	cursors, err := o.certs.LastTimestamps()
	if err != nil {
		return false
	}
	if !neededCommon.IsZero() {
		if cursors.Common == nil || cursors.Common.Before(neededCommon) {
			return false
		}
	}
	if !neededRealm.IsZero() {
		rts, ok := cursors.Realm[realm]
		if !ok || rts.Before(neededRealm) {
			return false
		}
	}
	return true
}

// ForgetAllCertificates implements spec §6.1's forget_all_certificates:
// wipe every locally cached certificate and cursor (used when the server
// state is known to have rolled back, per spec §4.1).
func (o *CertificateOps) ForgetAllCertificates() error {
	return o.certs.ForgetAll()
}

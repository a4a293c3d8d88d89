package certops

import (
	"context"
	"fmt"
	"time"

	"github.com/parsec-cloud/parsec-client-go/pkg/certstore"
	"github.com/parsec-cloud/parsec-client-go/pkg/types"
)

// ShamirShare is one recipient's opaque share of a Shamir recovery setup.
// Splitting the recovery secret into these shares is key-generation-scheme
// territory (spec Non-goals) — ShareData is supplied by the caller already
// split and is handled here as an opaque blob.
type ShamirShare struct {
	Recipient types.UserID
	ShareData []byte
}

// SetupShamirRecovery implements spec §6.1's setup_shamir_recovery: publish
// a brief certificate naming the threshold and per-recipient weights, plus
// one share certificate per recipient, submitted together in a single
// request so a reader never observes the brief without its shares.
func (o *CertificateOps) SetupShamirRecovery(ctx context.Context, threshold uint8, shares []ShamirShare) error {
	if threshold == 0 {
		return fmt.Errorf("certops: shamir threshold must be non-zero")
	}
	if len(shares) == 0 {
		return fmt.Errorf("certops: shamir recovery needs at least one share")
	}
	weights := make(map[types.UserID]uint8, len(shares))
	for _, s := range shares {
		weights[s.Recipient]++
	}

	return o.retryStampAhead(certstore.StampAheadUserOrDevice,
		func(ts time.Time) (certstore.SignedCertificate, error) {
			return o.sign(types.CertShamirBrief, ts, types.ShamirRecoveryBriefCertificate{
				UserID:    o.userID,
				Threshold: threshold,
				Shares:    weights,
			})
		},
		func(briefCert certstore.SignedCertificate) error {
			// Every certificate in the Shamir topic needs a strictly
			// increasing timestamp (spec §3); each share gets the brief's
			// timestamp plus its 1-based index in microseconds.
			ts := briefCert.Cert.Timestamp
			shareCerts := make([]certstore.SignedCertificate, 0, len(shares))
			for i, s := range shares {
				shareTS := ts.Add(time.Duration(i+1) * time.Microsecond)
				shareCert, err := o.sign(types.CertShamirShare, shareTS, types.ShamirRecoveryShareCertificate{
					UserID:      o.userID,
					RecipientID: s.Recipient,
					ShareData:   s.ShareData,
				})
				if err != nil {
					return err
				}
				shareCerts = append(shareCerts, shareCert)
			}
			if err := o.cmds.ShamirRecoverySetup(ctx, briefCert, shareCerts); err != nil {
				return err
			}
			all := append([]certstore.SignedCertificate{briefCert}, shareCerts...)
			_, err := o.certs.AddBatch(certstore.Batch{types.TopicShamir: all})
			return err
		},
	)
}

// DeleteShamirRecovery implements spec §6.1's delete_shamir_recovery:
// publish a deletion certificate referencing the brief it supersedes.
func (o *CertificateOps) DeleteShamirRecovery(ctx context.Context, deletedBriefTimestamp time.Time) error {
	return o.retryStampAhead(certstore.StampAheadUserOrDevice,
		func(ts time.Time) (certstore.SignedCertificate, error) {
			return o.sign(types.CertShamirDeletion, ts, types.ShamirRecoveryDeletionCertificate{
				UserID:                o.userID,
				DeletedBriefTimestamp: deletedBriefTimestamp,
			})
		},
		func(cert certstore.SignedCertificate) error {
			if err := o.cmds.ShamirRecoveryDelete(ctx, cert); err != nil {
				return err
			}
			return o.applyLocally(types.TopicShamir, cert)
		},
	)
}

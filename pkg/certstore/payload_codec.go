package certstore

import (
	"encoding/json"
	"fmt"

	"github.com/parsec-cloud/parsec-client-go/pkg/types"
)

func decodePayload(kind types.CertKind, raw json.RawMessage) (any, error) {
	var err error
	switch kind {
	case types.CertUser:
		var p types.UserCertificate
		err = json.Unmarshal(raw, &p)
		return p, err
	case types.CertDevice:
		var p types.DeviceCertificate
		err = json.Unmarshal(raw, &p)
		return p, err
	case types.CertUserUpdate:
		var p types.UserUpdateCertificate
		err = json.Unmarshal(raw, &p)
		return p, err
	case types.CertUserRevocation:
		var p types.UserRevocationCertificate
		err = json.Unmarshal(raw, &p)
		return p, err
	case types.CertRealmRole:
		var p types.RealmRoleCertificate
		err = json.Unmarshal(raw, &p)
		return p, err
	case types.CertRealmKeyRotation:
		var p types.RealmKeyRotationCertificate
		err = json.Unmarshal(raw, &p)
		return p, err
	case types.CertRealmName:
		var p types.RealmNameCertificate
		err = json.Unmarshal(raw, &p)
		return p, err
	case types.CertRealmArchiving:
		var p types.RealmArchivingCertificate
		err = json.Unmarshal(raw, &p)
		return p, err
	case types.CertShamirBrief:
		var p types.ShamirRecoveryBriefCertificate
		err = json.Unmarshal(raw, &p)
		return p, err
	case types.CertShamirShare:
		var p types.ShamirRecoveryShareCertificate
		err = json.Unmarshal(raw, &p)
		return p, err
	case types.CertShamirDeletion:
		var p types.ShamirRecoveryDeletionCertificate
		err = json.Unmarshal(raw, &p)
		return p, err
	case types.CertSequesterAuthority:
		var p types.SequesterAuthorityCertificate
		err = json.Unmarshal(raw, &p)
		return p, err
	case types.CertSequesterService:
		var p types.SequesterServiceCertificate
		err = json.Unmarshal(raw, &p)
		return p, err
	case types.CertSequesterRevoked:
		var p types.SequesterRevokedServiceCertificate
		err = json.Unmarshal(raw, &p)
		return p, err
	default:
		return nil, fmt.Errorf("certstore: unknown certificate kind %s", kind)
	}
}

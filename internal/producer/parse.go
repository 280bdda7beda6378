package producer

import (
	"crypto/rsa"
	"fmt"

	"github.com/kenneth/nac-producer/internal/crypto"
	"github.com/kenneth/nac-producer/internal/ndn"
)

// ParseEKeyData extracts the encryption key name and wrapped content key
// from a key object built by Produce. It performs no signature check: the
// caller must have verified keyObject before trusting the result.
func ParseEKeyData(keyObject *ndn.Data) (ndn.Name, []byte, error) {
	const op = "parse_key_object"

	if keyObject == nil {
		return nil, nil, newError(ContractViolation, op, fmt.Errorf("key object is required"))
	}
	ec, err := ndn.DecodeEncryptedContent(keyObject.Content)
	if err != nil {
		return nil, nil, newError(EncodingFailure, op, err)
	}
	if !crypto.ValidWrappedKeyLength(len(ec.Payload)) {
		return nil, nil, newError(EncodingFailure, op, fmt.Errorf("wrapped key length %d is not a valid modulus length", len(ec.Payload)))
	}
	idx, err := ndn.EncryptionKeyIndex(ec.KeyName)
	if err != nil {
		return nil, nil, newError(EncodingFailure, op, err)
	}

	// The key object's name must bind the embedded key reference.
	_, suffix, err := ndn.SplitKeyObjectName(keyObject.Name)
	if err != nil {
		return nil, nil, newError(EncodingFailure, op, err)
	}
	if !suffix.Equal(ec.KeyName.Sub(idx)) {
		return nil, nil, newError(EncodingFailure, op, fmt.Errorf("key object %s does not match embedded key name %s", keyObject.Name, ec.KeyName))
	}

	return ec.KeyName, ec.Payload, nil
}

// ParseEncryptionKeyData reads an E-KEY packet published by a data owner:
// a Key-typed object named /<authority>/ENC-KEY/<id> whose content is a
// DER RSA public key. It returns the name and the DER bytes ready to pass
// to Produce. No signature check is performed.
func ParseEncryptionKeyData(eKeyData *ndn.Data) (ndn.Name, []byte, error) {
	const op = "parse_encryption_key"

	if eKeyData == nil {
		return nil, nil, newError(ContractViolation, op, fmt.Errorf("encryption key data is required"))
	}
	if _, err := ndn.EncryptionKeyIndex(eKeyData.Name); err != nil {
		return nil, nil, newError(EncodingFailure, op, err)
	}
	if eKeyData.MetaInfo.ContentType != ndn.ContentTypeKey {
		return nil, nil, newError(EncodingFailure, op, fmt.Errorf("%s has content type %s, want %s", eKeyData.Name, eKeyData.MetaInfo.ContentType, ndn.ContentTypeKey))
	}
	if _, err := crypto.ParsePublicKey(eKeyData.Content); err != nil {
		return nil, nil, newError(EncodingFailure, op, err)
	}
	return eKeyData.Name.Prefix(len(eKeyData.Name)), append([]byte(nil), eKeyData.Content...), nil
}

// NewEncryptionKeyData builds the unsigned E-KEY packet for pub.
func NewEncryptionKeyData(keyName ndn.Name, pub *rsa.PublicKey) (*ndn.Data, error) {
	const op = "new_encryption_key"

	if _, err := ndn.EncryptionKeyIndex(keyName); err != nil {
		return nil, newError(ContractViolation, op, err)
	}
	der, err := crypto.MarshalPublicKey(pub)
	if err != nil {
		return nil, newError(ContractViolation, op, err)
	}
	return &ndn.Data{
		Name:     keyName.Prefix(len(keyName)),
		MetaInfo: ndn.MetaInfo{ContentType: ndn.ContentTypeKey},
		Content:  der,
	}, nil
}

// ParseEKeyData is ParseEKeyData with the outcome recorded on the
// producer's metrics and audit log.
func (p *Producer) ParseEKeyData(keyObject *ndn.Data) (ndn.Name, []byte, error) {
	keyName, wrapped, err := ParseEKeyData(keyObject)

	var objectName string
	if keyObject != nil {
		objectName = keyObject.Name.String()
	}
	if err != nil {
		p.metrics.RecordError("parse_key_object", KindOf(err).String())
		p.logger.WithError(err).WithField("key_object_name", objectName).Warn("Failed to parse key object")
	}
	if p.audit != nil {
		var keyNameURI string
		if keyName != nil {
			keyNameURI = keyName.String()
		}
		p.audit.LogParse(objectName, keyNameURI, err == nil, err)
	}
	return keyName, wrapped, err
}

// Package unseal decrypts sealed will credentials under the on-chain
// access-control policy: a credential opens only while the ledger reports
// the subject DECEASED.
package unseal

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"
	"github.com/zeebo/blake3"

	"github.com/charon-estate/charond/internal/ledger"
	"github.com/charon-estate/charond/internal/model"
)

// ErrRefused means the access-control predicate did not hold or the
// ciphertext did not open. Fatal to the one will being processed, never to
// the pipeline.
var ErrRefused = errors.New("unseal: refused")

// Unsealer is the gateway the execution workflow decrypts through.
type Unsealer interface {
	Unseal(ctx context.Context, ciphertext, integrityHash, subject string) (string, error)
}

// AgeUnsealer opens age-sealed credentials with a service-held X25519
// identity after checking the subject's status on the ledger. A successful
// unseal is itself evidence the status predicate passed.
type AgeUnsealer struct {
	identity *age.X25519Identity
	ledger   ledger.Client
}

func New(identityKey string, lc ledger.Client) (*AgeUnsealer, error) {
	id, err := age.ParseX25519Identity(identityKey)
	if err != nil {
		return nil, fmt.Errorf("parse unseal identity: %w", err)
	}
	return &AgeUnsealer{identity: id, ledger: lc}, nil
}

// Recipient returns the public recipient string will-authoring clients
// seal credentials to.
func (u *AgeUnsealer) Recipient() string {
	return u.identity.Recipient().String()
}

// Unseal decrypts a base64 age ciphertext. The caller's integrityHash (hex
// blake3 of the plaintext, recorded at sealing time) is verified after
// decryption; a mismatch is a refusal.
func (u *AgeUnsealer) Unseal(ctx context.Context, ciphertext, integrityHash, subject string) (string, error) {
	info, err := u.ledger.UserInfo(ctx, subject)
	if err != nil {
		return "", fmt.Errorf("check subject status: %w", err)
	}
	if info.Status != model.StatusDeceased {
		return "", fmt.Errorf("%w: subject %s is %s, not DECEASED", ErrRefused, subject, info.Status)
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext is not base64: %v", ErrRefused, err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), u.identity)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRefused, err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRefused, err)
	}

	sum := blake3.Sum256(plaintext)
	if integrityHash != hex.EncodeToString(sum[:]) {
		return "", fmt.Errorf("%w: integrity hash mismatch", ErrRefused)
	}
	return string(plaintext), nil
}

// Seal encrypts a plaintext credential to the service recipient and returns
// the base64 ciphertext plus its hex blake3 integrity hash. Used by the
// will-authoring API.
func (u *AgeUnsealer) Seal(plaintext string) (ciphertext, integrityHash string, err error) {
	return SealFor(u.identity.Recipient().String(), plaintext)
}

// SealFor seals a plaintext to a recipient public key. The will-authoring
// API uses this with the service's published recipient so it never holds
// the private identity.
func SealFor(recipient, plaintext string) (ciphertext, integrityHash string, err error) {
	rcpt, err := age.ParseX25519Recipient(recipient)
	if err != nil {
		return "", "", fmt.Errorf("parse recipient: %w", err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, rcpt)
	if err != nil {
		return "", "", err
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", "", err
	}
	if err := w.Close(); err != nil {
		return "", "", err
	}
	sum := blake3.Sum256([]byte(plaintext))
	return base64.StdEncoding.EncodeToString(buf.Bytes()), hex.EncodeToString(sum[:]), nil
}

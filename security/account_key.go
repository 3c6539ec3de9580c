package security

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"sync"

	"github.com/goliatone/go-warden/core"
)

// StaticAccountKeyProvider serves a key parsed once from PEM, for
// deployments that manage the account key outside the process.
type StaticAccountKeyProvider struct {
	signer crypto.Signer
}

func NewStaticAccountKeyProvider(keyPEM []byte) (*StaticAccountKeyProvider, error) {
	signer, err := parseAccountKeyPEM(keyPEM)
	if err != nil {
		return nil, err
	}
	return &StaticAccountKeyProvider{signer: signer}, nil
}

func (p *StaticAccountKeyProvider) AccountKey(context.Context) (crypto.Signer, error) {
	if p == nil || p.signer == nil {
		return nil, fmt.Errorf("security: account key provider is not configured")
	}
	return p.signer, nil
}

// GeneratedAccountKeyProvider mints an ECDSA P-256 key on first use and keeps
// it for the process lifetime. The ACME account it registers dies with the
// process; suitable for ephemeral and test deployments.
type GeneratedAccountKeyProvider struct {
	once   sync.Once
	signer crypto.Signer
	err    error
}

func NewGeneratedAccountKeyProvider() *GeneratedAccountKeyProvider {
	return &GeneratedAccountKeyProvider{}
}

func (p *GeneratedAccountKeyProvider) AccountKey(context.Context) (crypto.Signer, error) {
	if p == nil {
		return nil, fmt.Errorf("security: account key provider is not configured")
	}
	p.once.Do(func() {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			p.err = fmt.Errorf("security: generate account key: %w", err)
			return
		}
		p.signer = key
	})
	return p.signer, p.err
}

// SealedAccountKeyProvider unseals an encrypted PEM on first use, so the key
// can sit in config or on disk without being readable.
type SealedAccountKeyProvider struct {
	sealer    *KeySealer
	sealedPEM []byte

	once   sync.Once
	signer crypto.Signer
	err    error
}

func NewSealedAccountKeyProvider(sealer *KeySealer, sealedPEM []byte) (*SealedAccountKeyProvider, error) {
	if sealer == nil {
		return nil, fmt.Errorf("security: key sealer is required")
	}
	if len(sealedPEM) == 0 {
		return nil, fmt.Errorf("security: sealed key material is required")
	}
	return &SealedAccountKeyProvider{sealer: sealer, sealedPEM: sealedPEM}, nil
}

// SealAccountKey encodes a signer as PKCS#8 PEM and seals it, producing the
// material NewSealedAccountKeyProvider consumes.
func SealAccountKey(ctx context.Context, sealer *KeySealer, signer crypto.Signer) ([]byte, error) {
	if sealer == nil {
		return nil, fmt.Errorf("security: key sealer is required")
	}
	if signer == nil {
		return nil, fmt.Errorf("security: signer is required")
	}
	der, err := x509.MarshalPKCS8PrivateKey(signer)
	if err != nil {
		return nil, fmt.Errorf("security: encode account key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return sealer.Seal(ctx, keyPEM)
}

func (p *SealedAccountKeyProvider) AccountKey(ctx context.Context) (crypto.Signer, error) {
	if p == nil || p.sealer == nil {
		return nil, fmt.Errorf("security: account key provider is not configured")
	}
	p.once.Do(func() {
		keyPEM, err := p.sealer.Unseal(ctx, p.sealedPEM)
		if err != nil {
			p.err = err
			return
		}
		p.signer, p.err = parseAccountKeyPEM(keyPEM)
	})
	return p.signer, p.err
}

func parseAccountKeyPEM(keyPEM []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("security: account key pem is empty")
	}
	switch block.Type {
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("security: parse account key: %w", err)
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("security: unsupported account key type %T", key)
		}
		return signer, nil
	default:
		return nil, fmt.Errorf("security: unsupported account key pem block %q", block.Type)
	}
}

var (
	_ core.AccountKeyProvider = (*StaticAccountKeyProvider)(nil)
	_ core.AccountKeyProvider = (*GeneratedAccountKeyProvider)(nil)
	_ core.AccountKeyProvider = (*SealedAccountKeyProvider)(nil)
)

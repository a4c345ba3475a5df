package attestation

import (
	"crypto/ecdsa"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	xerrors "AgentReceipt/internal/errors"
)

// Signer produces EIP-712 signatures for one identity.
type Signer interface {
	Address() common.Address
	SignTypedData(typed apitypes.TypedData) ([]byte, error)
}

// KeySigner signs with an in-memory secp256k1 private key.
type KeySigner struct {
	mu         sync.RWMutex
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewKeySigner wraps an ECDSA private key.
func NewKeySigner(key *ecdsa.PrivateKey) (*KeySigner, error) {
	if key == nil {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "private key cannot be nil")
	}
	return &KeySigner{privateKey: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// NewKeySignerFromHex parses a hex encoded private key, with or without 0x.
func NewKeySignerFromHex(hexKey string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidInput, err, "parse private key")
	}
	return NewKeySigner(key)
}

// Address returns the identity derived from the key.
func (s *KeySigner) Address() common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.address
}

// PrivateKey exposes the key for transaction signing by the contract ledger.
func (s *KeySigner) PrivateKey() *ecdsa.PrivateKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.privateKey
}

// SignTypedData signs the EIP-712 digest of typed and returns a 65 byte
// [R || S || V] signature with V in {27, 28}.
func (s *KeySigner) SignTypedData(typed apitypes.TypedData) ([]byte, error) {
	digest, err := Digest(typed)
	if err != nil {
		return nil, err
	}
	return s.SignDigest(digest)
}

// SignDigest signs a 32 byte digest.
func (s *KeySigner) SignDigest(digest []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(digest) != crypto.DigestLength {
		return nil, invalidInput("digest must be %d bytes, got %d", crypto.DigestLength, len(digest))
	}
	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidSignature, err, "sign digest")
	}
	v := signature[64]
	if v >= 27 {
		v -= 27
	}
	signature[64] = (v & 1) + 27
	return signature, nil
}

// RecoverSigner returns the address whose key produced signature over typed.
func RecoverSigner(typed apitypes.TypedData, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, invalidSignature("signature must be %d bytes, got %d", crypto.SignatureLength, len(signature))
	}
	digest, err := Digest(typed)
	if err != nil {
		return common.Address{}, err
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, invalidSignature("invalid recovery id %d", signature[64])
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, xerrors.Wrap(xerrors.CodeInvalidSignature, err, "recover public key")
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// DecodeSignature parses a 0x prefixed hex signature.
func DecodeSignature(signature string) ([]byte, error) {
	raw, err := hexutil.Decode(strings.TrimSpace(signature))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidSignature, err, "decode signature")
	}
	return raw, nil
}

var _ Signer = (*KeySigner)(nil)

// Package signer builds SettlementIntents from SettlementRequests and signs
// them with Ed25519, generalizing the teacher's KeySource/Signer
// abstractions (src/chainadapter/signer.go, keysource.go, keysource_impl.go)
// from multi-chain, multi-curve signing to the single Ed25519 relayer key
// spec §4.3 requires.
package signer

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/crypto/ed25519"

	"github.com/tyler-smith/go-bip39"

	"github.com/yourusername/arcsign/internal/types"
)

const protocolVersion = 1

// Signer builds and signs SettlementIntents with an in-process Ed25519 key.
// The private key is never logged and is held only in process memory, per
// spec §4.3.
type Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// New constructs a Signer directly from a 32-byte Ed25519 seed.
func New(seed []byte) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, types.NewConfigurationError(types.ErrCodeUnreadableKey,
			fmt.Sprintf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed)), nil)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{privateKey: priv, publicKey: priv.Public().(ed25519.PublicKey)}, nil
}

// NewFromMnemonic derives the signing key from a BIP39 mnemonic. There is no
// Ed25519-aware SLIP-10 implementation grounded anywhere in the example
// pack's direct dependencies (the teacher's own derivation path helpers are
// secp256k1-only, used for Bitcoin/Ethereum-style keys), so the seed is
// taken from the BIP39 seed bytes, SHA-256'd down to 32 bytes, and used
// directly as the Ed25519 seed -- deterministic, and documented here rather
// than left implicit.
func NewFromMnemonic(mnemonic, passphrase string) (*Signer, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, types.NewConfigurationError(types.ErrCodeUnreadableKey, "invalid BIP39 mnemonic", nil)
	}

	seed := bip39.NewSeed(mnemonic, passphrase)
	ed25519Seed := sha256.Sum256(seed)
	return New(ed25519Seed[:])
}

// PublicKey returns the signer's Ed25519 public key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.publicKey
}

// Build constructs the deterministic intent_id and expiry for a request
// without signing it, so tests can check the byte-equality law
// independently of signing.
func Build(req types.SettlementRequest, intentTTLSeconds uint64) types.SettlementIntent {
	return types.SettlementIntent{
		ProtocolVersion:  protocolVersion,
		IntentID:         IntentID(req.SourceTxHash),
		SourceChain:      req.SourceChain,
		DestinationChain: req.DestinationChain,
		Sender:           req.Sender,
		Receiver:         req.Receiver,
		Asset:            req.Asset,
		Amount:           req.Amount,
		Nonce:            req.Nonce,
		Timestamp:        req.SourceTimestamp,
		Expiry:           req.SourceTimestamp + intentTTLSeconds,
	}
}

// IntentID is a deterministic function of source_tx_hash so repeated
// construction yields an identical intent (spec §3 SettlementIntent,
// invariant 4).
func IntentID(sourceTxHash string) string {
	sum := sha256.Sum256([]byte("relayer-intent:" + sourceTxHash))
	return base64.RawURLEncoding.EncodeToString(sum[:16])
}

// CanonicalBytes produces the fixed-order, tagged byte encoding that Sign
// and Verify operate over. Field order and tags are fixed for the life of
// the wire format: changing them invalidates every previously-issued
// signature.
func CanonicalBytes(intent types.SettlementIntent) []byte {
	var b strings.Builder

	writeField := func(tag byte, value string) {
		b.WriteByte(tag)
		var length [4]byte
		binary.BigEndian.PutUint32(length[:], uint32(len(value)))
		b.Write(length[:])
		b.WriteString(value)
	}
	writeU64 := func(tag byte, value uint64) {
		b.WriteByte(tag)
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], value)
		b.Write(buf[:])
	}

	writeU64(0x01, uint64(intent.ProtocolVersion))
	writeField(0x02, intent.IntentID)
	writeField(0x03, intent.SourceChain)
	writeField(0x04, intent.DestinationChain)
	writeField(0x05, intent.Sender)
	writeField(0x06, intent.Receiver)
	writeField(0x07, intent.Asset)
	writeU64(0x08, intent.Amount)
	writeU64(0x09, intent.Nonce)
	writeU64(0x0a, intent.Timestamp)
	writeU64(0x0b, intent.Expiry)

	return []byte(b.String())
}

// Sign builds and signs the intent for req, returning a fully populated
// SettlementIntent with its signature set. Signing the same logical request
// twice (same intent_id, same field values) yields a byte-identical
// signature, since Ed25519 signing is deterministic and CanonicalBytes is a
// pure function of the intent's fields.
func (s *Signer) Sign(req types.SettlementRequest, intentTTLSeconds uint64) (types.SettlementIntent, error) {
	if req.Amount == 0 {
		return types.SettlementIntent{}, types.NewRejectedError(types.ErrCodeZeroAmount, "zero-amount settlement rejected before signing", nil)
	}

	intent := Build(req, intentTTLSeconds)
	sig := ed25519.Sign(s.privateKey, CanonicalBytes(intent))
	intent.Signature = base64.StdEncoding.EncodeToString(sig)

	return intent, nil
}

// Verify checks intent.Signature against the canonical encoding of its
// other fields using pub.
func Verify(intent types.SettlementIntent, pub ed25519.PublicKey) bool {
	sig, err := base64.StdEncoding.DecodeString(intent.Signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, CanonicalBytes(intent), sig)
}

// Package wallet implements the wallet provider abstraction (C1): a uniform
// async signer over a local private key or a remote Privy-backed "Flash"
// keystore, grounded on original_source/stark-backend/src/wallet's
// ethers-rs FlashWalletProvider but expressed over go-ethereum.
package wallet

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Signature is an ECDSA signature in the (v, r, s) shape StarkBot's
// transaction queue and x402 signer both expect. V is the EIP-155/typed-tx
// y_parity (0 or 1) rather than a legacy 27/28 recovery id.
type Signature struct {
	V byte
	R [32]byte
	S [32]byte
}

// Bytes returns the signature as the 65-byte r||s||v encoding used by
// EIP-191 personal_sign and most EVM tooling.
func (s Signature) Bytes() []byte {
	out := make([]byte, 65)
	copy(out[0:32], s.R[:])
	copy(out[32:64], s.S[:])
	out[64] = s.V
	return out
}

// TypedData is the minimal EIP-712 payload shape a Provider can sign: the
// dispatcher and x402 signer pass it through as opaque JSON matching
// go-ethereum's apitypes.TypedData on the wire.
type TypedData = map[string]any

// Provider is the uniform signing contract every tool and the x402 signer
// depend on. Exactly two implementations exist: Local (an in-process ECDSA
// key) and Flash (a remote Privy-backed keystore).
type Provider interface {
	// SignMessage signs msg per EIP-191 personal_sign.
	SignMessage(ctx context.Context, msg []byte) (Signature, error)

	// SignTransaction signs an EIP-1559 dynamic fee transaction.
	SignTransaction(ctx context.Context, tx *types.DynamicFeeTx) (Signature, error)

	// SignHash signs a raw 32-byte digest. The local variant signs the
	// digest directly; the remote variant wraps it in a minimal EIP-712
	// envelope since remote keystores typically refuse raw-hash signing.
	SignHash(ctx context.Context, hash [32]byte) (Signature, error)

	// SignTypedData signs an EIP-712 payload.
	SignTypedData(ctx context.Context, data TypedData) (Signature, error)

	// Address returns the wallet's public address.
	Address(ctx context.Context) (common.Address, error)

	// EncryptionKey derives a deterministic backup-encryption key by
	// signing the fixed domain separator "starkbot-backup-key-v1" and
	// keccak-hashing the signature. Cached for the provider's lifetime.
	EncryptionKey(ctx context.Context) (string, error)

	// ModeName reports "standard" for the local provider, "flash" for the
	// remote one.
	ModeName() string
}

// BackupKeyDomainSeparator is the fixed message signed to derive a
// provider's deterministic backup-encryption key.
const BackupKeyDomainSeparator = "starkbot-backup-key-v1"

// ctxKey is an unexported type so the wallet-provider context key never
// collides with a key set by another package.
type ctxKey int

const providerCtxKey ctxKey = iota

// WithContext attaches a Provider to ctx so that a tool executing mid-loop
// can reach it — to sign a transaction it is about to queue, or to pay for
// an upstream x402-priced call (§4.8 step 6: "Instantiate an LLM client,
// passing the wallet provider so any tool that calls an upstream
// x402-priced service can pay through it").
func WithContext(ctx context.Context, provider Provider) context.Context {
	return context.WithValue(ctx, providerCtxKey, provider)
}

// FromContext retrieves the Provider attached by WithContext, if any.
func FromContext(ctx context.Context) (Provider, bool) {
	provider, ok := ctx.Value(providerCtxKey).(Provider)
	return provider, ok
}

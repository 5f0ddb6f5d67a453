package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// LocalProvider is the standard wallet provider: an in-process ECDSA key
// signs directly, with no network hop.
type LocalProvider struct {
	key     *ecdsa.PrivateKey
	address common.Address

	encOnce sync.Once
	encKey  string
	encErr  error
}

// NewLocalProvider builds a LocalProvider from a hex-encoded private key
// (with or without a leading "0x").
func NewLocalProvider(hexKey string) (*LocalProvider, error) {
	key, err := crypto.HexToECDSA(trimHexPrefix(hexKey))
	if err != nil {
		return nil, fmt.Errorf("wallet: invalid private key: %w", err)
	}
	return &LocalProvider{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func (p *LocalProvider) ModeName() string { return "standard" }

func (p *LocalProvider) Address(ctx context.Context) (common.Address, error) {
	return p.address, nil
}

// SignMessage signs per EIP-191 personal_sign: the message is prefixed with
// "\x19Ethereum Signed Message:\n{len}" before hashing.
func (p *LocalProvider) SignMessage(ctx context.Context, msg []byte) (Signature, error) {
	hash := accounts_TextHash(msg)
	return p.SignHash(ctx, hash)
}

// SignHash signs the raw 32-byte digest directly; the local variant has no
// remote keystore refusing raw-hash signing.
func (p *LocalProvider) SignHash(ctx context.Context, hash [32]byte) (Signature, error) {
	sig, err := crypto.Sign(hash[:], p.key)
	if err != nil {
		return Signature{}, fmt.Errorf("wallet: sign hash: %w", err)
	}
	return signatureFromBytes(sig), nil
}

// SignTransaction signs an EIP-1559 dynamic fee transaction, returning its
// (v, r, s) with v as the typed-tx y_parity (0 or 1).
func (p *LocalProvider) SignTransaction(ctx context.Context, tx *types.DynamicFeeTx) (Signature, error) {
	signer := types.NewLondonSigner(tx.ChainID)
	signedTx, err := types.SignNewTx(p.key, signer, tx)
	if err != nil {
		return Signature{}, fmt.Errorf("wallet: sign transaction: %w", err)
	}
	v, r, s := signedTx.RawSignatureValues()
	var sig Signature
	sig.V = byte(v.Uint64())
	r.FillBytes(sig.R[:])
	s.FillBytes(sig.S[:])
	return sig, nil
}

// SignTypedData signs an EIP-712 payload built from the generic TypedData
// map via go-ethereum's apitypes decoder.
func (p *LocalProvider) SignTypedData(ctx context.Context, data TypedData) (Signature, error) {
	typed, err := decodeTypedData(data)
	if err != nil {
		return Signature{}, fmt.Errorf("wallet: decode typed data: %w", err)
	}
	hash, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return Signature{}, fmt.Errorf("wallet: hash typed data: %w", err)
	}
	var digest [32]byte
	copy(digest[:], hash)
	return p.SignHash(ctx, digest)
}

// EncryptionKey derives and caches a deterministic backup-encryption key by
// signing the fixed domain separator and keccak-hashing the signature.
func (p *LocalProvider) EncryptionKey(ctx context.Context) (string, error) {
	p.encOnce.Do(func() {
		sig, err := p.SignMessage(ctx, []byte(BackupKeyDomainSeparator))
		if err != nil {
			p.encErr = err
			return
		}
		hash := crypto.Keccak256(sig.Bytes())
		p.encKey = fmt.Sprintf("%x", hash)
	})
	return p.encKey, p.encErr
}

func signatureFromBytes(sig []byte) Signature {
	var out Signature
	copy(out.R[:], sig[0:32])
	copy(out.S[:], sig[32:64])
	out.V = sig[64]
	return out
}

// accounts_TextHash mirrors go-ethereum's accounts.TextHash, computing the
// EIP-191 personal-message digest without importing the accounts package
// for just this helper.
func accounts_TextHash(data []byte) [32]byte {
	prefixed := []byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(data)))
	prefixed = append(prefixed, data...)
	var out [32]byte
	copy(out[:], crypto.Keccak256(prefixed))
	return out
}

func decodeTypedData(data TypedData) (apitypes.TypedData, error) {
	var typed apitypes.TypedData
	raw, err := json.Marshal(data)
	if err != nil {
		return typed, err
	}
	if err := json.Unmarshal(raw, &typed); err != nil {
		return typed, err
	}
	return typed, nil
}

package wallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// FlashProvider proxies signing requests to a remote Privy-backed control
// plane, so the private key never leaves the keystore's infrastructure.
// Grounded on the ethers-rs FlashWalletProvider: fetch (admin_address,
// wallet_id) once at startup, authenticate every call with
// (tenant_id, instance_token), and refresh-and-retry exactly once on 401.
type FlashProvider struct {
	keystoreURL string
	tenantID    string

	tokenMu sync.RWMutex
	token   string

	address  common.Address
	walletID string

	httpClient *http.Client

	encOnce sync.Once
	encKey  string
	encErr  error
}

// FlashConfig configures a FlashProvider.
type FlashConfig struct {
	KeystoreURL    string
	TenantID       string
	InstanceToken  string
	RequestTimeout time.Duration
}

type keystoreWalletResponse struct {
	WalletID     string `json:"wallet_id"`
	AdminAddress string `json:"admin_address"`
}

type refreshTokenResponse struct {
	Token string `json:"token"`
}

// NewFlashProvider authenticates to cfg.KeystoreURL and fetches the admin
// wallet address and wallet id, which are fixed for the provider's
// lifetime.
func NewFlashProvider(ctx context.Context, cfg FlashConfig) (*FlashProvider, error) {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	p := &FlashProvider{
		keystoreURL: cfg.KeystoreURL,
		tenantID:    cfg.TenantID,
		token:       cfg.InstanceToken,
		httpClient:  &http.Client{Timeout: cfg.RequestTimeout},
	}

	var wallet keystoreWalletResponse
	if err := p.getJSON(ctx, p.keystoreURL+"/api/keystore/wallet", &wallet); err != nil {
		return nil, fmt.Errorf("wallet: flash init: %w", err)
	}
	if !common.IsHexAddress(wallet.AdminAddress) {
		return nil, fmt.Errorf("wallet: flash init: invalid admin address %q", wallet.AdminAddress)
	}
	p.address = common.HexToAddress(wallet.AdminAddress)
	p.walletID = wallet.WalletID
	return p, nil
}

func (p *FlashProvider) ModeName() string { return "flash" }

func (p *FlashProvider) Address(ctx context.Context) (common.Address, error) {
	return p.address, nil
}

func (p *FlashProvider) currentToken() string {
	p.tokenMu.RLock()
	defer p.tokenMu.RUnlock()
	return p.token
}

func (p *FlashProvider) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Tenant-ID", p.tenantID)
	req.Header.Set("X-Instance-Token", p.currentToken())
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("error (%d): %s", resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}

// postWithRetry POSTs body to url with instance-token auth; on a 401 it
// refreshes the token once and retries exactly once.
func (p *FlashProvider) postWithRetry(ctx context.Context, url string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	respBody, status, err := p.post(ctx, url, payload, p.currentToken())
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		if err := p.refreshInstanceToken(ctx); err != nil {
			return err
		}
		respBody, status, err = p.post(ctx, url, payload, p.currentToken())
		if err != nil {
			return err
		}
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("error (%d): %s", status, string(respBody))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func (p *FlashProvider) post(ctx context.Context, url string, payload []byte, token string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", p.tenantID)
	req.Header.Set("X-Instance-Token", token)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return body, resp.StatusCode, nil
}

func (p *FlashProvider) refreshInstanceToken(ctx context.Context) error {
	oldToken := p.currentToken()
	body, status, err := p.post(ctx, p.keystoreURL+"/api/keystore/refresh-token", nil, oldToken)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("token refresh failed (%d): %s", status, string(body))
	}
	var refreshed refreshTokenResponse
	if err := json.Unmarshal(body, &refreshed); err != nil {
		return fmt.Errorf("token refresh: parse response: %w", err)
	}
	p.tokenMu.Lock()
	p.token = refreshed.Token
	p.tokenMu.Unlock()
	return nil
}

type signMessageRequest struct {
	Message string `json:"message"`
}

type signResponse struct {
	Signature string `json:"signature"`
}

func (p *FlashProvider) SignMessage(ctx context.Context, msg []byte) (Signature, error) {
	var out signResponse
	err := p.postWithRetry(ctx, p.keystoreURL+"/api/keystore/sign-message", signMessageRequest{Message: string(msg)}, &out)
	if err != nil {
		return Signature{}, fmt.Errorf("wallet: flash sign message: %w", err)
	}
	return parseSignatureHex(out.Signature)
}

// SignHash wraps the digest in a minimal EIP-712 envelope since Flash
// typically refuses to sign a raw hash.
func (p *FlashProvider) SignHash(ctx context.Context, hash [32]byte) (Signature, error) {
	envelope := TypedData{
		"types": map[string]any{
			"EIP712Domain": []map[string]string{{"name": "name", "type": "string"}},
			"Digest":       []map[string]string{{"name": "hash", "type": "bytes32"}},
		},
		"primaryType": "Digest",
		"domain":      map[string]any{"name": "starkbot-raw-hash"},
		"message":     map[string]any{"hash": "0x" + hex.EncodeToString(hash[:])},
	}
	return p.SignTypedData(ctx, envelope)
}

type signTransactionRequest struct {
	ChainID              uint64  `json:"chain_id"`
	To                   string  `json:"to"`
	Value                string  `json:"value"`
	Data                 *string `json:"data,omitempty"`
	GasLimit             *string `json:"gas_limit,omitempty"`
	MaxFeePerGas         *string `json:"max_fee_per_gas,omitempty"`
	MaxPriorityFeePerGas *string `json:"max_priority_fee_per_gas,omitempty"`
	Nonce                *uint64 `json:"nonce,omitempty"`
}

type signTransactionResponse struct {
	SignedTransaction string `json:"signed_transaction"`
}

func (p *FlashProvider) SignTransaction(ctx context.Context, tx *types.DynamicFeeTx) (Signature, error) {
	req := signTransactionRequest{
		ChainID: tx.ChainID.Uint64(),
		To:      tx.To.Hex(),
		Value:   tx.Value.String(),
	}
	if len(tx.Data) > 0 {
		d := "0x" + hex.EncodeToString(tx.Data)
		req.Data = &d
	}
	gasLimit := fmt.Sprintf("%d", tx.Gas)
	req.GasLimit = &gasLimit
	maxFee := tx.GasFeeCap.String()
	req.MaxFeePerGas = &maxFee
	maxPriority := tx.GasTipCap.String()
	req.MaxPriorityFeePerGas = &maxPriority
	nonce := tx.Nonce
	req.Nonce = &nonce

	var out signTransactionResponse
	if err := p.postWithRetry(ctx, p.keystoreURL+"/api/keystore/sign-transaction", req, &out); err != nil {
		return Signature{}, fmt.Errorf("wallet: flash sign transaction: %w", err)
	}
	return extractSignatureFromSignedTx(out.SignedTransaction)
}

type signTypedDataRequest struct {
	TypedData TypedData `json:"typed_data"`
}

func (p *FlashProvider) SignTypedData(ctx context.Context, data TypedData) (Signature, error) {
	var out signResponse
	err := p.postWithRetry(ctx, p.keystoreURL+"/api/keystore/sign-typed-data", signTypedDataRequest{TypedData: data}, &out)
	if err != nil {
		return Signature{}, fmt.Errorf("wallet: flash sign typed data: %w", err)
	}
	return parseSignatureHex(out.Signature)
}

func (p *FlashProvider) EncryptionKey(ctx context.Context) (string, error) {
	p.encOnce.Do(func() {
		sig, err := p.SignMessage(ctx, []byte(BackupKeyDomainSeparator))
		if err != nil {
			p.encErr = err
			return
		}
		hash := crypto.Keccak256(sig.Bytes())
		p.encKey = hex.EncodeToString(hash)
	})
	return p.encKey, p.encErr
}

// parseSignatureHex parses a 65-byte signature from a 0x-prefixed 130 hex
// character string.
func parseSignatureHex(sigHex string) (Signature, error) {
	trimmed := trimHexPrefix(sigHex)
	if len(trimmed) != 130 {
		return Signature{}, fmt.Errorf("invalid signature length: expected 130 hex chars, got %d", len(trimmed))
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return Signature{}, fmt.Errorf("invalid signature hex: %w", err)
	}
	var sig Signature
	copy(sig.R[:], raw[0:32])
	copy(sig.S[:], raw[32:64])
	sig.V = raw[64]
	return sig, nil
}

// extractSignatureFromSignedTx parses the EIP-2718 envelope (type 0x01 or
// 0x02) that the control plane returns and extracts the last three RLP
// list items as (y_parity, r, s).
func extractSignatureFromSignedTx(signedTxHex string) (Signature, error) {
	trimmed := trimHexPrefix(signedTxHex)
	txBytes, err := hex.DecodeString(trimmed)
	if err != nil {
		return Signature{}, fmt.Errorf("invalid signed tx hex: %w", err)
	}
	if len(txBytes) == 0 {
		return Signature{}, fmt.Errorf("empty signed transaction")
	}

	txType := txBytes[0]
	if txType != 0x01 && txType != 0x02 {
		return Signature{}, fmt.Errorf("unsupported transaction type: 0x%02x (expected 0x01 or 0x02)", txType)
	}

	var items []rlp.RawValue
	if err := rlp.DecodeBytes(txBytes[1:], &items); err != nil {
		return Signature{}, fmt.Errorf("failed to decode RLP: %w", err)
	}
	expected := 12
	if txType == 0x01 {
		expected = 11
	}
	if len(items) != expected {
		return Signature{}, fmt.Errorf("unexpected RLP item count for type 0x%02x: %d (expected %d)", txType, len(items), expected)
	}

	var yParity uint64
	var r, s []byte
	if err := rlp.DecodeBytes(items[len(items)-3], &yParity); err != nil {
		return Signature{}, fmt.Errorf("failed to decode y_parity: %w", err)
	}
	if err := rlp.DecodeBytes(items[len(items)-2], &r); err != nil {
		return Signature{}, fmt.Errorf("failed to decode r: %w", err)
	}
	if err := rlp.DecodeBytes(items[len(items)-1], &s); err != nil {
		return Signature{}, fmt.Errorf("failed to decode s: %w", err)
	}
	if yParity > 1 {
		return Signature{}, fmt.Errorf("invalid y_parity: %d (expected 0 or 1)", yParity)
	}

	var sig Signature
	sig.V = byte(yParity)
	copy(sig.R[32-len(r):], r)
	copy(sig.S[32-len(s):], s)
	return sig, nil
}

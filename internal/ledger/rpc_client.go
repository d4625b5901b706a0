package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/btcsuite/btcutil/base58"
)

// RPCClient talks to a real fullnode's JSON-RPC endpoint. It implements
// Client the same way the original's solana_client::rpc_client::RpcClient
// did for the gatekeeper: getAccountInfo, getBalance, getRecentBlockhash,
// and sendTransaction, here over plain JSON-RPC 2.0/HTTP rather than a
// bincode-over-TCP thin client, since that is the interface every modern
// JSON-RPC-speaking fullnode actually exposes.
type RPCClient struct {
	Addr       string
	HTTPClient *http.Client
}

// NewRPCClient builds a client against a fullnode's RPC address
// ("host:port"), with a conservative default timeout matching the
// blocking round trips the session forwarder performs in-band.
func NewRPCClient(addr string) *RPCClient {
	return &RPCClient{
		Addr:       addr,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *RPCClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("ledger: marshal %s request: %w", method, err)
	}

	url := "http://" + c.Addr
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ledger: build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("ledger: %s request: %w", method, err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("ledger: decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("ledger: %s: rpc error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}

// GetAccountData implements Client.
func (c *RPCClient) GetAccountData(ctx context.Context, pubkey Pubkey) ([]byte, error) {
	var result struct {
		Value *struct {
			Data []string `json:"data"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getAccountInfo", []interface{}{pubkey.String(), map[string]string{"encoding": "base64"}}, &result); err != nil {
		return nil, err
	}
	if result.Value == nil {
		return nil, ErrAccountNotFound
	}
	if len(result.Value.Data) == 0 {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(result.Value.Data[0])
}

// GetBalance implements Client.
func (c *RPCClient) GetBalance(ctx context.Context, pubkey Pubkey) (uint64, error) {
	var result struct {
		Value uint64 `json:"value"`
	}
	if err := c.call(ctx, "getBalance", []interface{}{pubkey.String()}, &result); err != nil {
		return 0, err
	}
	return result.Value, nil
}

// GetRecentBlockhash implements Client.
func (c *RPCClient) GetRecentBlockhash(ctx context.Context) (Blockhash, error) {
	var result struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getRecentBlockhash", nil, &result); err != nil {
		return Blockhash{}, err
	}
	raw := base58.Decode(result.Value.Blockhash)
	if len(raw) != len(Blockhash{}) {
		return Blockhash{}, fmt.Errorf("ledger: unexpected blockhash length %d", len(raw))
	}
	var bh Blockhash
	copy(bh[:], raw)
	return bh, nil
}

// SendTransactionAsync implements Client: fire-and-forget submission, used
// by the settlement worker and by SendMessage below.
func (c *RPCClient) SendTransactionAsync(ctx context.Context, tx *Transaction) error {
	wire, err := tx.MarshalBinary()
	if err != nil {
		return fmt.Errorf("ledger: encode transaction: %w", err)
	}
	return c.call(ctx, "sendTransaction", []interface{}{
		base64.StdEncoding.EncodeToString(wire),
		map[string]string{"encoding": "base64"},
	}, nil)
}

// SendMessage implements Client: build, sign, and submit in one blocking
// sendTransaction round trip, used by the session's in-band settlement and
// teardown paths. It returns once the fullnode accepts the request; it does
// not wait for the transaction to be confirmed.
func (c *RPCClient) SendMessage(ctx context.Context, signers []*Keypair, msg Message) (Signature, error) {
	blockhash, err := c.GetRecentBlockhash(ctx)
	if err != nil {
		return Signature{}, err
	}
	tx, err := NewTransaction(signers, msg, blockhash)
	if err != nil {
		return Signature{}, err
	}
	if err := c.SendTransactionAsync(ctx, tx); err != nil {
		return Signature{}, err
	}
	if len(tx.Signatures) == 0 {
		return Signature{}, nil
	}
	return tx.Signatures[0], nil
}

// RequestAirdrop asks droneAddr's faucet to fund pubkey with lamports, the
// direct counterpart of the original's request_airdrop_transaction against
// solana-drone. Used only by the gatekeeper's startup bootstrap, never in
// the data path.
func (c *RPCClient) RequestAirdrop(ctx context.Context, droneAddr string, pubkey Pubkey, lamports uint64) error {
	blockhash, err := c.GetRecentBlockhash(ctx)
	if err != nil {
		return fmt.Errorf("ledger: airdrop: recent blockhash: %w", err)
	}

	body, err := json.Marshal(struct {
		Pubkey    string `json:"pubkey"`
		Lamports  uint64 `json:"lamports"`
		Blockhash string `json:"blockhash"`
	}{Pubkey: pubkey.String(), Lamports: lamports, Blockhash: base58.Encode(blockhash[:])})
	if err != nil {
		return fmt.Errorf("ledger: airdrop: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+droneAddr, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ledger: airdrop: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("ledger: airdrop: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ledger: airdrop: drone returned status %d", resp.StatusCode)
	}
	return nil
}

// MarshalBinary encodes tx in the wire form sendTransaction expects:
// a uvarint count of signatures, the signatures themselves, then the
// message (blockhash, instruction count, and each instruction's program
// id / accounts / data, all length-prefixed).
func (tx *Transaction) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	writeUvarint(&buf, uint64(len(tx.Signatures)))
	for _, sig := range tx.Signatures {
		buf.Write(sig[:])
	}
	buf.Write(tx.Blockhash[:])
	writeUvarint(&buf, uint64(len(tx.Message.Instructions)))
	for _, ix := range tx.Message.Instructions {
		buf.Write(ix.ProgramID[:])
		writeUvarint(&buf, uint64(len(ix.Accounts)))
		for _, am := range ix.Accounts {
			buf.Write(am.Pubkey[:])
			if am.IsSigner {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
		}
		writeUvarint(&buf, uint64(len(ix.Data)))
		buf.Write(ix.Data)
	}
	return buf.Bytes(), nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

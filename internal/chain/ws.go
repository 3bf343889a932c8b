package chain

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Deposit is a confirmed token transfer into a watched address, as pushed
// by the chain watcher.
type Deposit struct {
	Address       string    `json:"walletAddress"`
	TxHash        string    `json:"transactionHash"`
	Amount        string    `json:"amount"`
	Network       string    `json:"network"`
	Token         string    `json:"token"`
	Confirmations int       `json:"confirmations"`
	Timestamp     time.Time `json:"timestamp"`
}

type WSClient struct {
	Endpoint string
	Conn     *websocket.Conn
}

func NewWSClient(endpoint string) *WSClient {
	return &WSClient{Endpoint: endpoint}
}

func (c *WSClient) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.Endpoint, nil)
	if err != nil {
		return err
	}
	c.Conn = conn
	return nil
}

func (c *WSClient) Close() {
	if c.Conn != nil {
		_ = c.Conn.Close()
	}
}

// Subscribe asks the watcher for confirmed deposits on the given networks.
func (c *WSClient) Subscribe(ctx context.Context, networks []string, minConfirmations int) error {
	if c.Conn == nil {
		return errors.New("ws not connected")
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.Conn.SetWriteDeadline(deadline)
	}
	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "subscribe",
		"params": map[string]any{
			"topic":            "deposits",
			"networks":         networks,
			"minConfirmations": minConfirmations,
		},
	}
	return c.Conn.WriteJSON(payload)
}

// Read blocks for the next message. A cancelled ctx closes the connection
// so the read returns.
func (c *WSClient) Read(ctx context.Context) ([]byte, error) {
	if c.Conn == nil {
		return nil, errors.New("ws not connected")
	}
	stop := context.AfterFunc(ctx, c.Close)
	defer stop()
	_, msg, err := c.Conn.ReadMessage()
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return msg, err
}

// ParseDeposit decodes a subscription notification. ok is false for
// acknowledgements and other topics.
func ParseDeposit(msg []byte) (*Deposit, bool, error) {
	var env struct {
		Result struct {
			Topic string          `json:"topic"`
			Data  json.RawMessage `json:"data"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		return nil, false, err
	}
	if env.Error != nil {
		return nil, false, errors.New(env.Error.Message)
	}
	if env.Result.Topic != "deposits" || len(env.Result.Data) == 0 {
		return nil, false, nil
	}

	var d Deposit
	if err := json.Unmarshal(env.Result.Data, &d); err != nil {
		return nil, false, err
	}
	d.Address = strings.TrimSpace(d.Address)
	d.TxHash = strings.TrimSpace(d.TxHash)
	d.Network = strings.ToLower(strings.TrimSpace(d.Network))
	if d.Address == "" || d.TxHash == "" {
		return nil, false, errors.New("deposit notification without address or hash")
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}
	return &d, true, nil
}

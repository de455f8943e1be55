package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no traffic)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrConnectionLost  = errors.New("feed connection lost")
	ErrUnexpectedPair  = errors.New("unexpected pair")
)

// SubscribeError is a subscription rejected by the exchange.
type SubscribeError struct {
	Pair    string
	Message string
}

func (e *SubscribeError) Error() string {
	if e.Pair == "" {
		return fmt.Sprintf("subscribe failed: %s", e.Message)
	}
	return fmt.Sprintf("subscribe %s failed: %s", e.Pair, e.Message)
}

// ProtocolError is an inbound message that could not be decoded.
type ProtocolError struct {
	Data []byte
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("undecodable feed message %q: %v", truncate(e.Data, 200), e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// subscribeRequest is the outbound trade channel subscription.
type subscribeRequest struct {
	Method string          `json:"method"`
	Params subscribeParams `json:"params"`
	ReqID  int64           `json:"req_id"`
}

type subscribeParams struct {
	Channel  string   `json:"channel"`
	Symbol   []string `json:"symbol"`
	Snapshot bool     `json:"snapshot"`
}

// header routes an inbound message before its body is decoded.
type header struct {
	Method  string `json:"method"`
	Channel string `json:"channel"`
}

// methodResponse is the reply to a request ("subscribe", "pong").
type methodResponse struct {
	Method  string           `json:"method"`
	Success *bool            `json:"success"`
	Error   string           `json:"error"`
	Result  *subscribeResult `json:"result"`
	ReqID   int64            `json:"req_id"`
}

// channelPush is a channel update ("trade").
type channelPush struct {
	Channel string            `json:"channel"`
	Type    string            `json:"type"`
	Data    []json.RawMessage `json:"data"`
}

type subscribeResult struct {
	Channel  string `json:"channel"`
	Symbol   string `json:"symbol"`
	Snapshot bool   `json:"snapshot"`
}

// tradeItem is one element of a trade push.
type tradeItem struct {
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Qty       decimal.Decimal `json:"qty"`
	OrdType   string          `json:"ord_type"`
	TradeID   *int64          `json:"trade_id"`
	Timestamp time.Time       `json:"timestamp"`
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., wss://ws.kraken.com/v2)
	HandshakeTimeout time.Duration // Dial handshake timeout
	PingInterval     time.Duration // Interval between client pings
	PingTimeout      time.Duration // Max time without inbound traffic before the connection is stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		URL:              "wss://ws.kraken.com/v2",
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      90 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       10000,
	}
}

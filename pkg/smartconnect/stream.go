package smartconnect

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	StreamURL         = "wss://smartapisocket.angelone.in/smart-stream"
	HeartBeatMessage  = "ping"
	HeartBeatInterval = 10 * time.Second
)

// Subscription action / modes / exchanges
const (
	SubscribeAction = 1

	ModeLTP = 1

	NSE_CM = 1
	NSE_FO = 2
)

// ltpPacketLen is the size of a mode-1 (LTP) binary packet.
const ltpPacketLen = 51

// TokenListEntry represents exchangeType + tokens for subscribe
type TokenListEntry struct {
	ExchangeType int      `json:"exchangeType"`
	Tokens       []string `json:"tokens"`
}

// LTPPacket is a decoded SmartStream LTP packet. LTP is in paise.
type LTPPacket struct {
	Mode         int
	ExchangeType int
	Token        string
	Sequence     int64
	ExchangeTS   int64 // epoch millis
	LTP          int64
}

// StreamConfig configures a SmartStream connection.
type StreamConfig struct {
	URL        string // default StreamURL
	JWT        string
	APIKey     string
	ClientCode string
	FeedToken  string
	Heartbeat  time.Duration // default HeartBeatInterval
	Dialer     *websocket.Dialer
}

// Stream is one SmartStream LTP subscription. Run owns the connection;
// reconnects are the caller's concern.
type Stream struct {
	cfg StreamConfig
	wmu sync.Mutex // gorilla allows one concurrent writer
}

// NewStream validates cfg and returns a Stream.
func NewStream(cfg StreamConfig) (*Stream, error) {
	if cfg.JWT == "" || cfg.APIKey == "" || cfg.ClientCode == "" || cfg.FeedToken == "" {
		return nil, errors.New("provide valid value for all the tokens")
	}
	if cfg.URL == "" {
		cfg.URL = StreamURL
	}
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = HeartBeatInterval
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Stream{cfg: cfg}, nil
}

// Run connects, subscribes tokens in LTP mode and calls onTick for every
// packet until ctx is done or the connection fails. It returns nil only when
// ctx ends the stream.
func (s *Stream) Run(ctx context.Context, tokens []TokenListEntry, onTick func(LTPPacket)) error {
	header := http.Header{}
	header.Add("Authorization", s.cfg.JWT)
	header.Add("x-api-key", s.cfg.APIKey)
	header.Add("x-client-code", s.cfg.ClientCode)
	header.Add("x-feed-token", s.cfg.FeedToken)

	conn, resp, err := s.cfg.Dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial smartstream: %s: %w", resp.Status, err)
		}
		return fmt.Errorf("dial smartstream: %w", err)
	}
	defer conn.Close()

	req := map[string]any{
		"correlationID": "optbot-ltp",
		"action":        SubscribeAction,
		"params": map[string]any{
			"mode":      ModeLTP,
			"tokenList": tokens,
		},
	}
	if err := s.write(conn, func() error { return conn.WriteJSON(req) }); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.heartbeatLoop(ctx, conn)
	go func() {
		<-ctx.Done()
		_ = s.write(conn, func() error {
			return conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		})
		conn.Close()
	}()

	for {
		mt, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if mt != websocket.BinaryMessage {
			continue // "pong" heartbeat replies and JSON control frames
		}
		pkt, err := ParseLTPPacket(message)
		if err != nil {
			log.Printf("[smartstream] parse error: %v", err)
			continue
		}
		onTick(pkt)
	}
}

func (s *Stream) write(conn *websocket.Conn, fn func() error) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return fn()
}

// heartbeatLoop sends the text "ping" SmartStream expects.
func (s *Stream) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.write(conn, func() error {
				return conn.WriteMessage(websocket.TextMessage, []byte(HeartBeatMessage))
			})
			if err != nil {
				log.Printf("[smartstream] ping write error: %v", err)
				return
			}
		}
	}
}

// ParseLTPPacket decodes the little-endian LTP packet layout:
// mode(0) exchange(1) token(2:27, NUL padded) sequence(27:35)
// exchange_ts(35:43) ltp(43:51).
func ParseLTPPacket(b []byte) (LTPPacket, error) {
	if len(b) < ltpPacketLen {
		return LTPPacket{}, fmt.Errorf("binary payload too short: %d bytes", len(b))
	}
	return LTPPacket{
		Mode:         int(b[0]),
		ExchangeType: int(b[1]),
		Token:        parseTokenValue(b[2:27]),
		Sequence:     int64(binary.LittleEndian.Uint64(b[27:35])),
		ExchangeTS:   int64(binary.LittleEndian.Uint64(b[35:43])),
		LTP:          int64(binary.LittleEndian.Uint64(b[43:51])),
	}, nil
}

func parseTokenValue(b []byte) string {
	for i := 0; i < len(b); i++ {
		if b[i] == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// Package capture accepts browser capture connections and feeds their media
// chunks into a session. The WebSocket layer is deliberately small: binary
// frames carry MediaRecorder chunks upstream, text frames carry status JSON
// downstream, and nothing else is negotiated.
package capture

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const wsGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// maxMessageSize caps a single capture chunk. MediaRecorder timeslices stay
// well under this; anything larger is a misbehaving peer.
const maxMessageSize = 16 << 20

// MessageType distinguishes the two data frame kinds on the wire.
type MessageType int

const (
	MessageText MessageType = iota + 1
	MessageBinary
)

// Conn is a WebSocket connection carrying capture traffic.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	// mask is set on client connections; RFC 6455 requires client frames to
	// be masked and forbids masking from the server.
	mask bool

	mu     sync.Mutex
	closed bool
}

// Accept upgrades the HTTP request to a WebSocket and returns the server-side
// connection.
func Accept(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	if !headerContains(r.Header, "Connection", "upgrade") || !headerContains(r.Header, "Upgrade", "websocket") {
		return nil, fmt.Errorf("websocket upgrade required")
	}
	if r.Header.Get("Sec-WebSocket-Version") != "13" {
		return nil, fmt.Errorf("unsupported websocket version")
	}
	key := strings.TrimSpace(r.Header.Get("Sec-WebSocket-Key"))
	if key == "" {
		return nil, fmt.Errorf("missing websocket key")
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		return nil, fmt.Errorf("http server does not support hijacking")
	}
	conn, rw, err := hj.Hijack()
	if err != nil {
		return nil, err
	}

	accept := computeAcceptKey(key)
	response := fmt.Sprintf("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Accept: %s\r\n\r\n", accept)
	if _, err := rw.WriteString(response); err != nil {
		conn.Close()
		return nil, err
	}
	if err := rw.Flush(); err != nil {
		conn.Close()
		return nil, err
	}

	return &Conn{conn: conn, reader: rw.Reader, writer: rw.Writer}, nil
}

// Dial establishes a client WebSocket connection to the given ws:// or wss://
// URL. It exists for the capture tooling and tests; browsers speak the same
// protocol natively.
func Dial(ctx context.Context, rawURL string, header http.Header, tlsConfig *tls.Config) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := u.Host
	if !strings.Contains(host, ":") {
		if u.Scheme == "wss" {
			host += ":443"
		} else {
			host += ":80"
		}
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, err
	}

	if u.Scheme == "wss" {
		cfg := &tls.Config{}
		if tlsConfig != nil {
			cfg = tlsConfig.Clone()
		}
		if cfg.ServerName == "" {
			cfg.ServerName = u.Hostname()
		}
		tlsConn := tls.Client(conn, cfg)
		if deadline, ok := ctx.Deadline(); ok {
			_ = tlsConn.SetDeadline(deadline)
			defer tlsConn.SetDeadline(time.Time{})
		}
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		conn = tlsConn
	}

	key, err := generateKey()
	if err != nil {
		conn.Close()
		return nil, err
	}
	path := u.RequestURI()
	if path == "" {
		path = "/"
	}
	req := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nConnection: Upgrade\r\nUpgrade: websocket\r\nSec-WebSocket-Version: 13\r\nSec-WebSocket-Key: %s\r\n", path, u.Host, key)
	for name, values := range header {
		for _, value := range values {
			req += fmt.Sprintf("%s: %s\r\n", name, value)
		}
	}
	req += "\r\n"
	if _, err := io.WriteString(conn, req); err != nil {
		conn.Close()
		return nil, err
	}

	reader := bufio.NewReader(conn)
	status, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, err
	}
	if !strings.Contains(status, "101") {
		conn.Close()
		return nil, fmt.Errorf("handshake failed: %s", strings.TrimSpace(status))
	}
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			conn.Close()
			return nil, err
		}
		if strings.TrimSpace(line) == "" {
			break
		}
	}

	return &Conn{conn: conn, reader: reader, writer: bufio.NewWriter(conn), mask: true}, nil
}

// ReadMessage returns the next complete data message. Fragmented messages are
// reassembled; pings are answered inline; a close frame or closed connection
// yields io.EOF.
func (c *Conn) ReadMessage(ctx context.Context) (MessageType, []byte, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, nil, io.EOF
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}

	var (
		kind    MessageType
		message []byte
	)
	for {
		frm, err := readFrame(c.reader)
		if err != nil {
			return 0, nil, err
		}
		switch frm.opcode {
		case opcodeText, opcodeBinary:
			if message != nil {
				return 0, nil, ErrProtocol
			}
			kind = MessageText
			if frm.opcode == opcodeBinary {
				kind = MessageBinary
			}
			if frm.fin {
				return kind, frm.payload, nil
			}
			message = frm.payload
		case opcodeContinuation:
			if message == nil {
				return 0, nil, ErrProtocol
			}
			if len(message)+len(frm.payload) > maxMessageSize {
				return 0, nil, ErrMessageTooLarge
			}
			message = append(message, frm.payload...)
			if frm.fin {
				return kind, message, nil
			}
		case opcodePing:
			if err := c.writeFrame(opcodePong, frm.payload); err != nil {
				return 0, nil, err
			}
		case opcodePong:
			// Unsolicited pongs are permitted and ignored.
		case opcodeClose:
			c.Close()
			return 0, nil, io.EOF
		default:
			return 0, nil, ErrProtocol
		}
	}
}

// WriteText sends a complete text message.
func (c *Conn) WriteText(payload []byte) error {
	return c.writeFrame(opcodeText, payload)
}

// WriteBinary sends a complete binary message.
func (c *Conn) WriteBinary(payload []byte) error {
	return c.writeFrame(opcodeBinary, payload)
}

// Ping sends a ping control frame.
func (c *Conn) Ping(payload []byte) error {
	return c.writeFrame(opcodePing, payload)
}

func (c *Conn) writeFrame(opcode byte, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.ErrClosedPipe
	}
	header := []byte{0x80 | opcode}
	length := len(payload)
	maskBit := byte(0)
	if c.mask {
		maskBit = 0x80
	}
	switch {
	case length < 126:
		header = append(header, maskBit|byte(length))
	case length <= 65535:
		header = append(header, maskBit|126, byte(length>>8), byte(length))
	default:
		header = append(header, maskBit|127,
			byte(length>>56), byte(length>>48), byte(length>>40), byte(length>>32),
			byte(length>>24), byte(length>>16), byte(length>>8), byte(length))
	}
	if _, err := c.writer.Write(header); err != nil {
		return err
	}
	if c.mask {
		var key [4]byte
		if _, err := rand.Read(key[:]); err != nil {
			return err
		}
		if _, err := c.writer.Write(key[:]); err != nil {
			return err
		}
		masked := make([]byte, len(payload))
		for i, b := range payload {
			masked[i] = b ^ key[i%4]
		}
		payload = masked
	}
	if _, err := c.writer.Write(payload); err != nil {
		return err
	}
	return c.writer.Flush()
}

// Close closes the underlying network connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

var (
	// ErrProtocol indicates a frame sequence the protocol forbids.
	ErrProtocol = errors.New("websocket protocol violation")
	// ErrMessageTooLarge indicates a data message above the frame size cap.
	ErrMessageTooLarge = errors.New("websocket message too large")
)

const (
	opcodeContinuation byte = 0x0
	opcodeText         byte = 0x1
	opcodeBinary       byte = 0x2
	opcodeClose        byte = 0x8
	opcodePing         byte = 0x9
	opcodePong         byte = 0xA
)

type wsFrame struct {
	fin     bool
	opcode  byte
	payload []byte
}

func readFrame(reader *bufio.Reader) (wsFrame, error) {
	first, err := reader.ReadByte()
	if err != nil {
		return wsFrame{}, err
	}
	second, err := reader.ReadByte()
	if err != nil {
		return wsFrame{}, err
	}
	fin := first&0x80 != 0
	opcode := first & 0x0F
	masked := second&0x80 != 0
	length := int(second & 0x7F)
	switch length {
	case 126:
		buf := make([]byte, 2)
		if _, err := io.ReadFull(reader, buf); err != nil {
			return wsFrame{}, err
		}
		length = int(buf[0])<<8 | int(buf[1])
	case 127:
		buf := make([]byte, 8)
		if _, err := io.ReadFull(reader, buf); err != nil {
			return wsFrame{}, err
		}
		length = int(buf[0])<<56 | int(buf[1])<<48 | int(buf[2])<<40 | int(buf[3])<<32 |
			int(buf[4])<<24 | int(buf[5])<<16 | int(buf[6])<<8 | int(buf[7])
	}
	if length < 0 || length > maxMessageSize {
		return wsFrame{}, ErrMessageTooLarge
	}
	var maskKey [4]byte
	if masked {
		if _, err := io.ReadFull(reader, maskKey[:]); err != nil {
			return wsFrame{}, err
		}
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(reader, payload); err != nil {
		return wsFrame{}, err
	}
	if masked {
		for i := 0; i < length; i++ {
			payload[i] ^= maskKey[i%4]
		}
	}
	return wsFrame{fin: fin, opcode: opcode, payload: payload}, nil
}

func headerContains(header http.Header, name, expected string) bool {
	for _, value := range header.Values(name) {
		if strings.Contains(strings.ToLower(value), strings.ToLower(expected)) {
			return true
		}
	}
	return false
}

func computeAcceptKey(key string) string {
	hash := sha1.Sum([]byte(key + wsGUID))
	return base64.StdEncoding.EncodeToString(hash[:])
}

func generateKey() (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(nonce), nil
}

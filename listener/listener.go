// Package listener provides the net.Listener used by the gateway.
// It can terminate TLS and plain HTTP on the same port and keeps accepting
// after per-connection failures.
package listener

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"time"
)

// DefaultPeekTimeout bounds how long a new connection may take to send its first bytes.
const DefaultPeekTimeout = 10 * time.Second

// connWrapper wraps a net.Conn and reads through the buffered reader used for peeking
type connWrapper struct {
	net.Conn
	io.Reader
}

// Read reads from the io.Reader instead of the net.Conn
func (cw *connWrapper) Read(b []byte) (int, error) {
	return cw.Reader.Read(b)
}

// ProtocolMuxListener wraps net.Listener and terminates TLS for connections that start with a TLS record.
// Other connections are returned as they are.
type ProtocolMuxListener struct {
	net.Listener
	TLSConfig   *tls.Config
	PeekTimeout time.Duration
}

func NewProtocolMuxListener(listener net.Listener, tlsConfig *tls.Config) *ProtocolMuxListener {
	return &ProtocolMuxListener{
		Listener:    listener,
		TLSConfig:   tlsConfig,
		PeekTimeout: DefaultPeekTimeout,
	}
}

func (l *ProtocolMuxListener) Accept() (net.Conn, error) {
	rawConnection, err := l.Listener.Accept()
	if err != nil {
		return nil, fmt.Errorf("accepting connection : %w", err)
	}

	bufferedReader := bufio.NewReader(rawConnection)

	if err := rawConnection.SetReadDeadline(time.Now().Add(l.PeekTimeout)); err != nil {
		rawConnection.Close()
		return nil, fmt.Errorf("setting read deadline for peek : %w", err)
	}

	peekedBytes, err := bufferedReader.Peek(5)
	if deadlineErr := rawConnection.SetReadDeadline(time.Time{}); deadlineErr != nil {
		rawConnection.Close()
		return nil, fmt.Errorf("clearing read deadline after peek : %w", deadlineErr)
	}
	if err != nil && err != bufio.ErrBufferFull {
		rawConnection.Close()
		return nil, fmt.Errorf("peeking initial bytes : %w", err)
	}

	wrapped := &connWrapper{
		Conn:   rawConnection,
		Reader: bufferedReader,
	}

	// 0x16 = handshake record, 0x03 = SSL3/TLS major version
	isTLS := len(peekedBytes) >= 2 && peekedBytes[0] == 0x16 && peekedBytes[1] == 0x03
	if !isTLS {
		return wrapped, nil
	}

	tlsConn := tls.Server(wrapped, l.TLSConfig)

	if err := rawConnection.SetReadDeadline(time.Now().Add(l.PeekTimeout)); err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("setting read deadline for handshake : %w", err)
	}

	if err := tlsConn.Handshake(); err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("performing tls handshake : %w", err)
	}

	if err := rawConnection.SetReadDeadline(time.Time{}); err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("clearing read deadline after handshake : %w", err)
	}

	return tlsConn, nil
}

// ResilientListener keeps accepting after a failed connection. Only a closed listener stops it.
type ResilientListener struct {
	net.Listener
	OnError func(err error) // Called for every dropped connection, defaults to log.Printf
}

func NewResilientListener(listenerToWrap net.Listener, onError func(err error)) *ResilientListener {
	if onError == nil {
		onError = func(err error) {
			log.Printf("connection rejected : %v", err)
		}
	}
	return &ResilientListener{Listener: listenerToWrap, OnError: onError}
}

func (l *ResilientListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil, err
			}
			l.OnError(err)
			continue
		}
		return conn, nil
	}
}

// New wraps a bound listener for the gateway. TLS is only multiplexed when tlsConfig is set.
func New(rawListener net.Listener, tlsConfig *tls.Config, onError func(err error)) net.Listener {
	if tlsConfig == nil {
		return NewResilientListener(rawListener, onError)
	}
	return NewResilientListener(NewProtocolMuxListener(rawListener, tlsConfig), onError)
}

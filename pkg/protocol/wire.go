// ABOUTME: Sample wire codec for the relay stream
// ABOUTME: Encodes samples as 4-byte big-endian IEEE-754 floats with no framing
package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strconv"
	"strings"
)

const (
	// DefaultPort is the fixed relay port used by every peer.
	DefaultPort = 34234

	// SampleSize is the encoded size of one sample in bytes.
	SampleSize = 4
)

// ErrShortRead reports a stream that ended in the middle of a sample.
// A short read is connection closure, never a partial value.
var ErrShortRead = errors.New("protocol: stream closed mid-sample")

// Transport selects the socket type for a deployment.
type Transport string

const (
	// TransportTCP is the canonical ordered, reliable stream transport.
	TransportTCP Transport = "tcp"
	// TransportUDP sends one datagram per sample with no ordering or delivery guarantee.
	TransportUDP Transport = "udp"
)

// ParseTransport validates a transport name.
func ParseTransport(s string) (Transport, error) {
	switch t := Transport(strings.ToLower(strings.TrimSpace(s))); t {
	case TransportTCP, TransportUDP:
		return t, nil
	default:
		return "", fmt.Errorf("unknown transport %q (want tcp or udp)", s)
	}
}

// Datagram reports whether the transport is connectionless.
func (t Transport) Datagram() bool {
	return t == TransportUDP
}

// PutSample writes the wire encoding of s into b, which must hold SampleSize bytes.
func PutSample(b []byte, s float32) {
	binary.BigEndian.PutUint32(b, math.Float32bits(s))
}

// AppendSample appends the wire encoding of s to dst.
func AppendSample(dst []byte, s float32) []byte {
	return binary.BigEndian.AppendUint32(dst, math.Float32bits(s))
}

// Sample decodes the first SampleSize bytes of b.
func Sample(b []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}

// SampleReader reads whole samples from a byte stream.
type SampleReader struct {
	r   io.Reader
	buf [SampleSize]byte
}

// NewSampleReader wraps r in a buffered sample reader.
func NewSampleReader(r io.Reader) *SampleReader {
	return &SampleReader{r: bufio.NewReaderSize(r, 4096)}
}

// ReadSample blocks until a full sample is available. It returns io.EOF when
// the stream ends on a sample boundary and ErrShortRead when it ends inside one.
func (sr *SampleReader) ReadSample() (float32, error) {
	_, err := io.ReadFull(sr.r, sr.buf[:])
	switch {
	case err == nil:
		return Sample(sr.buf[:]), nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		return 0, ErrShortRead
	default:
		return 0, err
	}
}

// PeerAddress resolves a peer argument of the form host or host:port,
// filling in DefaultPort when no port is given.
func PeerAddress(peer string) (string, error) {
	peer = strings.TrimSpace(peer)
	if peer == "" {
		return "", errors.New("empty peer address")
	}
	host, port, err := net.SplitHostPort(peer)
	if err != nil {
		// No port: treat the whole value as a host.
		return net.JoinHostPort(peer, strconv.Itoa(DefaultPort)), nil
	}
	if host == "" {
		return "", fmt.Errorf("peer %q has no host", peer)
	}
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return "", fmt.Errorf("peer %q has invalid port", peer)
	}
	return peer, nil
}

// ABOUTME: Relay wire protocol package
// ABOUTME: Defines the sample encoding, transports and the fixed relay port
// Package protocol implements the lanrelay wire format.
//
// The stream carries one 4-byte big-endian IEEE-754 float per sample with no
// header, length prefix or channel marker. Channel count and sample rate are
// agreed out of band and must match on both ends.
//
// Example:
//
//	buf := protocol.AppendSample(nil, 0.5)
//	sr := protocol.NewSampleReader(conn)
//	s, err := sr.ReadSample()
package protocol

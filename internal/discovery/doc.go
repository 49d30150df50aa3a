// ABOUTME: Peer discovery package
// ABOUTME: Subnet sweeps and mDNS lookups that yield relay connections
// Package discovery finds relay peers on the local network.
//
// A Scanner dials every address of a Subnet on the relay port through a
// fixed-size worker pool, so a /16 never opens 65536 sockets at once.
// Successful connections come back as Peers in completion order.
//
// Hosts that listen can also announce themselves over mDNS, and a dialing
// host can browse for them instead of sweeping.
package discovery

// ABOUTME: IPv4 subnet descriptor for peer sweeps
// ABOUTME: Derives the local subnet from the outbound interface address
package discovery

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// MinPrefix bounds a sweep to 65536 addresses.
const MinPrefix = 16

var (
	// ErrSubnetTooLarge is returned for prefixes shorter than MinPrefix.
	ErrSubnetTooLarge = errors.New("discovery: subnet larger than /16")

	// ErrNoSubnet is returned when no interface carries the local address.
	ErrNoSubnet = errors.New("discovery: no interface matches the local address")
)

// Subnet is a host address plus prefix length.
type Subnet struct {
	IP     net.IP
	Prefix int
}

// ParseSubnet parses CIDR notation. The host part is kept so the sweep knows
// which address is this machine.
func ParseSubnet(cidr string) (Subnet, error) {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return Subnet{}, fmt.Errorf("invalid subnet %q: %w", cidr, err)
	}
	ones, bits := ipnet.Mask.Size()
	return newSubnet(ip, ones, bits)
}

func newSubnet(ip net.IP, ones, bits int) (Subnet, error) {
	ip4 := ip.To4()
	if ip4 == nil || bits != 32 {
		return Subnet{}, fmt.Errorf("subnet %s/%d is not IPv4", ip, ones)
	}
	if ones < MinPrefix {
		return Subnet{}, fmt.Errorf("%w: %s/%d", ErrSubnetTooLarge, ip4, ones)
	}
	return Subnet{IP: ip4, Prefix: ones}, nil
}

// Size is the number of addresses in the subnet, 2^(32-prefix).
func (s Subnet) Size() int {
	return 1 << (32 - s.Prefix)
}

// Base is the host address masked with the prefix.
func (s Subnet) Base() net.IP {
	return uint32ToIP(s.base())
}

// Addr returns the address at offset from the base.
func (s Subnet) Addr(offset int) net.IP {
	return uint32ToIP(s.base() + uint32(offset))
}

// Broadcast is the last address of the subnet.
func (s Subnet) Broadcast() net.IP {
	return s.Addr(s.Size() - 1)
}

// Contains reports whether ip falls inside the subnet.
func (s Subnet) Contains(ip net.IP) bool {
	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}
	return ipToUint32(ip4)&s.mask() == s.base()
}

func (s Subnet) String() string {
	return fmt.Sprintf("%s/%d", s.Base(), s.Prefix)
}

func (s Subnet) mask() uint32 {
	return ^uint32(0) << (32 - s.Prefix)
}

func (s Subnet) base() uint32 {
	return ipToUint32(s.IP.To4()) & s.mask()
}

func ipToUint32(ip net.IP) uint32 {
	return binary.BigEndian.Uint32(ip.To4())
}

func uint32ToIP(v uint32) net.IP {
	ip := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(ip, v)
	return ip
}

// LocalSubnet finds the IPv4 address used for outbound traffic and returns
// the network of the interface that carries it.
func LocalSubnet() (Subnet, error) {
	local, err := outboundIP()
	if err != nil {
		return Subnet{}, err
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return Subnet{}, fmt.Errorf("failed to list interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || !ipnet.IP.Equal(local) {
				continue
			}
			ones, bits := ipnet.Mask.Size()
			return newSubnet(local, ones, bits)
		}
	}

	return Subnet{}, fmt.Errorf("%w: %s", ErrNoSubnet, local)
}

// outboundIP asks the routing table which source address reaches a public
// host. Connecting a UDP socket sends no packets.
func outboundIP() (net.IP, error) {
	conn, err := net.Dial("udp4", "198.51.100.1:9")
	if err != nil {
		return nil, fmt.Errorf("failed to determine local address: %w", err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP.To4() == nil {
		return nil, fmt.Errorf("local address %v is not IPv4", conn.LocalAddr())
	}
	return addr.IP.To4(), nil
}

// LocalIPs returns the IPv4 addresses of the up, non-loopback interfaces.
func LocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}

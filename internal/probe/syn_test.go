//go:build linux

package probe

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildSYNPacketShape(t *testing.T) {
	src := [4]byte{10, 0, 0, 1}
	dst := [4]byte{10, 0, 0, 2}

	packet := buildSYNPacket(src, dst, 33333, 80, 0x12345678)

	assert.Len(t, packet, ipv4HdrLen+tcpHdrLen)
	assert.Equal(t, byte(0x45), packet[0])
	assert.Equal(t, byte(tcpFlagSYN), packet[ipv4HdrLen+13])

	srcPort := uint16(packet[ipv4HdrLen])<<8 | uint16(packet[ipv4HdrLen+1])
	assert.EqualValues(t, 33333, srcPort)
}

func TestParseIncomingDetectsSynAck(t *testing.T) {
	src := [4]byte{10, 0, 0, 2}
	dst := [4]byte{10, 0, 0, 1}

	packet := buildSYNPacket(src, dst, 80, 33333, 1)
	packet[ipv4HdrLen+13] = tcpFlagSYN | tcpFlagACK

	_, port, flags, ok := parseIncoming(packet, &net.IPAddr{IP: net.ParseIP("10.0.0.2")})
	assert.True(t, ok)
	assert.EqualValues(t, 80, port)
	assert.Equal(t, uint8(tcpFlagSYN|tcpFlagACK), flags)
}

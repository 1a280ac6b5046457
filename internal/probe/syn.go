//go:build linux

package probe

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"runtime"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/example/portscanner/internal/fastsum"
	"github.com/example/portscanner/internal/logger"
	"github.com/example/portscanner/internal/ratelimit"
)

var (
	ErrNoSuitableInterface = errors.New("no suitable non-loopback IPv4 interface found")
	ErrRawSocketPrivilege  = errors.New("opening raw socket requires elevated privileges")
)

const (
	tcpFlagFIN = 0x01
	tcpFlagSYN = 0x02
	tcpFlagRST = 0x04
	tcpFlagACK = 0x10

	tcpWindow  = 64240
	ipv4HdrLen = 20
	tcpHdrLen  = 20

	// synBatchSize caps how many packets accumulate for one destination
	// before sendBatch flushes them, so one unresponsive or slow
	// destination doesn't hold an unbounded number of built packets.
	synBatchSize = 64
)

// Target is one (ip, port) pair to SYN-probe.
type Target struct {
	IP   string
	Port uint16
}

// SYNScanner sends stateless raw TCP SYNs and relies on an independent
// receiver to capture SYN-ACK replies. It keeps no port-to-target
// correlation map: any SYN-ACK observed during or shortly after the scan
// counts as open, rather than trying to match a response to the probe
// that triggered it.
type SYNScanner struct {
	Limiter *ratelimit.Limiter
	Metrics *ScanMetrics
	Logger  logger.Logger

	sendFD   int
	listener net.PacketConn
	srcIP    [4]byte
}

// Open acquires the raw transmit socket and the raw receive listener. Must
// be called once before Scan. Fails cleanly with ErrRawSocketPrivilege if
// the process lacks CAP_NET_RAW.
func (s *SYNScanner) Open() error {
	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_RAW, syscall.IPPROTO_TCP)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRawSocketPrivilege, err)
	}

	if err := syscall.SetsockoptInt(fd, syscall.IPPROTO_IP, syscall.IP_HDRINCL, 1); err != nil {
		syscall.Close(fd)
		return fmt.Errorf("set IP_HDRINCL: %w", err)
	}

	srcIP, err := localIPv4()
	if err != nil {
		syscall.Close(fd)
		return err
	}

	listener, err := net.ListenPacket("ip4:tcp", "0.0.0.0")
	if err != nil {
		syscall.Close(fd)
		return fmt.Errorf("%w: %v", ErrRawSocketPrivilege, err)
	}

	s.sendFD = fd
	s.listener = listener
	s.srcIP = srcIP

	return nil
}

func (s *SYNScanner) Close() error {
	var err error

	if s.listener != nil {
		err = s.listener.Close()
	}

	if s.sendFD != 0 {
		syscall.Close(s.sendFD)
	}

	return err
}

// Scan groups targets by destination IP (the producer emits every port for
// one IP consecutively) and flushes each group through sendBatch, which
// transmits the whole group with a single sendmmsg(2) call where the
// platform supports it. It runs the receiver until ctx is cancelled or the
// targets channel is closed and a short drain window elapses. Open
// observations are emitted to out.
func (s *SYNScanner) Scan(ctx context.Context, targets <-chan Target, out chan<- Outcome) {
	recvCtx, cancelRecv := context.WithCancel(ctx)
	defer cancelRecv()

	recvDone := make(chan struct{})

	go func() {
		defer close(recvDone)
		s.receive(recvCtx, out)
	}()

	var (
		batchIP  string
		batchDst [4]byte
		packets  [][]byte
	)

	flush := func() {
		if len(packets) == 0 {
			return
		}

		n, err := s.sendBatch(packets, batchDst)
		s.Metrics.Scanned.Add(int64(n))

		if err != nil {
			s.Metrics.Errors.Add(1)

			if s.Logger != nil {
				s.Logger.Debug().Err(err).Str("ip", batchIP).Int("sent", n).Int("batch", len(packets)).Msg("syn batch send failed")
			}
		}

		packets = packets[:0]
	}

	for t := range targets {
		if s.Limiter != nil {
			if err := s.Limiter.Acquire(ctx); err != nil {
				flush()
				return
			}
		}

		if t.IP != batchIP || len(packets) >= synBatchSize {
			flush()

			dstIP := net.ParseIP(t.IP).To4()
			if dstIP == nil {
				if s.Logger != nil {
					s.Logger.Debug().Str("ip", t.IP).Msg("invalid destination ip, skipping")
				}

				batchIP = ""

				continue
			}

			batchIP = t.IP
			copy(batchDst[:], dstIP)
		}

		packets = append(packets, s.buildOutboundPacket(batchDst, t.Port))
	}

	flush()

	// Give in-flight SYN-ACKs a window to arrive before tearing the
	// receiver down; this is stateless probing, so "observed during or
	// shortly after the scan" is the whole signal.
	select {
	case <-time.After(2 * time.Second):
	case <-ctx.Done():
	}

	cancelRecv()
	<-recvDone
}

// buildOutboundPacket fabricates one SYN packet bound for dst:dstPort, using
// a fresh random source port and sequence number per probe.
func (s *SYNScanner) buildOutboundPacket(dst [4]byte, dstPort uint16) []byte {
	srcPort := uint16(1025 + rand.Intn(65535-1025+1)) //nolint:gosec // probe source port, not a security-sensitive random
	seq := rand.Uint32()                               //nolint:gosec

	return buildSYNPacket(s.srcIP, dst, srcPort, dstPort, seq)
}

// buildSYNPacket fabricates a 40-byte IPv4+TCP SYN packet: data_offset=5,
// urg=0, window=64240.
func buildSYNPacket(src, dst [4]byte, srcPort, dstPort uint16, seq uint32) []byte {
	packet := make([]byte, ipv4HdrLen+tcpHdrLen)

	ip := packet[:ipv4HdrLen]
	ip[0] = 0x45 // version 4, IHL 5
	ip[1] = 0
	binary.BigEndian.PutUint16(ip[2:4], uint16(len(packet)))
	binary.BigEndian.PutUint16(ip[4:6], uint16(rand.Uint32())) //nolint:gosec
	ip[6] = 0x40                                                // don't fragment
	ip[7] = 0
	ip[8] = 64 // TTL
	ip[9] = syscall.IPPROTO_TCP
	copy(ip[12:16], src[:])
	copy(ip[16:20], dst[:])
	// checksum left zero; the kernel fills the IPv4 header checksum when
	// IP_HDRINCL is set on most stacks, but we compute it anyway for
	// stacks that don't.
	binary.BigEndian.PutUint16(ip[10:12], fastsum.Checksum(ip))

	tcp := packet[ipv4HdrLen:]
	binary.BigEndian.PutUint16(tcp[0:2], srcPort)
	binary.BigEndian.PutUint16(tcp[2:4], dstPort)
	binary.BigEndian.PutUint32(tcp[4:8], seq)
	binary.BigEndian.PutUint32(tcp[8:12], 0) // ack
	tcp[12] = 5 << 4                         // data offset 5, reserved 0
	tcp[13] = tcpFlagSYN
	binary.BigEndian.PutUint16(tcp[14:16], tcpWindow)
	binary.BigEndian.PutUint16(tcp[16:18], 0) // checksum placeholder
	binary.BigEndian.PutUint16(tcp[18:20], 0) // urgent pointer

	cksum := fastsum.TCPv4(src, dst, tcp, nil)
	binary.BigEndian.PutUint16(tcp[16:18], cksum)

	return packet
}

// receive reads the raw IPv4 stream on a dedicated OS thread (the raw
// socket iterator is a blocking syscall, not expressible as a cooperative
// task) and bridges into the outcome channel via a blocking send.
func (s *SYNScanner) receive(ctx context.Context, out chan<- Outcome) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	buf := make([]byte, 65535)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.listener.SetReadDeadline(time.Now().Add(200 * time.Millisecond)); err != nil {
			return
		}

		n, addr, err := s.listener.ReadFrom(buf)
		if err != nil {
			continue // deadline exceeded or transient read error; keep polling
		}

		srcIP, srcPort, flags, ok := parseIncoming(buf[:n], addr)
		if !ok {
			continue
		}

		// Only SYN|ACK (both bits set) indicates an open port; every
		// other combination, including RST, is ignored.
		if flags&(tcpFlagSYN|tcpFlagACK) != (tcpFlagSYN | tcpFlagACK) {
			continue
		}

		outcome := Outcome{IP: srcIP, Port: srcPort, Open: true}
		s.Metrics.Open.Add(1)

		select {
		case out <- outcome:
		case <-ctx.Done():
			return
		}
	}
}

// parseIncoming extracts the TCP source port and flags from a raw IPv4+TCP
// datagram. net.ListenPacket("ip4:tcp", ...) on Linux delivers the payload
// starting at the TCP header already stripped of the IPv4 header on some
// kernels and including it on others, so we detect by inspecting the first
// nibble.
func parseIncoming(b []byte, addr net.Addr) (srcIP string, srcPort uint16, flags uint8, ok bool) {
	if len(b) < tcpHdrLen {
		return "", 0, 0, false
	}

	tcp := b

	if len(b) >= ipv4HdrLen+tcpHdrLen && b[0]>>4 == 4 {
		tcp = b[ipv4HdrLen:]
	}

	if len(tcp) < tcpHdrLen {
		return "", 0, 0, false
	}

	srcPort = binary.BigEndian.Uint16(tcp[0:2])
	flags = tcp[13]

	if ipAddr, ok2 := addr.(*net.IPAddr); ok2 {
		srcIP = ipAddr.IP.String()
	}

	return srcIP, srcPort, flags, srcIP != ""
}

func localIPv4() ([4]byte, error) {
	var zero [4]byte

	ifaces, err := net.Interfaces()
	if err != nil {
		return zero, fmt.Errorf("list interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}

			v4 := ipNet.IP.To4()
			if v4 == nil {
				continue
			}

			var out [4]byte
			copy(out[:], v4)

			return out, nil
		}
	}

	return zero, ErrNoSuitableInterface
}

// sendBatch transmits a group of already-built packets to the same
// destination via sendmmsg(2), falling back to one sendto(2) per packet if
// the batched syscall is unavailable on this platform/arch.
func (s *SYNScanner) sendBatch(packets [][]byte, dst [4]byte) (int, error) {
	msgs := make([]Mmsghdr, len(packets))
	iovecs := make([]unix.Iovec, len(packets))
	names := make([]unix.RawSockaddrInet4, len(packets))

	for i, p := range packets {
		iovecs[i] = unix.Iovec{Base: &p[0]}
		iovecs[i].SetLen(len(p))

		names[i].Family = uint16(unix.AF_INET)
		copy(names[i].Addr[:], dst[:])

		msgs[i].Hdr.Name = (*byte)(unsafe.Pointer(&names[i]))
		msgs[i].Hdr.Namelen = uint32(unsafe.Sizeof(names[i]))
		msgs[i].Hdr.Iov = &iovecs[i]
		msgs[i].Hdr.SetIovlen(1)
	}

	n, err := sendmmsg(s.sendFD, msgs, 0)
	if err == nil {
		return n, nil
	}

	// Portable fallback: one sendto(2) per packet.
	var addr syscall.SockaddrInet4
	addr.Addr = dst

	sent := 0

	for _, p := range packets {
		if err := syscall.Sendto(s.sendFD, p, 0, &addr); err != nil {
			return sent, err
		}

		sent++
	}

	return sent, nil
}

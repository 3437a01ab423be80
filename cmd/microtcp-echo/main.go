// microtcp-echo is a small echo harness for the microTCP stack: one process
// accepts a connection and echoes what it receives, the other connects,
// sends a payload and verifies the echo.
package main

import (
	"bytes"
	"flag"
	"log"
	"math/rand"
	"time"

	"github.com/irctrakz/microtcp/pkg/config"
	"github.com/irctrakz/microtcp/pkg/core"
	"github.com/irctrakz/microtcp/pkg/logging"
	"github.com/irctrakz/microtcp/pkg/socket"
	"github.com/irctrakz/microtcp/pkg/transport"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "path to a YAML/JSON config file")
		connect = flag.String("connect", "", "peer address to connect to; empty means accept")
		size    = flag.Int("size", 64*1024, "payload size to send in client mode")
		debug   = flag.Bool("debug", false, "enable debug logging and safe packet copies")
	)
	flag.Parse()

	cfg := config.DefaultConfig()
	if *cfgPath != "" {
		if err := config.LoadFromFile(*cfgPath, cfg); err != nil {
			log.Fatalf("config: %v", err)
		}
	}
	config.LoadFromEnv(cfg)
	if *debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.ApplyLogging(); err != nil {
		log.Fatalf("config: %v", err)
	}
	core.SetDebugMode(*debug)

	tr, err := transport.ListenUDP(cfg.Transport.ListenAddr)
	if err != nil {
		log.Fatalf("transport: %v", err)
	}
	defer tr.Close()
	if cfg.Transport.TTL > 0 {
		if err := tr.SetTTL(cfg.Transport.TTL); err != nil {
			logging.Warnf("transport: %v", err)
		}
	}
	if cfg.Transport.TOS > 0 {
		if err := tr.SetTOS(cfg.Transport.TOS); err != nil {
			logging.Warnf("transport: %v", err)
		}
	}

	opts := socket.Options{
		MSS:          cfg.Protocol.MSS,
		AckTimeout:   time.Duration(cfg.Protocol.AckTimeoutMS) * time.Millisecond,
		WindowSize:   cfg.Protocol.WindowSize,
		InitCwnd:     cfg.Protocol.InitCwndSegments * cfg.Protocol.MSS,
		InitSSThresh: cfg.Protocol.WindowSize,
		MaxRetries:   cfg.Protocol.MaxRetries,
	}
	sock := socket.NewSocket(opts)
	if err := sock.Bind(tr); err != nil {
		log.Fatalf("bind: %v", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go runStatsReporter(sock, stop)

	if *connect == "" {
		runServer(sock)
	} else {
		runClient(sock, *connect, *size)
	}

	s := sock.Stats()
	logging.Infof("final stats: sent=%d pkts/%d bytes, received=%d pkts/%d bytes, lost=%d pkts",
		s.PacketsSent, s.BytesSent, s.PacketsReceived, s.BytesReceived, s.PacketsLost)
}

// runServer accepts one connection and echoes everything back until the peer
// closes, then completes the teardown.
func runServer(sock *socket.Socket) {
	logging.Infof("waiting for a connection")
	if err := sock.Accept(); err != nil {
		log.Fatalf("accept: %v", err)
	}
	logging.Infof("accepted connection from %s", sock.Peer())

	buf := make([]byte, 32*1024)
	for {
		n, err := sock.Recv(buf)
		if err != nil {
			log.Fatalf("recv: %v", err)
		}
		if n == 0 {
			break
		}
		if _, err := sock.Send(buf[:n]); err != nil {
			log.Fatalf("send: %v", err)
		}
	}
	if err := sock.Shutdown(socket.ShutRDWR); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
	logging.Infof("connection closed cleanly, state=%s", sock.State())
}

// runClient connects, sends size random bytes, reads the echo back and
// verifies it byte for byte.
func runClient(sock *socket.Socket, raddr string, size int) {
	peer, err := transport.ResolvePeer(raddr)
	if err != nil {
		log.Fatalf("resolve: %v", err)
	}
	if err := sock.Connect(peer); err != nil {
		log.Fatalf("connect: %v", err)
	}
	logging.Infof("connected to %s", raddr)

	payload := make([]byte, size)
	rand.Read(payload)

	// Ping-pong in chunks well below the window so the echo of one chunk
	// never collides with the next chunk for buffer space.
	const chunk = 2048
	echo := make([]byte, 0, size)
	buf := make([]byte, 32*1024)
	start := time.Now()
	for off := 0; off < size; {
		end := off + chunk
		if end > size {
			end = size
		}
		if _, err := sock.Send(payload[off:end]); err != nil {
			log.Fatalf("send: %v", err)
		}
		for len(echo) < end {
			n, err := sock.Recv(buf)
			if err != nil {
				log.Fatalf("recv: %v", err)
			}
			if n == 0 {
				log.Fatalf("peer closed before echo completed (%d/%d bytes)", len(echo), size)
			}
			echo = append(echo, buf[:n]...)
		}
		off = end
	}
	elapsed := time.Since(start)

	if !bytes.Equal(payload, echo) {
		log.Fatalf("echo mismatch")
	}
	logging.Infof("echoed %d bytes in %v (%.1f KB/s)", size, elapsed,
		float64(2*size)/1024/elapsed.Seconds())

	if err := sock.Shutdown(socket.ShutRDWR); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
	logging.Infof("connection closed cleanly, state=%s", sock.State())
}

// runStatsReporter logs connection counters periodically while the harness
// runs.
func runStatsReporter(sock *socket.Socket, stop <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s := sock.Stats()
			logging.Infof("stats: sent=%d/%dB received=%d/%dB lost=%d state=%s",
				s.PacketsSent, s.BytesSent, s.PacketsReceived, s.BytesReceived,
				s.PacketsLost, sock.State())
		}
	}
}

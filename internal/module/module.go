/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package module wires the Jack Registry, Output Transmitters, Input
Receivers, Patch Coordinator, Preset Subsystem, and Directive Codec
into one running Module, and implements the Tick Loop, Directive
Handlers, and Global State Transition that drive them.
*/
package module

import (
	"context"
	"math/rand"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"

	"patchmesh/internal/config"
	"patchmesh/internal/coordinator"
	"patchmesh/internal/directive"
	perrors "patchmesh/internal/errors"
	"patchmesh/internal/jack"
	"patchmesh/internal/logging"
	"patchmesh/internal/preset"
	"patchmesh/internal/transport"
)

// mcastMinPort/mcastMaxPort bound the dynamic port range Output
// Transmitters allocate endpoints from.
const (
	mcastMinPort = 40000
	mcastMaxPort = 49999
)

// Module is one participating process in the patch fabric.
type Module struct {
	id     string
	cfg    *config.Config
	logger *logging.Logger

	registry    *jack.Registry
	coordinator *coordinator.Coordinator
	preset      *preset.Subsystem
	handler     EventHandler

	iface       *net.Interface
	controlConn *net.UDPConn
	controlAddr *net.UDPAddr

	mu          sync.Mutex
	transmitters map[string]*transport.Transmitter // keyed by output jack id
	receivers    map[string]*transport.Receiver    // keyed by input jack id
	peerStates   map[string]jack.LocalState        // observed via Update/HeartbeatResponse traffic
	halted       bool

	inbox    chan []byte
	lastTick time.Time
	rng      *rand.Rand

	shape transport.Shape
}

// New constructs a Module from cfg, ready to have jacks declared on it.
// handler may be nil, in which case NoopHandler is used.
func New(cfg *config.Config, handler EventHandler, logger *logging.Logger) (*Module, error) {
	if handler == nil {
		handler = NoopHandler{}
	}
	if logger == nil {
		logger = logging.NewLogger("module")
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: cfg.ControlPort})
	if err != nil {
		return nil, perrors.BindFailed(cfg.ControlGroup, err).WithCause(err)
	}
	controlPC := ipv4.NewPacketConn(conn)
	controlGroupAddr := &net.UDPAddr{IP: net.ParseIP(cfg.ControlGroup)}
	if err := controlPC.JoinGroup(nil, controlGroupAddr); err != nil {
		conn.Close()
		return nil, perrors.JoinFailed(cfg.ControlGroup, err)
	}
	controlAddr := &net.UDPAddr{IP: net.ParseIP(cfg.ControlGroup), Port: cfg.ControlPort}

	m := &Module{
		id:           cfg.NodeID,
		cfg:          cfg,
		logger:       logger,
		registry:     jack.NewRegistry(cfg.NodeID),
		controlConn:  conn,
		controlAddr:  controlAddr,
		transmitters: make(map[string]*transport.Transmitter),
		receivers:    make(map[string]*transport.Receiver),
		peerStates:   make(map[string]jack.LocalState),
		inbox:        make(chan []byte, 256),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		shape:        transport.Shape{BlockSize: cfg.BlockSize(), Channels: cfg.Channels},
	}

	m.coordinator = coordinator.New(coordinator.Config{
		ModuleID:           cfg.NodeID,
		ElectionTimeoutMin: time.Duration(cfg.ElectionTimeoutMinMs) * time.Millisecond,
		ElectionTimeoutMax: time.Duration(cfg.ElectionTimeoutMaxMs) * time.Millisecond,
		HeartbeatPeriod:    time.Duration(cfg.HeartbeatPeriodMs) * time.Millisecond,
		PeerSilenceTimeout: time.Duration(cfg.PeerSilenceTimeoutMs) * time.Millisecond,
	}, m, m.registry.LocalState, logger.With("subsystem", "coordinator"))

	m.preset = preset.New(cfg.NodeID, m.registry, handler, m, preset.ParseGatherPolicy(cfg.GatherPolicy),
		cfg.SnapshotCompressionThreshold, time.Duration(cfg.SnapshotGatherDeadlineMs)*time.Millisecond,
		logger.With("subsystem", "preset"))

	m.handler = handler
	return m, nil
}

// ID returns the module's stable identifier.
func (m *Module) ID() string { return m.id }

// Registry returns the module's Jack Registry.
func (m *Module) Registry() *jack.Registry { return m.registry }

// Coordinator returns the module's Patch Coordinator.
func (m *Module) Coordinator() *coordinator.Coordinator { return m.coordinator }

// AddInput declares a new input jack and its Input Receiver.
func (m *Module) AddInput(name string) *jack.InputJack {
	in := m.registry.AddInput(name)
	m.mu.Lock()
	m.receivers[in.ID] = transport.NewReceiver(m.shape, m.cfg.BufferSize)
	m.mu.Unlock()
	return in
}

// AddOutput declares a new output jack, allocating a multicast
// endpoint for its Output Transmitter.
func (m *Module) AddOutput(name string, hue float64) (*jack.OutputJack, error) {
	out := m.registry.AddOutput(name, hue)
	group := m.randomDataGroup()
	port := mcastMinPort + m.rng.Intn(mcastMaxPort-mcastMinPort)

	tx, err := transport.NewTransmitter(m.iface, group, port, m.shape)
	if err != nil {
		return nil, err
	}
	out.Group = group
	out.Port = port

	m.mu.Lock()
	m.transmitters[out.ID] = tx
	m.mu.Unlock()
	return out, nil
}

func (m *Module) randomDataGroup() string {
	// Administratively-scoped multicast range 239.0.0.0/8.
	return "239.0." + itoa(m.rng.Intn(256)) + "." + itoa(1+m.rng.Intn(254))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Broadcast encodes and sends d on the control multicast channel,
// compressing large snapshot payloads per the configured threshold.
// Satisfies both coordinator.Broadcaster and preset.Broadcaster.
func (m *Module) Broadcast(d directive.Directive) error {
	flags := directive.Flag(0)
	switch v := d.(type) {
	case directive.SnapshotResponse:
		if m.cfg.SnapshotCompressionThreshold > 0 && len(v.Data) >= m.cfg.SnapshotCompressionThreshold {
			flags = directive.FlagCompressed
		}
	case directive.SetPreset:
		total := 0
		for _, e := range v.Data {
			total += len(e.Data)
		}
		if m.cfg.SnapshotCompressionThreshold > 0 && total >= m.cfg.SnapshotCompressionThreshold {
			flags = directive.FlagCompressed
		}
	}

	buf, err := directive.Encode(d, flags)
	if err != nil {
		return err
	}
	_, err = m.controlConn.WriteToUDP(buf, m.controlAddr)
	return err
}

// Start arms the coordinator's election timer and launches the
// control-socket reader goroutine under an errgroup bound to ctx; the
// reader returns when ctx is cancelled.
func (m *Module) Start(ctx context.Context, now time.Time) (*errgroup.Group, error) {
	m.coordinator.Start(now)

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return m.readControlLoop(gctx) })
	return eg, nil
}

func (m *Module) readControlLoop(ctx context.Context) error {
	buf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		m.controlConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, _, err := m.controlConn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			continue
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		select {
		case m.inbox <- datagram:
		case <-ctx.Done():
			return nil
		default:
			// Inbox full: drop rather than block the reader, per spec
			// §4.9's liveness-over-consistency policy.
		}
	}
}

// Stop closes the control socket, every transmitter, and every
// receiver.
func (m *Module) Stop() {
	m.controlConn.Close()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.transmitters {
		tx.Close()
	}
	for _, rx := range m.receivers {
		rx.Disconnect()
	}
}

// IsHalted reports whether this module has processed a Halt directive.
func (m *Module) IsHalted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted
}

// Tick runs one pass of the Tick Loop (spec §4.6): drain control
// traffic, then process every elapsed tick period since the last call.
func (m *Module) Tick(now time.Time) {
	m.drainControlTraffic(now)

	if m.lastTick.IsZero() {
		m.lastTick = now
	}
	tickPeriod := time.Second / time.Duration(m.cfg.PacketRate)
	elapsed := now.Sub(m.lastTick)
	ticks := int(elapsed / tickPeriod)
	if ticks == 0 {
		return
	}
	m.lastTick = m.lastTick.Add(time.Duration(ticks) * tickPeriod)

	for i := 0; i < ticks; i++ {
		tickNow := m.lastTick
		m.runOneTick(tickNow)
	}
}

func (m *Module) runOneTick(now time.Time) {
	inputs := m.registry.Inputs()
	outputs := m.registry.Outputs()

	inputBlocks := make([]Block, len(inputs))
	for i, in := range inputs {
		m.mu.Lock()
		rx := m.receivers[in.ID]
		m.mu.Unlock()
		if rx == nil {
			inputBlocks[i] = transport.NewBlock(m.shape)
			continue
		}
		rx.Update()
		inputBlocks[i] = rx.GetData()
	}

	outputBlocks := m.handler.Process(inputBlocks)

	for i, out := range outputs {
		if i >= len(outputBlocks) {
			break
		}
		m.mu.Lock()
		tx := m.transmitters[out.ID]
		m.mu.Unlock()
		if tx != nil {
			tx.Send(outputBlocks[i])
		}
	}

	m.coordinator.Tick(now)
	m.preset.Tick(now)
}

func (m *Module) drainControlTraffic(now time.Time) {
	for {
		select {
		case raw := <-m.inbox:
			_, d, ok, err := directive.Decode(raw)
			if err != nil {
				m.logger.Debug("dropping undecodable control datagram", "error", err.Error())
				continue
			}
			if !ok {
				continue
			}
			m.handleDirective(now, d)
		default:
			return
		}
	}
}

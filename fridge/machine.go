// Package fridge drives the GATT session with the refrigerator controller:
// connect, discover its service, characteristics and descriptors, enable
// notifications, then write periodic status queries and decode the replies.
package fridge

import (
	"errors"
	"fmt"

	"github.com/mjasion/balena-home/vanmon/decoder"
	"github.com/mjasion/balena-home/vanmon/radio"
	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

// GATT identifiers of the fridge controller.
var (
	ServiceUUID = bluetooth.New16BitUUID(0x1234)
	CommandUUID = bluetooth.New16BitUUID(0x1235)
	NotifyUUID  = bluetooth.New16BitUUID(0x1236)
)

// Session errors.
var (
	ErrUnknownConnection = errors.New("unknown connection handle")
	ErrNotReady          = errors.New("fridge session not ready")
	ErrBusy              = errors.New("fridge connection already in progress")
)

// State is the position of the Machine in the session lifecycle.
type State uint8

const (
	Disconnected State = iota
	Connecting
	DiscoveringService
	// characteristics and descriptors are discovered concurrently
	DiscoveringAttributes
	Ready
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case DiscoveringService:
		return "discovering_service"
	case DiscoveringAttributes:
		return "discovering_attributes"
	case Ready:
		return "ready"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Session is the per-connection state, alive from connect to disconnect.
type Session struct {
	Conn         radio.ConnHandle
	ServiceStart radio.AttrHandle
	ServiceEnd   radio.AttrHandle
	HasService   bool

	NotifyValue       radio.AttrHandle
	NotifyCCCD        radio.AttrHandle
	CommandValue      radio.AttrHandle
	CommandDescriptor radio.AttrHandle

	charsDone bool
	descsDone bool
}

// commandHandle is the write target for queries: the handle reported by
// descriptor discovery under the command UUID, else the value handle.
func (s *Session) commandHandle() radio.AttrHandle {
	if s.CommandDescriptor != 0 {
		return s.CommandDescriptor
	}
	return s.CommandValue
}

// Machine is the connection state machine for one fridge. It is not safe
// for concurrent use: every method must be called from the event loop.
type Machine struct {
	radio   radio.Radio
	addr    radio.Address
	logger  *zap.Logger
	state   State
	current radio.ConnHandle

	sessions map[radio.ConnHandle]*Session
}

// NewMachine creates a disconnected machine for the fridge at addr.
func NewMachine(r radio.Radio, addr radio.Address, logger *zap.Logger) *Machine {
	return &Machine{
		radio:    r,
		addr:     addr,
		logger:   logger.With(zap.Stringer("mac", addr)),
		sessions: make(map[radio.ConnHandle]*Session),
	}
}

// Address returns the fridge address.
func (m *Machine) Address() radio.Address { return m.addr }

// State returns the current lifecycle state.
func (m *Machine) State() State { return m.state }

// Session returns a copy of the session for conn.
func (m *Machine) Session(conn radio.ConnHandle) (Session, bool) {
	s, ok := m.sessions[conn]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Owns reports whether conn belongs to a live fridge session.
func (m *Machine) Owns(conn radio.ConnHandle) bool {
	_, ok := m.sessions[conn]
	return ok
}

// Connect asks the radio to connect to the fridge. Only valid while
// disconnected.
func (m *Machine) Connect() error {
	if m.state != Disconnected {
		return fmt.Errorf("%w: %s", ErrBusy, m.state)
	}
	if err := m.radio.Connect(m.addr); err != nil {
		return fmt.Errorf("failed to request connect: %w", err)
	}
	m.state = Connecting
	m.logger.Info("connecting to fridge")
	return nil
}

// Disconnect asks the radio to drop the fridge connection. The session is
// destroyed when the disconnect event arrives.
func (m *Machine) Disconnect() error {
	if m.state == Disconnected {
		return nil
	}
	if err := m.radio.Disconnect(m.addr); err != nil {
		return fmt.Errorf("failed to request disconnect: %w", err)
	}
	return nil
}

// Query writes a status request to the command handle.
func (m *Machine) Query() error {
	if m.state != Ready {
		return fmt.Errorf("%w: %s", ErrNotReady, m.state)
	}
	s := m.sessions[m.current]
	return m.Write(m.current, s.commandHandle(), queryPacket, false)
}

// Write sends data on a live session. Handles of destroyed sessions are
// rejected.
func (m *Machine) Write(conn radio.ConnHandle, handle radio.AttrHandle, data []byte, ack bool) error {
	if _, ok := m.sessions[conn]; !ok {
		return fmt.Errorf("%w: 0x%04X", ErrUnknownConnection, uint16(conn))
	}
	if err := m.radio.Write(conn, handle, data, ack); err != nil {
		return fmt.Errorf("failed to write handle 0x%04X: %w", uint16(handle), err)
	}
	return nil
}

// Handle advances the machine with one radio event. A decoded notify frame
// is returned as a snapshot. Events for other peripherals are ignored.
func (m *Machine) Handle(ev radio.Event) (decoder.Snapshot, error) {
	switch e := ev.(type) {
	case radio.PeripheralConnected:
		m.onConnected(e)
	case radio.ConnectFailed:
		m.onConnectFailed(e)
	case radio.PeripheralDisconnected:
		return nil, m.onDisconnected(e)
	case radio.ServiceFound:
		return nil, m.onServiceFound(e)
	case radio.ServiceSearchComplete:
		return nil, m.onServiceSearchComplete(e)
	case radio.CharacteristicFound:
		return nil, m.onCharacteristicFound(e)
	case radio.CharacteristicSearchComplete:
		return nil, m.onCharacteristicSearchComplete(e)
	case radio.DescriptorFound:
		return nil, m.onDescriptorFound(e)
	case radio.DescriptorSearchComplete:
		return nil, m.onDescriptorSearchComplete(e)
	case radio.Notification:
		return m.onNotification(e)
	case radio.ReadResult:
		if _, err := m.session(e.Conn); err != nil {
			return nil, err
		}
	case radio.WriteComplete:
		return nil, m.onWriteComplete(e)
	case radio.ConnectionParamsUpdated:
		if _, err := m.session(e.Conn); err != nil {
			return nil, err
		}
		m.logger.Debug("connection parameters updated",
			zap.Uint16("interval", e.Interval),
			zap.Uint16("latency", e.Latency),
			zap.Uint16("supervision_timeout", e.SupervisionTimeout))
	case radio.ScanResult, radio.ScanComplete:
	}
	return nil, nil
}

func (m *Machine) session(conn radio.ConnHandle) (*Session, error) {
	s, ok := m.sessions[conn]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%04X", ErrUnknownConnection, uint16(conn))
	}
	return s, nil
}

// abort disconnects after a step that cannot continue. When even the
// disconnect cannot be requested no event will follow, so the session is
// dropped here and the machine is free to connect again.
func (m *Machine) abort(reason string, err error) {
	m.logger.Warn("aborting fridge session", zap.String("reason", reason), zap.Error(err))
	if err := m.radio.Disconnect(m.addr); err != nil {
		m.logger.Error("failed to request disconnect, dropping fridge session", zap.Error(err))
		m.drop(m.current)
	}
}

func (m *Machine) drop(conn radio.ConnHandle) {
	delete(m.sessions, conn)
	if conn == m.current {
		m.state = Disconnected
		m.current = 0
	}
}

func (m *Machine) onConnected(e radio.PeripheralConnected) {
	if e.Address != m.addr {
		return
	}
	if old, ok := m.sessions[m.current]; ok && old.Conn != e.Conn {
		delete(m.sessions, old.Conn)
	}

	m.sessions[e.Conn] = &Session{Conn: e.Conn}
	m.current = e.Conn
	m.state = DiscoveringService
	m.logger.Info("fridge connected", zap.Uint16("conn", uint16(e.Conn)))

	if err := m.radio.DiscoverServices(e.Conn, ServiceUUID); err != nil {
		m.abort("service discovery request failed", err)
	}
}

func (m *Machine) onConnectFailed(e radio.ConnectFailed) {
	if e.Address != m.addr || m.state != Connecting {
		return
	}
	m.state = Disconnected
	m.logger.Warn("failed to connect to fridge", zap.Error(e.Err))
}

func (m *Machine) onDisconnected(e radio.PeripheralDisconnected) error {
	if _, err := m.session(e.Conn); err != nil {
		return err
	}
	m.drop(e.Conn)
	m.logger.Info("fridge disconnected", zap.Uint16("conn", uint16(e.Conn)))
	return nil
}

func (m *Machine) onServiceFound(e radio.ServiceFound) error {
	s, err := m.session(e.Conn)
	if err != nil {
		return err
	}
	if e.UUID != ServiceUUID {
		return nil
	}
	s.ServiceStart, s.ServiceEnd, s.HasService = e.Start, e.End, true
	m.logger.Debug("fridge service found",
		zap.Uint16("start_handle", uint16(e.Start)),
		zap.Uint16("end_handle", uint16(e.End)))
	return nil
}

func (m *Machine) onServiceSearchComplete(e radio.ServiceSearchComplete) error {
	s, err := m.session(e.Conn)
	if err != nil {
		return err
	}
	if !s.HasService {
		m.abort("fridge service not found", nil)
		return nil
	}

	m.state = DiscoveringAttributes
	if err := m.radio.DiscoverCharacteristics(e.Conn, s.ServiceStart, s.ServiceEnd); err != nil {
		m.abort("characteristic discovery request failed", err)
		return nil
	}
	if err := m.radio.DiscoverDescriptors(e.Conn, s.ServiceStart, s.ServiceEnd); err != nil {
		m.abort("descriptor discovery request failed", err)
	}
	return nil
}

func (m *Machine) onCharacteristicFound(e radio.CharacteristicFound) error {
	s, err := m.session(e.Conn)
	if err != nil {
		return err
	}
	switch e.UUID {
	case NotifyUUID:
		s.NotifyValue = e.ValueHandle
	case CommandUUID:
		s.CommandValue = e.ValueHandle
	default:
		return nil
	}
	m.logger.Debug("fridge characteristic found",
		zap.Stringer("uuid", e.UUID),
		zap.Uint16("value_handle", uint16(e.ValueHandle)))
	return nil
}

func (m *Machine) onCharacteristicSearchComplete(e radio.CharacteristicSearchComplete) error {
	s, err := m.session(e.Conn)
	if err != nil {
		return err
	}
	s.charsDone = true
	m.checkReady(s)
	return nil
}

func (m *Machine) onDescriptorFound(e radio.DescriptorFound) error {
	s, err := m.session(e.Conn)
	if err != nil {
		return err
	}

	switch e.UUID {
	case radio.CCCDUUID:
		if s.NotifyCCCD == 0 || (s.NotifyValue != 0 && e.Handle == s.NotifyValue+1) {
			s.NotifyCCCD = e.Handle
		}
		m.logger.Debug("enabling notifications", zap.Uint16("handle", uint16(e.Handle)))
		if err := m.Write(e.Conn, e.Handle, radio.NotifyEnable, true); err != nil {
			m.logger.Warn("failed to enable notifications", zap.Uint16("handle", uint16(e.Handle)), zap.Error(err))
		}
	case CommandUUID:
		// the command characteristic shows up in descriptor discovery
		// under its own UUID; that handle is the query target
		s.CommandDescriptor = e.Handle
		m.logger.Debug("fridge command handle found", zap.Uint16("handle", uint16(e.Handle)))
	}
	return nil
}

func (m *Machine) onDescriptorSearchComplete(e radio.DescriptorSearchComplete) error {
	s, err := m.session(e.Conn)
	if err != nil {
		return err
	}
	s.descsDone = true
	m.checkReady(s)
	return nil
}

func (m *Machine) checkReady(s *Session) {
	if !s.charsDone || !s.descsDone || s.Conn != m.current || m.state != DiscoveringAttributes {
		return
	}
	if s.commandHandle() == 0 {
		m.abort("fridge command characteristic not found", nil)
		return
	}
	m.state = Ready
	m.logger.Info("fridge session ready",
		zap.Uint16("command_handle", uint16(s.commandHandle())),
		zap.Uint16("notify_handle", uint16(s.NotifyValue)))
}

func (m *Machine) onNotification(e radio.Notification) (decoder.Snapshot, error) {
	if _, err := m.session(e.Conn); err != nil {
		return nil, err
	}
	snap, err := decoder.Decode(decoder.KindFridge, e.Payload)
	if err != nil {
		return nil, fmt.Errorf("fridge notify on handle 0x%04X: %w", uint16(e.ValueHandle), err)
	}
	return snap, nil
}

func (m *Machine) onWriteComplete(e radio.WriteComplete) error {
	if _, err := m.session(e.Conn); err != nil {
		return err
	}
	if e.Err != nil {
		m.logger.Warn("fridge write failed", zap.Uint16("handle", uint16(e.Handle)), zap.Error(e.Err))
	}
	return nil
}

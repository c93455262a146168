package modbus

import (
	"context"
	"hash/crc32"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const backendTickPeriod = 1 * time.Second

// clientControlBlock is the per-connection state the reactor keeps
// alive between poll iterations: request-assembly buffer, response
// buffer, and the two deadlines that can force a close.
type clientControlBlock struct {
	id      ClientID
	fd      int
	peerAddr string
	rawAddr []byte

	reqBuf       [maxADUSize]byte
	reqLen       int
	headerParsed bool
	header       mbapHeader

	rspBuf [maxADUSize]byte
	rsp    []byte // non-empty while a response is pending to be written

	lastActivity  time.Time // baseline for the idle timeout
	assembling    bool
	assemblyStart time.Time // baseline for the request-complete timeout
}

// wantsWrite reports whether this client currently has a response
// queued (write interest) as opposed to awaiting more request bytes
// (read interest). A client never has both.
func (c *clientControlBlock) wantsWrite() bool {
	return len(c.rsp) > 0
}

type commandKind int

const (
	cmdStop commandKind = iota
	cmdCloseConn
)

type command struct {
	kind commandKind
	id   ClientID
}

// ServerConfig groups the server's addressing and timeout knobs.
type ServerConfig struct {
	Host      string
	Service   string
	IPVersion IPVersion

	// IdleTimeout, if non-zero, closes a client connection this long
	// after its last completed request (or after connect, if none).
	IdleTimeout time.Duration

	// RequestCompleteTimeout, if non-zero, closes a client connection
	// this long after the first byte of a request is read without the
	// full ADU having been assembled.
	RequestCompleteTimeout time.Duration
}

// Server is a single-threaded, readiness-driven Modbus TCP server. All
// state is owned by the goroutine running Run; the only methods safe
// to call concurrently with Run are Shutdown and CloseClientConnection.
type Server struct {
	conf    ServerConfig
	backend Backend
	logger  Logger

	wakeup *wakeupHandle

	cmdMu    sync.Mutex
	cmdQueue []command

	listenFDs []int
	clients   []*clientControlBlock

	stopFlag        bool
	nextBackendTick time.Time
}

// NewServer returns a Server with the default backend (every
// data-access call returns illegal_function) and a no-op logger. Use SetBackend,
// SetServerAddr and the timeout setters before calling Run.
func NewServer() *Server {
	return &Server{
		backend: DefaultBackend{},
		logger:  nopLogger{},
	}
}

// SetLogger installs a custom Logger, replacing the default no-op sink.
func (s *Server) SetLogger(l Logger) {
	if l != nil {
		s.logger = l
	}
}

// SetServerAddr configures the local address to listen on. An empty
// host binds all interfaces; an empty service defaults to port 502.
func (s *Server) SetServerAddr(host, service string, ipVersion IPVersion) {
	s.conf.Host = host
	s.conf.Service = service
	s.conf.IPVersion = ipVersion
}

// SetBackend installs the request-handling backend. Must be called
// before Run.
func (s *Server) SetBackend(backend Backend) {
	if backend != nil {
		s.backend = backend
	}
}

// SetIdleTimeout configures the idle-connection timeout. Zero disables it.
func (s *Server) SetIdleTimeout(d time.Duration) {
	s.conf.IdleTimeout = d
}

// SetRequestCompleteTimeout configures the partial-request timeout.
// Zero disables it.
func (s *Server) SetRequestCompleteTimeout(d time.Duration) {
	s.conf.RequestCompleteTimeout = d
}

// Shutdown asks a running Run loop to terminate after its current
// iteration. Safe to call from any goroutine.
func (s *Server) Shutdown() {
	s.enqueueCommand(command{kind: cmdStop})
}

// CloseClientConnection asks a running Run loop to drop the given
// client connection. Safe to call from any goroutine.
func (s *Server) CloseClientConnection(id ClientID) {
	s.enqueueCommand(command{kind: cmdCloseConn, id: id})
}

func (s *Server) enqueueCommand(cmd command) {
	s.cmdMu.Lock()
	s.cmdQueue = append(s.cmdQueue, cmd)
	s.cmdMu.Unlock()

	if s.wakeup != nil {
		if err := s.wakeup.Signal(); err != nil {
			s.logger.Errorf("failed to signal wake-up handle: %v", err)
		}
	}
}

// Run resolves the configured local address, starts listening, and
// runs the reactor loop until Shutdown is called or an unrecoverable
// error occurs. It returns when the loop exits. Equivalent to calling
// Listen followed by Serve.
func (s *Server) Run() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Listen resolves the configured local address and starts listening on
// it, without entering the reactor loop. Splitting this out of Run lets
// a caller (or a test) know the server is ready to accept connections
// before handing control to Serve.
func (s *Server) Listen() error {
	wakeup, err := newWakeupHandle()
	if err != nil {
		return err
	}
	s.wakeup = wakeup

	if err := s.passiveOpen(); err != nil {
		wakeup.Close()
		return err
	}

	return nil
}

// Serve runs the reactor loop until Shutdown is called or an
// unrecoverable error occurs. Listen must have been called first.
func (s *Server) Serve() error {
	defer s.wakeup.Close()
	defer s.closeListeners()

	s.nextBackendTick = time.Now().Add(backendTickPeriod)
	s.stopFlag = false

	for !s.stopFlag {
		fds, dispatch := s.buildPollSet()
		timeout := s.calcPollTimeout()

		n, err := pollRetryEINTR(fds, timeout)
		if err != nil {
			return wrapSystemError("poll", err)
		}
		if n > 0 {
			for i := range fds {
				if fds[i].Revents != 0 {
					dispatch[i](fds[i].Fd, fds[i].Revents)
				}
			}
		}

		s.executePendingTasks()
	}

	for _, c := range s.clients {
		unix.Close(c.fd)
	}
	s.clients = nil

	return nil
}

func pollRetryEINTR(fds []unix.PollFd, timeoutMs int) (int, error) {
	for {
		n, err := unix.Poll(fds, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

func (s *Server) calcPollTimeout() int {
	now := time.Now()
	deadline := s.nextBackendTick

	if s.conf.IdleTimeout > 0 || s.conf.RequestCompleteTimeout > 0 {
		for _, c := range s.clients {
			if c.assembling && s.conf.RequestCompleteTimeout > 0 {
				d := c.assemblyStart.Add(s.conf.RequestCompleteTimeout)
				if d.Before(deadline) {
					deadline = d
				}
			} else if !c.assembling && s.conf.IdleTimeout > 0 {
				d := c.lastActivity.Add(s.conf.IdleTimeout)
				if d.Before(deadline) {
					deadline = d
				}
			}
		}
	}

	if !deadline.After(now) {
		return 0
	}
	ms := deadline.Sub(now).Milliseconds()
	if ms > int64(1<<30) {
		ms = int64(1 << 30)
	}
	return int(ms)
}

type readyFunc func(fd int32, revents int16)

func (s *Server) buildPollSet() ([]unix.PollFd, []readyFunc) {
	n := 1 + len(s.listenFDs) + len(s.clients)
	fds := make([]unix.PollFd, 0, n)
	dispatch := make([]readyFunc, 0, n)

	fds = append(fds, unix.PollFd{Fd: int32(s.wakeup.Fd()), Events: unix.POLLIN})
	dispatch = append(dispatch, func(fd int32, events int16) { s.processCommands() })

	for _, lfd := range s.listenFDs {
		lfd := lfd
		fds = append(fds, unix.PollFd{Fd: int32(lfd), Events: unix.POLLIN})
		dispatch = append(dispatch, func(fd int32, events int16) { s.establishConnection(int(fd)) })
	}

	for _, c := range s.clients {
		c := c
		if c.wantsWrite() {
			fds = append(fds, unix.PollFd{Fd: int32(c.fd), Events: unix.POLLOUT})
			dispatch = append(dispatch, func(fd int32, events int16) { s.sendResponse(c, events) })
		} else {
			fds = append(fds, unix.PollFd{Fd: int32(c.fd), Events: unix.POLLIN})
			dispatch = append(dispatch, func(fd int32, events int16) { s.handleRequest(c, events) })
		}
	}

	return fds, dispatch
}

func (s *Server) processCommands() {
	if err := s.wakeup.Drain(); err != nil {
		s.logger.Errorf("failed to drain wake-up handle: %v", err)
	}

	s.cmdMu.Lock()
	cmds := s.cmdQueue
	s.cmdQueue = nil
	s.cmdMu.Unlock()

	for _, cmd := range cmds {
		switch cmd.kind {
		case cmdStop:
			s.stopFlag = true
		case cmdCloseConn:
			s.closeClientByID(cmd.id)
		}
	}
}

func (s *Server) passiveOpen() error {
	host := s.conf.Host
	service := s.conf.Service
	if service == "" {
		service = "502"
	}

	endpoints, err := resolveEndpoints(context.Background(), host, service, s.conf.IPVersion, usagePassive)
	if err != nil {
		return err
	}

	for _, ep := range endpoints {
		fd, err := passiveOpen(ep)
		if err != nil {
			s.logger.Errorf("bind/listen on [%s]:%d failed: %v", ep.host, ep.port, err)
			continue
		}
		s.listenFDs = append(s.listenFDs, fd)
	}

	if len(s.listenFDs) == 0 {
		return NewError(KindPassiveOpenError, "failed to bind to any interface")
	}

	return nil
}

func (s *Server) closeListeners() {
	for _, fd := range s.listenFDs {
		unix.Close(fd)
	}
	s.listenFDs = nil
}

// deriveClientID computes a collision-resistant (not cryptographic)
// 64-bit id for a newly accepted connection: a CRC32 of the raw peer
// address bytes in the low 32 bits, the accepted file descriptor in
// the high 32 bits. The fd is only unique while the connection is
// live, which is exactly the id's required lifetime.
func deriveClientID(fd int, rawAddr []byte) ClientID {
	crc := crc32.ChecksumIEEE(rawAddr)
	return ClientID(uint64(uint32(fd))<<32 | uint64(crc))
}

func (s *Server) establishConnection(listenFD int) {
	connFD, sa, ok, err := acceptConn(listenFD)
	if err != nil {
		s.logger.Errorf("accept failed: %v", err)
		return
	}
	if !ok {
		return
	}

	if err := setTCPNoDelay(connFD); err != nil {
		s.logger.Errorf("setsockopt TCP_NODELAY failed: %v", err)
	}

	rawAddr := sockaddrBytes(sa)
	peerAddr := sockaddrString(sa)
	id := deriveClientID(connFD, rawAddr)

	authorized := s.backend.Authorize(id, peerAddr, rawAddr)
	if !authorized {
		s.logger.Authf("client(id=%#x) connecting from %s denied", id, peerAddr)
		unix.Close(connFD)
		return
	}

	s.logger.Authf("client(id=%#x) connecting from %s accepted", id, peerAddr)

	c := &clientControlBlock{
		id:           id,
		fd:           connFD,
		peerAddr:     peerAddr,
		rawAddr:      rawAddr,
		lastActivity: time.Now(),
	}
	s.clients = append(s.clients, c)
}

func (s *Server) findClientByFD(fd int) *clientControlBlock {
	for _, c := range s.clients {
		if c.fd == fd {
			return c
		}
	}
	return nil
}

func (s *Server) closeClientByID(id ClientID) {
	for i, c := range s.clients {
		if c.id == id {
			unix.Close(c.fd)
			s.clients = append(s.clients[:i], s.clients[i+1:]...)
			s.backend.Disconnect(id)
			s.logger.Infof("client(id=%#x) disconnected", id)
			return
		}
	}
}

func (s *Server) resetClientState(c *clientControlBlock) {
	c.headerParsed = false
	c.reqLen = 0
	c.rsp = nil
	c.assembling = false
	c.lastActivity = time.Now()
}

// receiveRequest reads whatever is available on c's socket, returning
// true once a full ADU has been assembled. A KindParseError return
// means the header was malformed and the connection must be dropped
// without a reply.
func (s *Server) receiveRequest(c *clientControlBlock) (bool, error) {
	total := c.reqLen
	var left int

	if total < mbapHeaderSize {
		left = mbapHeaderSize - total
	} else {
		if !c.headerParsed {
			h, err := parseMBAPHeader(c.reqBuf[:total])
			if err != nil {
				return false, err
			}
			c.header = h
			c.headerParsed = true
		}
		left = c.header.aduSize() - total
	}

	n, err := unix.Read(c.fd, c.reqBuf[total:total+left])
	for err == unix.EINTR {
		n, err = unix.Read(c.fd, c.reqBuf[total:total+left])
	}
	if err != nil {
		if err == unix.EAGAIN {
			return false, nil
		}
		return false, wrapSystemError("read", err)
	}
	if n == 0 {
		return false, errConnEOF
	}

	if total == 0 {
		c.assembling = true
		c.assemblyStart = time.Now()
	}

	total += n
	left -= n
	c.reqLen = total

	return total > mbapHeaderSize && left == 0, nil
}

func (s *Server) executeRequest(c *clientControlBlock) error {
	reqPDU := c.reqBuf[mbapHeaderSize:c.header.aduSize()]
	rspPDU := c.rspBuf[mbapHeaderSize:]

	n, err := serverEngine(s.backend, reqPDU, rspPDU)
	if err != nil {
		return err
	}

	rspHeader := mbapHeader{
		transactionID: c.header.transactionID,
		protocolID:    0,
		length:        uint16(n + 1),
		unitID:        c.header.unitID,
	}
	serializeMBAPHeader(c.rspBuf[:mbapHeaderSize], rspHeader)
	c.rsp = c.rspBuf[:mbapHeaderSize+n]
	c.assembling = false

	return nil
}

func (s *Server) handleRequest(c *clientControlBlock, events int16) {
	if events&(unix.POLLHUP|unix.POLLERR) != 0 {
		s.closeClientByID(c.id)
		return
	}

	complete, err := s.receiveRequest(c)
	if err != nil {
		if err == errConnEOF {
			s.closeClientByID(c.id)
			return
		}
		if e, ok := err.(*Error); ok && e.Kind == KindParseError {
			s.logger.Errorf("client(id=%#x) request: %v", c.id, err)
			s.closeClientByID(c.id)
			return
		}
		s.logger.Errorf("client(id=%#x) read error: %v", c.id, err)
		s.closeClientByID(c.id)
		return
	}
	if !complete {
		return
	}

	if err := s.executeRequest(c); err != nil {
		s.logger.Errorf("client(id=%#x) backend error: %v", c.id, err)
		s.closeClientByID(c.id)
		return
	}

	s.backend.Alive(c.id)
}

func (s *Server) sendResponse(c *clientControlBlock, events int16) {
	if events&(unix.POLLHUP|unix.POLLERR) != 0 {
		s.closeClientByID(c.id)
		return
	}

	n, err := unix.Write(c.fd, c.rsp)
	if err != nil {
		switch err {
		case unix.EAGAIN:
			return
		case unix.EPIPE, unix.ECONNRESET:
			s.closeClientByID(c.id)
			return
		default:
			s.logger.Errorf("client(id=%#x) write error: %v", c.id, err)
			s.closeClientByID(c.id)
			return
		}
	}

	c.rsp = c.rsp[n:]
	if len(c.rsp) == 0 {
		s.resetClientState(c)
	}
}

func (s *Server) executePendingTasks() {
	now := time.Now()

	if !now.Before(s.nextBackendTick) {
		s.backend.Ticker()
		s.nextBackendTick = now.Add(backendTickPeriod)
	}

	var toClose []ClientID
	for _, c := range s.clients {
		if c.assembling && s.conf.RequestCompleteTimeout > 0 {
			if now.Sub(c.assemblyStart) >= s.conf.RequestCompleteTimeout {
				toClose = append(toClose, c.id)
			}
		} else if !c.assembling && s.conf.IdleTimeout > 0 {
			if now.Sub(c.lastActivity) >= s.conf.IdleTimeout {
				toClose = append(toClose, c.id)
			}
		}
	}

	for _, id := range toClose {
		s.logger.Infof("client(id=%#x) timed out", id)
		s.closeClientByID(id)
	}
}

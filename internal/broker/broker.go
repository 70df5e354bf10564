// Package broker terminates a bidirectional client transport, authenticates
// it, binds it to the Registry's PTYSession, multiplexes typed frames, and
// cleans up. It is the only package that knows about wire frames and
// WebSocket close codes; every other component speaks plain Go errors.
package broker

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/yenjordan/terminus/internal/apperror"
	"github.com/yenjordan/terminus/internal/auth"
	"github.com/yenjordan/terminus/internal/config"
	"github.com/yenjordan/terminus/internal/execution"
	"github.com/yenjordan/terminus/internal/logger"
	"github.com/yenjordan/terminus/internal/models"
	"github.com/yenjordan/terminus/internal/registry"
	"github.com/yenjordan/terminus/internal/repository"
	"github.com/yenjordan/terminus/internal/workspace"
)

// Broker wires together everything a connection needs: auth, the session
// registry, the workspace manager, the execution engine, and the timeouts
// that govern heartbeat, backpressure, and drain.
type Broker struct {
	verifier  auth.Verifier
	registry  *registry.Registry
	workspace *workspace.Manager
	store     repository.Store
	engine    *execution.Engine
	cfg       *config.TimeoutConfig
}

func New(verifier auth.Verifier, reg *registry.Registry, wsMgr *workspace.Manager, store repository.Store, engine *execution.Engine, cfg *config.TimeoutConfig) *Broker {
	return &Broker{verifier: verifier, registry: reg, workspace: wsMgr, store: store, engine: engine, cfg: cfg}
}

// connection is the per-client ConnectionContext: a read loop plus three
// goroutines (write pump, PTY pump, heartbeat monitor) per attached
// WebSocket.
type connection struct {
	id        string
	sessionID string
	numericID int64
	principal auth.Principal
	conn      *websocket.Conn
	handle    *registry.Handle

	broker *Broker

	outbound chan Frame
	closed   chan struct{}
	closedMu sync.Once

	// stdin holds the most recently received input_data content, applied
	// to the next execute_code job's Stdin field.
	stdinMu sync.Mutex
	stdin   string

	lastPing time.Time
	pingMu   sync.Mutex

	cancelExec context.CancelFunc
	execMu     sync.Mutex
}

// Serve runs the full connection lifecycle: ACCEPT (handled by the caller,
// which already has sessionID and token from the URL), AUTH, ATTACH, RUN,
// DETACH. It blocks until the connection closes.
func (b *Broker) Serve(conn *websocket.Conn, sessionID, token string) {
	connID := uuid.New().String()
	log := logger.Conn(sessionID, connID)

	principal, err := b.verifier.Verify(token)
	if err != nil {
		log.Warn().Err(err).Msg("broker: auth failed")
		closeWithCode(conn, apperror.AuthFailed.CloseCode())
		return
	}

	numericID, err := strconv.ParseInt(sessionID, 10, 64)
	if err != nil {
		closeWithCode(conn, apperror.SessionNotFound.CloseCode())
		return
	}
	session, err := b.store.GetSession(numericID)
	if err != nil {
		closeWithCode(conn, apperror.SessionNotFound.CloseCode())
		return
	}
	if !principal.CanAccess(session.UserID) {
		log.Warn().Str("owner", session.UserID).Str("user", principal.UserID).Msg("broker: ownership check failed")
		closeWithCode(conn, apperror.AuthFailed.CloseCode())
		return
	}

	handle, err := b.registry.Acquire(sessionID)
	if err != nil {
		log.Error().Err(err).Msg("broker: acquire failed")
		closeWithCode(conn, toCloseCode(err))
		return
	}
	defer b.registry.Release(sessionID)

	c := &connection{
		id:        connID,
		sessionID: sessionID,
		numericID: numericID,
		principal: principal,
		conn:      conn,
		handle:    handle,
		broker:    b,
		outbound:  make(chan Frame, b.cfg.OutboundQueueDepth),
		closed:    make(chan struct{}),
		lastPing:  time.Now(),
	}

	log.Info().Str("user", c.principal.UserID).Msg("broker: attached")
	c.send(shellConnectedFrame())

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); c.writePump() }()
	go func() { defer wg.Done(); c.ptyPump() }()
	go func() { defer wg.Done(); c.heartbeatMonitor(b.cfg.PingInterval) }()

	c.readLoop()

	// DETACH: give the write pump up to the configured window to flush
	// whatever is still queued before the hard close. If the connection
	// already closed for another reason (backpressure, idle timeout),
	// closeOnce has already fired and this is a no-op.
	select {
	case <-c.closed:
	default:
		time.AfterFunc(b.cfg.DetachFlushWindow, c.closeOnce)
	}
	wg.Wait()
}

func (c *connection) closeOnce() {
	c.closedMu.Do(func() {
		close(c.closed)
		c.execMu.Lock()
		if c.cancelExec != nil {
			c.cancelExec()
		}
		c.execMu.Unlock()
	})
}

// send enqueues a frame for delivery, coalescing shell_output frames on
// backpressure per the outbound policy; other types are never dropped.
func (c *connection) send(f Frame) {
	select {
	case c.outbound <- f:
		return
	default:
	}

	if f.Type == TypeShellOutput {
		// Queue full: coalesce by draining one queued shell_output frame
		// and concatenating, rather than growing unbounded.
		select {
		case queued := <-c.outbound:
			if queued.Type == TypeShellOutput {
				queued.Data += f.Data
				select {
				case c.outbound <- queued:
					return
				default:
				}
			} else {
				// put it back; best effort, may reorder under extreme load
				select {
				case c.outbound <- queued:
				default:
				}
			}
		default:
		}
	}

	// Still full after coalescing: block briefly, then give up and close
	// with BACKPRESSURE per the >1s-full policy.
	select {
	case c.outbound <- f:
	case <-time.After(1 * time.Second):
		log := logger.Conn(c.sessionID, c.id)
		log.Warn().Msg("broker: outbound queue full for 1s, closing")
		closeWithCode(c.conn, apperror.Backpressure.CloseCode())
		c.closeOnce()
	case <-c.closed:
	}
}

func (c *connection) writePump() {
	for {
		select {
		case f, ok := <-c.outbound:
			if !ok {
				return
			}
			data, err := f.encode()
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.closeOnce()
				return
			}
		case <-c.closed:
			return
		}
	}
}

// ptyPump copies batched PTY output to the outbound queue. Batching
// coalesces by a 16ms window or a byte-count ceiling, whichever comes
// first, per the ordering guarantees.
func (c *connection) ptyPump() {
	window := c.broker.cfg.ShellOutputWindow
	maxBatch := c.broker.cfg.ShellOutputMaxBatch

	var buf []byte
	flush := func() {
		if len(buf) == 0 {
			return
		}
		c.send(shellOutputFrame(string(buf)))
		buf = buf[:0]
	}

	ticker := time.NewTicker(window)
	defer ticker.Stop()

	results := make(chan []byte, 1)
	go func() {
		for {
			chunk, err := c.handle.PTY.Read(200 * time.Millisecond)
			select {
			case <-c.closed:
				return
			default:
			}
			if err != nil {
				continue
			}
			if chunk == nil {
				if !c.handle.PTY.IsAlive() {
					close(results)
					return
				}
				continue
			}
			select {
			case results <- chunk:
			case <-c.closed:
				return
			}
		}
	}()

	for {
		select {
		case <-c.closed:
			return
		case chunk, ok := <-results:
			if !ok {
				flush()
				c.send(shellErrorFrame("shell exited"))
				c.closeOnce()
				return
			}
			buf = append(buf, chunk...)
			if len(buf) >= maxBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (c *connection) heartbeatMonitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.pingMu.Lock()
			silence := time.Since(c.lastPing)
			c.pingMu.Unlock()
			if silence > 2*interval {
				log := logger.Conn(c.sessionID, c.id)
				log.Warn().Msg("broker: idle timeout")
				closeWithCode(c.conn, apperror.IdleTimeout.CloseCode())
				c.closeOnce()
				return
			}
		}
	}
}

func (c *connection) readLoop() {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		f, err := decodeFrame(data)
		if err != nil {
			c.send(errorFrame(string(apperror.BadFrame), "malformed frame"))
			continue
		}

		c.dispatch(f)
	}
}

func (c *connection) dispatch(f Frame) {
	c.broker.registry.Touch(c.sessionID)

	switch f.Type {
	case TypeShellInput:
		if err := c.handle.PTY.Write([]byte(f.Data)); err != nil {
			c.send(toFrame(err))
		}

	case TypeShellResize:
		if err := c.handle.PTY.Resize(uint16(f.Cols), uint16(f.Rows)); err != nil {
			c.send(toFrame(err))
		}

	case TypeExecuteCode:
		go c.handleExecute(f)

	case TypeInputData:
		c.stdinMu.Lock()
		c.stdin = f.Content
		c.stdinMu.Unlock()
		c.send(inputDataReceivedFrame())

	case TypeFileChange:
		go c.handleFileChange()

	case TypePing:
		c.pingMu.Lock()
		c.lastPing = time.Now()
		c.pingMu.Unlock()
		c.send(pongFrame(f.Timestamp))

	default:
		c.send(errorFrame(string(apperror.BadFrame), "unknown frame type: "+f.Type))
	}
}

func (c *connection) handleExecute(f Frame) {
	c.stdinMu.Lock()
	stdin := c.stdin
	c.stdin = ""
	c.stdinMu.Unlock()
	if f.InputData != "" {
		stdin = f.InputData
	}

	job := buildExecutionJob(f, c.handle.WorkspaceDir, stdin, c.broker.cfg.ExecutionDeadline)

	// PTY injection never goes through the subprocess engine: the code is
	// written straight into the session's own shell and its output arrives
	// as ordinary shell_output frames, not a captured result.
	if f.Mode == ModePTY {
		if err := execution.ExecuteInPTY(c.handle.PTY, job.Code); err != nil {
			c.send(codeExecutionResultFrame("error", "", err.Error(), 1, 0, false))
			return
		}
		c.send(codeExecutionResultFrame("injected", "", "", 0, 0, false))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.execMu.Lock()
	c.cancelExec = cancel
	c.execMu.Unlock()
	defer cancel()

	result, err := c.broker.engine.Execute(ctx, job)
	if err != nil {
		c.send(codeExecutionResultFrame("error", "", err.Error(), 1, 0, false))
		return
	}

	status := "ok"
	if result.TimedOut {
		status = "timeout"
	} else if result.ExitStatus != 0 {
		status = "error"
	}
	c.send(codeExecutionResultFrame(status, result.Stdout, result.Stderr, result.ExitStatus, result.DurationMS, result.TimedOut))
}

func (c *connection) handleFileChange() {
	changes, err := c.broker.workspace.SyncFromDisk(c.sessionID, c.numericID)
	if err != nil {
		c.send(toFrame(err))
		return
	}
	c.send(fileSyncCompleteFrame("sync complete"))

	for _, p := range changes.Created {
		c.send(fileChangeFrame(p, "created"))
	}
	for _, p := range changes.Updated {
		c.send(fileChangeFrame(p, "updated"))
	}
	for _, p := range changes.Deleted {
		c.send(fileChangeFrame(p, "deleted"))
	}
}

func buildExecutionJob(f Frame, cwd, stdin string, deadline time.Duration) models.ExecutionJob {
	language := f.Language
	if language == "" {
		language = "python"
	}
	return models.ExecutionJob{
		Language: language,
		Code:     f.Code,
		Stdin:    stdin,
		Cwd:      cwd,
		Deadline: deadline,
	}
}

func closeWithCode(conn *websocket.Conn, code int) {
	msg := websocket.FormatCloseMessage(code, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}

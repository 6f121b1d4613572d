package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
)

// ============================================================================
// IPC: Unix socket control channel
// ============================================================================
// Local tools post actions to the daemon over a Unix socket, one JSON object
// per line. Used for:
//   - Remote control via command-line tools (camrig-ctl)
//   - Scripting and automation (cron-driven monitoring, presets)
//
// Each request line is an action envelope {"type": ..., "data": {...}} and is
// answered with one line:
//   - {"status": "ok"} or {"status": "error", "error": "msg"}
//   - {"type": "get_state"} is answered with {"status": "ok", "state": {...}}
// ============================================================================

// IPCResponse is the one-line reply to each request.
type IPCResponse struct {
	Status string             `json:"status"`          // "ok" or "error"
	Error  string             `json:"error,omitempty"` // error message if status == "error"
	State  *wsMessageSnapshot `json:"state,omitempty"` // only for get_state
}

// ipcGetStateType is the IPC-only request for a state snapshot.
const ipcGetStateType = "get_state"

// ipcSnapshotTimeout bounds the snapshot round-trip through the daemon loop.
const ipcSnapshotTimeout = time.Second

// runIPCServer listens on socketPath until ctx is done, then removes the socket.
func runIPCServer(ctx context.Context, socketPath string, events chan<- Event, logger *slog.Logger) error {
	// A stale socket from an unclean exit would make Listen fail.
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	// Any local user may drive the rig.
	if err := os.Chmod(socketPath, 0666); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Closing the listener unblocks Accept.
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			// Exit cleanly on shutdown/close.
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}

			// Some platforms return net.ErrClosed here.
			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				logger.Debug("IPC listener closed")
				return nil
			}

			logger.Error("IPC accept error", "error", err)
			continue
		}

		// Handle connection in a separate goroutine.
		go handleIPCConnection(ctx, conn, events, logger)
	}
}

// handleIPCConnection processes a single IPC client connection
func handleIPCConnection(ctx context.Context, conn net.Conn, events chan<- Event, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Text()
		logger.Debug("IPC received", "line", line)

		if isIPCGetState(line) {
			resp := IPCResponse{Status: "ok"}
			if snap, err := requestSnapshot(ctx, events); err != nil {
				resp = IPCResponse{Status: "error", Error: err.Error()}
			} else {
				st := newWSMessageSnapshot(snap)
				resp.State = &st
			}
			if encErr := encoder.Encode(resp); encErr != nil {
				logger.Error("IPC failed to send state response", "error", encErr)
			}
			continue
		}

		// Parse event from JSON (payload events only; daemon assigns timestamps via TimedEvent)
		ev, err := UnmarshalEvent([]byte(line))
		if err != nil {
			response := IPCResponse{
				Status: "error",
				Error:  fmt.Sprintf("parse event: %v", err),
			}
			if encErr := encoder.Encode(response); encErr != nil {
				logger.Error("IPC failed to send error response", "error", encErr)
			}
			continue
		}

		// Send event to daemon
		select {
		case events <- ev:
			// Event queued successfully
			response := IPCResponse{Status: "ok"}
			if encErr := encoder.Encode(response); encErr != nil {
				logger.Error("IPC failed to send success response", "error", encErr)
			}
		default:
			// Event channel is full (should rarely happen with buffer)
			response := IPCResponse{
				Status: "error",
				Error:  "event queue full",
			}
			if encErr := encoder.Encode(response); encErr != nil {
				logger.Error("IPC failed to send error response", "error", encErr)
			}
		}
	}

	logger.Debug("IPC connection closed")
}

func isIPCGetState(line string) bool {
	var env EventEnvelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return false
	}
	return env.Type == ipcGetStateType
}

// requestSnapshot asks the daemon loop for a StateSnapshot.
func requestSnapshot(ctx context.Context, events chan<- Event) (StateSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, ipcSnapshotTimeout)
	defer cancel()

	reply := make(chan StateSnapshot, 1)
	select {
	case events <- RequestStateSnapshot{Reply: reply}:
	case <-ctx.Done():
		return StateSnapshot{}, fmt.Errorf("request snapshot: %w", ctx.Err())
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return StateSnapshot{}, fmt.Errorf("wait for snapshot: %w", ctx.Err())
	}
}

// ============================================================================
// IPC client helpers
// ============================================================================

// SendIPCEvent posts ev to the daemon and fails if it was not accepted.
func SendIPCEvent(socketPath string, ev Event) error {
	data, err := MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = sendIPCLine(socketPath, data)
	return err
}

// QueryIPCState fetches the daemon's current state over IPC.
func QueryIPCState(socketPath string) (*wsMessageSnapshot, error) {
	resp, err := sendIPCLine(socketPath, []byte(`{"type":"`+ipcGetStateType+`"}`))
	if err != nil {
		return nil, err
	}
	if resp.State == nil {
		return nil, errors.New("ipc error: empty state")
	}
	return resp.State, nil
}

func sendIPCLine(socketPath string, data []byte) (IPCResponse, error) {
	// Connect to socket
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	// Send event
	if _, err := fmt.Fprintf(conn, "%s\n", strings.TrimSpace(string(data))); err != nil {
		return IPCResponse{}, fmt.Errorf("send event: %w", err)
	}

	// Read response
	decoder := json.NewDecoder(conn)
	var resp IPCResponse
	if err := decoder.Decode(&resp); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}

	if resp.Status != "ok" {
		return resp, fmt.Errorf("ipc error: %s", resp.Error)
	}

	return resp, nil
}

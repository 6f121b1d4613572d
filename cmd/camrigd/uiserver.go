package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"
)

// ============================================================================
// UI Server
// ============================================================================
// HTTP server for the control UI:
//   - /ws       state websocket (snapshots, broadcasts, inbound actions)
//   - /healthz  liveness probe
//   - /snapshot.jpg, /stream.mjpg  camera frames relayed from the rig
// ============================================================================

// FrameSource is the part of the rig API the UI server relays to browsers.
type FrameSource interface {
	Snapshot(ctx context.Context) ([]byte, error)
	Frames(ctx context.Context, fn func(jpeg []byte) error) error
}

// newUIMux builds the UI server's routes. frames may be nil, in which case
// the camera routes are not registered.
func newUIMux(ws *Server, frames FrameSource, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	ws.Register(mux, "/ws")
	mux.HandleFunc("/healthz", handleHealthz)
	if frames != nil {
		mux.HandleFunc("/snapshot.jpg", snapshotHandler(frames))
		mux.HandleFunc("/stream.mjpg", streamHandler(frames, logger))
	}
	return mux
}

func snapshotHandler(frames FrameSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		jpeg, err := frames.Snapshot(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Length", strconv.Itoa(len(jpeg)))
		_, _ = w.Write(jpeg)
	}
}

// streamHandler re-encodes the rig's MJPEG stream for one browser client.
// The upstream connection lives as long as the client request.
func streamHandler(frames FrameSource, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		mw := multipart.NewWriter(w)
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
		w.Header().Set("Cache-Control", "no-store")
		flusher, _ := w.(http.Flusher)

		started := false
		err := frames.Frames(r.Context(), func(jpeg []byte) error {
			started = true
			pw, err := mw.CreatePart(textproto.MIMEHeader{
				"Content-Type":   {"image/jpeg"},
				"Content-Length": {strconv.Itoa(len(jpeg))},
			})
			if err != nil {
				return err
			}
			if _, err := pw.Write(jpeg); err != nil {
				return err
			}
			if flusher != nil {
				flusher.Flush()
			}
			return nil
		})
		if err != nil {
			if !started {
				http.Error(w, err.Error(), http.StatusBadGateway)
				return
			}
			if r.Context().Err() == nil {
				logger.Warn("stream relay ended", "err", err)
			}
			return
		}
		_ = mw.Close()
	}
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// runUIServer starts the HTTP server on the specified port and shuts it down
// gracefully when ctx is canceled.
//
// This replaces http.ListenAndServe so we can call Server.Shutdown during program shutdown.
func runUIServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	listenAddr := fmt.Sprintf(":%d", port)
	logger.Info("ui server listening", "port", port)

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		// ListenAndServe returns http.ErrServerClosed on Shutdown; treat that as clean exit.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		// Graceful shutdown with a timeout.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		// Wait for the ListenAndServe goroutine to return.
		_ = <-errCh
		return nil

	case err := <-errCh:
		return err
	}
}

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// wsEnvelope mirrors the daemon's state websocket messages.
type wsEnvelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data"`
}

type panTilt struct {
	PanDeg  float64 `json:"pan_deg"`
	TiltDeg float64 `json:"tilt_deg"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:3001/ws", "camrigd state websocket URL")
		send  = flag.String("send", "", `Send a single action and keep listening (e.g. '{"type":"toggle_monitoring"}')`)
		raw   = flag.Bool("raw", false, "Print every message as received")
	)
	flag.Parse()

	// Parse websocket URL
	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	// Handle shutdown
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	// Connect to websocket
	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Mutex to protect concurrent writes to websocket
	var writeMu sync.Mutex

	// Set up ping/pong handlers for connection health
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// Start ping ticker to keep connection alive
	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				log.Printf("ping failed: %v", err)
				return
			}
		}
	}()

	if *send != "" {
		if !json.Valid([]byte(*send)) {
			log.Fatalf("-send is not valid JSON")
		}
		writeMu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, []byte(*send))
		writeMu.Unlock()
		if err != nil {
			log.Fatalf("failed to send action: %v", err)
		}
	}

	p := &printer{raw: *raw}

	// Message reading loop
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			// Any traffic proves the connection is alive.
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			switch messageType {
			case websocket.TextMessage:
				p.handle(message)
			case websocket.BinaryMessage:
				fmt.Printf("[BINARY] %d bytes\n", len(message))
			}
		}
	}()

	// Wait for shutdown signal or connection close
	select {
	case <-sigc:
		log.Printf("shutting down...")
		// Clean close
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// printer formats daemon messages, suppressing pan/tilt updates below 0.01 degrees.
type printer struct {
	raw  bool
	last *panTilt
}

func (p *printer) handle(message []byte) {
	if p.raw {
		fmt.Printf("%s\n", message)
		return
	}

	var env wsEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		fmt.Printf("[TEXT] %s\n", string(message))
		return
	}

	switch env.Type {
	case "pantilt_changed":
		var data struct {
			PanTilt *panTilt `json:"pantilt"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			break
		}
		p.panTilt(data.PanTilt)
		return

	case "monitoring_changed":
		var data struct {
			Monitoring bool   `json:"monitoring"`
			Reason     string `json:"reason"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			break
		}
		status := "OFF"
		if data.Monitoring {
			status = "ON"
		}
		if data.Reason != "" {
			fmt.Printf("[MONITORING] %s (%s)\n", status, data.Reason)
		} else {
			fmt.Printf("[MONITORING] %s\n", status)
		}
		return

	case "toast":
		var data struct {
			ID      string `json:"id"`
			Level   string `json:"level"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			break
		}
		fmt.Printf("[TOAST %s] %s (%s)\n", data.Level, data.Message, data.ID)
		return
	}

	// Pretty print other messages
	var pretty any
	if err := json.Unmarshal(env.Data, &pretty); err != nil {
		fmt.Printf("[%s]\n", env.Type)
		return
	}
	b, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Printf("[%s]\n%s\n\n", env.Type, string(b))
}

func (p *printer) panTilt(st *panTilt) {
	if st == nil {
		if p.last != nil {
			fmt.Printf("[PANTILT] unavailable\n")
		}
		p.last = nil
		return
	}

	pan := math.Round(st.PanDeg*100) / 100
	tilt := math.Round(st.TiltDeg*100) / 100
	if p.last != nil && math.Abs(p.last.PanDeg-pan) < 0.01 && math.Abs(p.last.TiltDeg-tilt) < 0.01 {
		return
	}
	p.last = &panTilt{PanDeg: pan, TiltDeg: tilt}
	fmt.Printf("[PANTILT] pan=%.2f tilt=%.2f\n", pan, tilt)
}

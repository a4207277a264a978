package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dbehnke/dvbs2-tablegen/pkg/batch"
)

type message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func main() {
	addr := flag.String("addr", "localhost:8080", "http service address (host:port)")
	exit := flag.Bool("exit", false, "exit after the first finished batch run")
	flag.Parse()

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	log.Printf("connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer func() { _ = c.Close() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for {
			var msg message
			if err := c.ReadJSON(&msg); err != nil {
				log.Printf("read error: %v", err)
				return
			}
			if msg.Type != "progress" {
				log.Printf("%s: %s", msg.Type, msg.Data)
				continue
			}

			var ev batch.Event
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				log.Printf("bad progress event: %v", err)
				continue
			}
			printEvent(ev)
			if *exit && ev.Type == batch.EventRunFinished {
				return
			}
		}
	}()

	select {
	case <-sig:
		log.Println("interrupt received, closing websocket")
	case <-finished:
	}
	_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	// give the close a moment
	time.Sleep(500 * time.Millisecond)
}

func printEvent(ev batch.Event) {
	switch ev.Type {
	case batch.EventRunStarted:
		log.Printf("run %s started: %d tasks", ev.RunID, ev.Total)
	case batch.EventTask:
		line := ""
		if ev.Key != nil {
			line = ev.Key.String()
		}
		if ev.Error != "" {
			log.Printf("[%d/%d] %s %s: %s", ev.Done, ev.Total, line, ev.Status, ev.Error)
			return
		}
		log.Printf("[%d/%d] %s %s (%d entries)", ev.Done, ev.Total, line, ev.Status, ev.Entries)
	case batch.EventRunFinished:
		log.Printf("run %s finished in %.2fs: %d failed", ev.RunID, ev.Duration, ev.Failed)
	default:
		log.Printf("%s event", ev.Type)
	}
}

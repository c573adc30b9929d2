// Command probe is a development client for the engagement stream. It
// exchanges a bearer token for a WebSocket ticket, subscribes to a target and
// prints every update until interrupted.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

type ticketResponse struct {
	Ticket    string `json:"ticket"`
	ExpiresIn int    `json:"expires_in"`
}

type subscribeCommand struct {
	Type   string `json:"type"`
	Target struct {
		ContentID   string `json:"content_id"`
		ContentType string `json:"content_type"`
	} `json:"target"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8390", "server base URL")
	token := flag.String("token", os.Getenv("RIPPLE_TOKEN"), "bearer token (defaults to RIPPLE_TOKEN)")
	contentType := flag.String("type", "post", "target content type")
	contentID := flag.String("id", "", "target content id")
	flag.Parse()

	if *token == "" {
		log.Fatal("A bearer token is required (-token or RIPPLE_TOKEN)")
	}
	if *contentID == "" {
		log.Fatal("A target content id is required (-id)")
	}

	ticket, err := fetchTicket(*baseURL, *token)
	if err != nil {
		log.Fatalf("Failed to obtain WebSocket ticket: %v", err)
	}

	wsURL, err := websocketURL(*baseURL, ticket)
	if err != nil {
		log.Fatalf("Invalid base URL: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Fatalf("WebSocket dial failed: %v", err)
	}
	defer conn.Close()

	cmd := subscribeCommand{Type: "subscribe"}
	cmd.Target.ContentID = *contentID
	cmd.Target.ContentType = *contentType
	if err := conn.WriteJSON(cmd); err != nil {
		log.Fatalf("Subscribe failed: %v", err)
	}
	log.Printf("Subscribed to %s:%s, waiting for updates...", *contentType, *contentID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				log.Printf("Read error: %v", err)
				return
			}
			fmt.Println(string(message))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-done:
	case <-sigChan:
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	}
}

func fetchTicket(baseURL, token string) (string, error) {
	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/ws/ticket", bytes.NewReader(nil))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ticket endpoint returned %s", resp.Status)
	}
	var tr ticketResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", err
	}
	if tr.Ticket == "" {
		return "", fmt.Errorf("ticket endpoint returned an empty ticket")
	}
	return tr.Ticket, nil
}

func websocketURL(baseURL, ticket string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/ws"
	u.RawQuery = url.Values{"ticket": {ticket}}.Encode()
	return u.String(), nil
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

type probeOptions struct {
	host     string
	token    string
	login    string
	password string
	clients  int
	duration time.Duration
	verbose  bool
}

type probeMetrics struct {
	attempted atomic.Int64
	connected atomic.Int64
	failed    atomic.Int64
	received  atomic.Int64
}

// newWSProbeCmd connects one or more realtime clients and prints what the
// server pushes to them.
func newWSProbeCmd() *cobra.Command {
	opts := probeOptions{}
	cmd := &cobra.Command{
		Use:   "ws-probe",
		Short: "Open realtime connections and report server events.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProbe(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.host, "host", "localhost:8080", "API host:port")
	f.StringVar(&opts.token, "token", "", "access token (skips login)")
	f.StringVar(&opts.login, "login", "", "username or email to log in with")
	f.StringVar(&opts.password, "password", "", "password for --login")
	f.IntVar(&opts.clients, "clients", 1, "concurrent connections")
	f.DurationVar(&opts.duration, "duration", 30*time.Second, "how long to listen")
	f.BoolVarP(&opts.verbose, "verbose", "v", true, "print every frame")
	return cmd
}

func runProbe(ctx context.Context, out io.Writer, opts probeOptions) error {
	token := opts.token
	if token == "" {
		if opts.login == "" {
			return errors.New("either --token or --login is required")
		}
		var err error
		if token, err = probeLogin(ctx, opts.host, opts.login, opts.password); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
	}
	if opts.clients < 1 {
		opts.clients = 1
	}

	ctx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()

	var (
		m  probeMetrics
		mu sync.Mutex
		wg sync.WaitGroup
	)
	printf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, format, args...)
	}

	for i := range opts.clients {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runProbeClient(ctx, opts, token, id, &m, printf)
		}(i)
		// Tickets are single use; stagger so issuance does not burst.
		time.Sleep(50 * time.Millisecond)
	}
	wg.Wait()

	printf("connections: attempted=%d connected=%d failed=%d frames=%d\n",
		m.attempted.Load(), m.connected.Load(), m.failed.Load(), m.received.Load())
	if m.connected.Load() == 0 {
		return errors.New("no connection succeeded")
	}
	return nil
}

func runProbeClient(ctx context.Context, opts probeOptions, token string, id int, m *probeMetrics, printf func(string, ...any)) {
	m.attempted.Add(1)

	ticket, err := probeTicket(ctx, opts.host, token)
	if err != nil {
		m.failed.Add(1)
		printf("client %d: ticket: %v\n", id, err)
		return
	}

	u := url.URL{Scheme: "ws", Host: opts.host, Path: "/api/ws", RawQuery: "ticket=" + ticket}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		m.failed.Add(1)
		printf("client %d: dial: %v\n", id, err)
		return
	}
	m.connected.Add(1)

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		m.received.Add(1)
		if opts.verbose {
			printf("client %d: %s\n", id, data)
		}
	}
}

func probeLogin(ctx context.Context, host, login, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"login": login, "password": password})
	if err != nil {
		return "", err
	}
	var result struct {
		Token string `json:"token"`
	}
	if err := probePost(ctx, "http://"+host+"/api/auth/login", "", body, &result); err != nil {
		return "", err
	}
	return result.Token, nil
}

func probeTicket(ctx context.Context, host, token string) (string, error) {
	var result struct {
		Ticket string `json:"ticket"`
	}
	if err := probePost(ctx, "http://"+host+"/api/ws/ticket", token, nil, &result); err != nil {
		return "", err
	}
	return result.Ticket, nil
}

func probePost(ctx context.Context, endpoint, token string, body []byte, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", endpoint, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

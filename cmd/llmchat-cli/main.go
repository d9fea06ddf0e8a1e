package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/llmchat/internal/protocol"
	"github.com/ent0n29/llmchat/internal/session"
)

type options struct {
	baseURL     string
	sessionID   string
	modelName   string
	turnTimeout time.Duration
}

type wsEnvelope struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	TurnID    string `json:"turn_id,omitempty"`
	Title     string `json:"title,omitempty"`
	ModelName string `json:"model_name,omitempty"`
	Turns     int    `json:"turns,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Code      string `json:"code,omitempty"`
	Detail    string `json:"detail,omitempty"`
	TextDelta string `json:"text_delta,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

type command int

const (
	cmdSend command = iota
	cmdNew
	cmdList
	cmdQuit
	cmdNone
)

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "llmchat-cli: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "llmchat-cli: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var turnTimeoutS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "llmchat base URL")
	flag.StringVar(&cfg.sessionID, "session", "", "resume an existing session id")
	flag.StringVar(&cfg.modelName, "model", "", "model for new sessions (server default when empty)")
	flag.IntVar(&turnTimeoutS, "turn-timeout", 300, "seconds to wait for a reply before giving up")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if turnTimeoutS <= 0 {
		return options{}, fmt.Errorf("turn-timeout must be > 0")
	}
	cfg.turnTimeout = time.Duration(turnTimeoutS) * time.Second
	return cfg, nil
}

// chatClient owns one websocket. Only the goroutine calling its methods
// writes to the socket; readLoop is the only reader.
type chatClient struct {
	cfg       options
	http      *http.Client
	out       io.Writer
	conn      *websocket.Conn
	sessionID string
	turnEnd   chan struct{}
	readErr   chan error
}

func run(cfg options, in io.Reader, out io.Writer) error {
	c := &chatClient{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
		out:  out,
	}
	defer c.close()

	sessionID := strings.TrimSpace(cfg.sessionID)
	if sessionID == "" {
		created, err := createSession(context.Background(), c.http, cfg.baseURL, cfg.modelName)
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		sessionID = created
	}
	if err := c.connect(sessionID); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	defer signal.Stop(sigCh)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		cmd, text := parseCommand(scanner.Text())
		switch cmd {
		case cmdNone:
			continue
		case cmdQuit:
			return nil
		case cmdList:
			if err := printSessions(context.Background(), c.http, cfg.baseURL, out); err != nil {
				fmt.Fprintf(out, "list failed: %v\n", err)
			}
		case cmdNew:
			created, err := createSession(context.Background(), c.http, cfg.baseURL, cfg.modelName)
			if err != nil {
				fmt.Fprintf(out, "create failed: %v\n", err)
				continue
			}
			c.close()
			if err := c.connect(created); err != nil {
				return err
			}
		case cmdSend:
			if err := c.submit(text, sigCh); err != nil {
				return err
			}
		}
	}
}

func parseCommand(line string) (command, string) {
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "":
		return cmdNone, ""
	case "/quit", "/exit":
		return cmdQuit, ""
	case "/list":
		return cmdList, ""
	case "/new":
		return cmdNew, ""
	}
	return cmdSend, line
}

func (c *chatClient) connect(sessionID string) error {
	wsURL, err := wsURLForSession(c.cfg.baseURL, sessionID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		if res != nil {
			return fmt.Errorf("open websocket: HTTP %d", res.StatusCode)
		}
		return fmt.Errorf("open websocket: %w", err)
	}
	c.conn = conn
	c.sessionID = sessionID
	c.turnEnd = make(chan struct{}, 1)
	c.readErr = make(chan error, 1)
	go readLoop(conn, c.out, c.turnEnd, c.readErr)
	return nil
}

func (c *chatClient) close() {
	if c.conn == nil {
		return
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.conn.Close()
	c.conn = nil
}

// submit sends one turn and waits for its end. An interrupt while waiting
// cancels the turn instead of quitting.
func (c *chatClient) submit(text string, sigCh <-chan os.Signal) error {
	err := c.conn.WriteJSON(protocol.ClientSubmit{Type: protocol.TypeClientSubmit, Text: text})
	if err != nil {
		return fmt.Errorf("send turn: %w", err)
	}
	timer := time.NewTimer(c.cfg.turnTimeout)
	defer timer.Stop()
	for {
		select {
		case <-c.turnEnd:
			return nil
		case err := <-c.readErr:
			return fmt.Errorf("ws read: %w", err)
		case <-sigCh:
			if err := c.conn.WriteJSON(protocol.ClientCancel{Type: protocol.TypeClientCancel}); err != nil {
				return fmt.Errorf("send cancel: %w", err)
			}
		case <-timer.C:
			_ = c.conn.WriteJSON(protocol.ClientCancel{Type: protocol.TypeClientCancel})
			return fmt.Errorf("no reply after %s", c.cfg.turnTimeout)
		}
	}
}

func readLoop(conn *websocket.Conn, out io.Writer, turnEnd chan<- struct{}, readErr chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				select {
				case readErr <- err:
				default:
				}
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if handleEvent(out, env) {
			select {
			case turnEnd <- struct{}{}:
			default:
			}
		}
	}
}

// handleEvent prints env and reports whether it ended a turn.
func handleEvent(out io.Writer, env wsEnvelope) bool {
	switch env.Type {
	case string(protocol.TypeSessionReady):
		title := env.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(out, "session %s  model=%s  turns=%d  %s\n", env.SessionID, env.ModelName, env.Turns, title)
	case string(protocol.TypeAssistantTextDelta):
		fmt.Fprint(out, env.TextDelta)
	case string(protocol.TypeAssistantTurnEnd):
		fmt.Fprintln(out)
		if env.Outcome != "completed" {
			detail := env.Reason
			if env.Detail != "" {
				detail = strings.TrimSpace(detail + " " + env.Detail)
			}
			fmt.Fprintf(out, "[%s] %s\n", env.Outcome, detail)
			if env.Retryable {
				fmt.Fprintln(out, "(temporary failure, send the message again to retry)")
			}
		}
		return true
	case string(protocol.TypeErrorEvent):
		fmt.Fprintf(out, "error %s: %s\n", env.Code, env.Detail)
		// A rejected submit never produces a turn end.
		return env.Code != "turn_in_progress"
	}
	return false
}

func createSession(ctx context.Context, client *http.Client, baseURL, modelName string) (string, error) {
	payload, err := json.Marshal(map[string]string{"model_name": strings.TrimSpace(modelName)})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/sessions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out session.Session
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", fmt.Errorf("missing id in response")
	}
	return out.ID, nil
}

func printSessions(ctx context.Context, client *http.Client, baseURL string, out io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/sessions", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Sessions []session.Summary `json:"sessions"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return err
	}
	if len(payload.Sessions) == 0 {
		fmt.Fprintln(out, "no sessions")
		return nil
	}
	for _, s := range payload.Sessions {
		fmt.Fprintf(out, "%s  %s  %s\n", s.ID, s.UpdatedAt.Local().Format("2006-01-02 15:04"), s.Title)
	}
	return nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/sessions/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

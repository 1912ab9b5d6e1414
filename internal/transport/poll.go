package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mashrufahmed/chat-app-f-sathi/internal/event"
)

// PollDialer is the degraded transport: an HTTP long-poll session against
// the server's /api/poll endpoints. Used when the WebSocket dial fails.
type PollDialer struct{}

func (PollDialer) Name() string { return "poll" }

func (PollDialer) Dial(ctx context.Context, serverURL, userID string) (Transport, error) {
	base := strings.TrimSuffix(serverURL, "/")
	httpClient := &http.Client{Timeout: 60 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/poll", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-User-ID", userID)
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("poll connect: %d", resp.StatusCode)
	}
	var body struct {
		Session string `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("poll connect decode: %w", err)
	}
	if body.Session == "" {
		return nil, fmt.Errorf("poll connect: empty session")
	}
	tctx, cancel := context.WithCancel(context.Background())
	return &pollTransport{
		base:       base,
		session:    body.Session,
		httpClient: httpClient,
		ctx:        tctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}, nil
}

// pollTransport buffers fetched envelopes so Receive returns one at a time.
type pollTransport struct {
	base       string
	session    string
	httpClient *http.Client
	buf        []event.Envelope
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

func (t *pollTransport) Send(env event.Envelope) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(t.ctx, http.MethodPost, t.base+"/api/poll/send?session="+t.session, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("poll send: %d", resp.StatusCode)
	}
	return nil
}

func (t *pollTransport) Receive() (event.Envelope, error) {
	for {
		if len(t.buf) > 0 {
			env := t.buf[0]
			t.buf = t.buf[1:]
			return env, nil
		}
		select {
		case <-t.done:
			return event.Envelope{}, ErrClosed
		default:
		}
		req, err := http.NewRequestWithContext(t.ctx, http.MethodGet, t.base+"/api/poll/events?session="+t.session, nil)
		if err != nil {
			return event.Envelope{}, err
		}
		resp, err := t.httpClient.Do(req)
		if err != nil {
			return event.Envelope{}, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return event.Envelope{}, fmt.Errorf("poll events: %d", resp.StatusCode)
		}
		var batch []event.Envelope
		err = json.NewDecoder(resp.Body).Decode(&batch)
		resp.Body.Close()
		if err != nil {
			return event.Envelope{}, fmt.Errorf("poll events decode: %w", err)
		}
		t.buf = batch
	}
}

func (t *pollTransport) Close() error {
	select {
	case <-t.done:
		return nil
	default:
		close(t.done)
	}
	t.cancel()
	req, err := http.NewRequest(http.MethodDelete, t.base+"/api/poll?session="+t.session, nil)
	if err != nil {
		return err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

package stream

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// SSESource streams events from a server-sent-events endpoint. Dropped
// connections reconnect with jittered backoff; a drop fires onDisconnect
// (presence can no longer be trusted) and every reconnect triggers the
// onReconnect hook so the engine can resync the gap.
type SSESource struct {
	url          string
	token        string
	http         *http.Client
	consumer     *Consumer
	logger       *log.Logger
	onReconnect  func(ctx context.Context)
	onDisconnect func()

	retryInitial time.Duration
	retryMax     time.Duration
}

func NewSSESource(url, token string, consumer *Consumer, logger *log.Logger, onReconnect func(ctx context.Context), onDisconnect func()) *SSESource {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &SSESource{
		url:          url,
		token:        token,
		http:         &http.Client{},
		consumer:     consumer,
		logger:       logger,
		onReconnect:  onReconnect,
		onDisconnect: onDisconnect,
		retryInitial: time.Second,
		retryMax:     30 * time.Second,
	}
}

// Run connects and re-connects until ctx is cancelled.
func (s *SSESource) Run(ctx context.Context) {
	attempt := 0
	connectedBefore := false
	for {
		if ctx.Err() != nil {
			return
		}
		connected, err := s.consume(ctx, connectedBefore)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.WithError(err).Warn("event stream disconnected")
		}
		if connected && s.onDisconnect != nil {
			s.onDisconnect()
		}
		connectedBefore = connectedBefore || connected
		attempt++
		delay := streamBackoff(attempt, s.retryInitial, s.retryMax)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// consume reports whether the stream actually connected so Run can tell a
// failed dial from a dropped connection.
func (s *SSESource) consume(ctx context.Context, reconnecting bool) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("event stream returned status %d", resp.StatusCode)
	}

	s.logger.WithField("url", s.url).Info("event stream connected")
	if reconnecting && s.onReconnect != nil {
		// Events emitted while disconnected are gone; resync before applying
		// anything from the fresh connection.
		s.onReconnect(ctx)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		var ev domain.Event
		if err := sonic.UnmarshalString(payload, &ev); err != nil {
			s.logger.WithError(err).Warn("skipping undecodable stream payload")
			continue
		}
		s.consumer.Push(ev)
	}
	return true, scanner.Err()
}

func streamBackoff(attempt int, initial, max time.Duration) time.Duration {
	d := time.Duration(float64(initial) * math.Pow(2, float64(attempt-1)))
	if d > max {
		d = max
	}
	jitter := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(d) * jitter)
}

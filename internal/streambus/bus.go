// Package streambus is the Log Stream Bus: a per-job WebSocket
// subscription registry with one subscriber group per job id. Since
// subscriptions are per-process, the bus tolerates horizontal worker/API
// scale-out by polling the Job Store rather than depending on broker
// fan-out.
package streambus

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/netctl/internal/models"
	"github.com/ternarybob/netctl/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Config tunes the bus's poll/keepalive/back-pressure behavior.
type Config struct {
	// ReplayLimit bounds the most-recent-logs replay sent on subscribe.
	ReplayLimit int
	// PollInterval is how often the bus re-reads a job's status/logs from
	// the Job Store.
	PollInterval time.Duration
	// KeepaliveInterval is how often an idle subscriber group receives a
	// keepalive frame. Values below 5s are replaced by the 15s default.
	KeepaliveInterval time.Duration
	// WriteTimeout bounds a single subscriber write; a subscriber that
	// blocks past this is dropped rather than buffered against.
	WriteTimeout time.Duration
}

// DefaultConfig is the bus's stock tuning.
func DefaultConfig() Config {
	return Config{
		ReplayLimit:       100,
		PollInterval:      1 * time.Second,
		KeepaliveInterval: 15 * time.Second,
		WriteTimeout:      5 * time.Second,
	}
}

func (c Config) normalized() Config {
	if c.ReplayLimit <= 0 {
		c.ReplayLimit = 100
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 1 * time.Second
	}
	if c.KeepaliveInterval < 5*time.Second {
		c.KeepaliveInterval = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// frame is the single envelope every WebSocket message uses.
type frame struct {
	Type       string          `json:"type"`
	Status     models.Status   `json:"status,omitempty"`
	TS         *time.Time      `json:"ts,omitempty"`
	Level      models.LogLevel `json:"level,omitempty"`
	Host       *string         `json:"host,omitempty"`
	Message    string          `json:"message,omitempty"`
	Extra      json.RawMessage `json:"extra,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// subscriber is one connected client plus the mutex guarding its writes.
type subscriber struct {
	conn  *websocket.Conn
	mutex sync.Mutex
}

// jobGroup is the subscriber set for a single job id, backed by one
// shared poller goroutine.
type jobGroup struct {
	mu      sync.RWMutex
	subs    map[*subscriber]bool
	done    chan struct{}
	lastTS  time.Time
	stopped bool
}

// Bus fans JobLog appends and Job status transitions out to subscribed
// WebSocket clients, one poller per actively-subscribed job.
type Bus struct {
	store  store.Store
	logger arbor.ILogger
	config Config

	mu     sync.Mutex
	groups map[string]*jobGroup
}

// New creates a Bus backed by s.
func New(s store.Store, logger arbor.ILogger, config Config) *Bus {
	return &Bus{
		store:  s,
		logger: logger,
		config: config.normalized(),
		groups: make(map[string]*jobGroup),
	}
}

// ServeJobStream upgrades r to a WebSocket and subscribes it to jobID's
// log stream. accessibleCustomerIDs is the caller's already-resolved
// tenant scope; authentication happens upstream of this handler.
func (b *Bus) ServeJobStream(w http.ResponseWriter, r *http.Request, jobID string, accessibleCustomerIDs []string) {
	ctx := r.Context()

	job, err := b.store.GetJobForTenant(ctx, jobID, accessibleCustomerIDs)
	if err != nil {
		http.Error(w, "job not found or access denied", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn().Err(err).Msg("failed to upgrade job stream websocket")
		return
	}

	sub := &subscriber{conn: conn}
	group := b.join(jobID, sub)

	if !b.sendInitial(group, sub, job) {
		b.leave(jobID, group, sub)
		conn.Close()
		return
	}

	defer func() {
		b.leave(jobID, group, sub)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// join registers sub into jobID's group, creating the group (and starting
// its poller) if this is the first subscriber.
func (b *Bus) join(jobID string, sub *subscriber) *jobGroup {
	b.mu.Lock()
	defer b.mu.Unlock()

	group, ok := b.groups[jobID]
	if !ok {
		group = &jobGroup{
			subs:   make(map[*subscriber]bool),
			done:   make(chan struct{}),
			lastTS: time.Now().UTC(),
		}
		b.groups[jobID] = group
		go b.poll(jobID, group)
	}
	group.mu.Lock()
	group.subs[sub] = true
	group.mu.Unlock()
	return group
}

// leave unregisters sub; if it was the last subscriber, the group's
// poller is stopped and the group is dropped.
func (b *Bus) leave(jobID string, group *jobGroup, sub *subscriber) {
	group.mu.Lock()
	delete(group.subs, sub)
	empty := len(group.subs) == 0
	group.mu.Unlock()

	if !empty {
		return
	}

	b.mu.Lock()
	if b.groups[jobID] == group {
		delete(b.groups, jobID)
	}
	b.mu.Unlock()

	group.mu.Lock()
	if !group.stopped {
		group.stopped = true
		close(group.done)
	}
	group.mu.Unlock()
}

// sendInitial writes the current status frame, then a bounded replay of
// recent logs, to sub alone (not broadcast). Returns false if the write
// failed and the connection should be torn down.
func (b *Bus) sendInitial(group *jobGroup, sub *subscriber, job *models.Job) bool {
	if !b.writeTo(sub, frame{Type: "status", Status: job.Status}) {
		return false
	}

	// ListLogs returns ascending-by-ts rows with limit applied from the
	// oldest end, so the "most recent N" replay is taken in Go rather than
	// pushed down as the store's limit argument.
	logs, err := b.store.ListLogs(context.Background(), job.ID, nil, 0)
	if err != nil {
		b.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to load log replay")
	}
	if len(logs) > b.config.ReplayLimit {
		logs = logs[len(logs)-b.config.ReplayLimit:]
	}
	for _, l := range logs {
		if !b.writeTo(sub, logFrame(l)) {
			return false
		}
	}

	if job.Status.Terminal() {
		b.writeTo(sub, frame{Type: "complete", Status: job.Status, FinishedAt: job.FinishedAt})
		return false
	}
	return true
}

func logFrame(l *models.JobLog) frame {
	ts := l.TS
	return frame{Type: "log", TS: &ts, Level: l.Level, Host: l.Host, Message: l.Message, Extra: l.Extra}
}

// poll is the per-job background goroutine: it re-reads the job's logs
// and status at config.PollInterval, broadcasting new frames to every
// current subscriber, and sends keepalive frames at config.KeepaliveInterval.
func (b *Bus) poll(jobID string, group *jobGroup) {
	pollTicker := time.NewTicker(b.config.PollInterval)
	keepaliveTicker := time.NewTicker(b.config.KeepaliveInterval)
	defer pollTicker.Stop()
	defer keepaliveTicker.Stop()

	ctx := context.Background()

	for {
		select {
		case <-group.done:
			return
		case <-keepaliveTicker.C:
			b.broadcast(group, frame{Type: "keepalive"})
		case <-pollTicker.C:
			if b.tick(ctx, jobID, group) {
				return
			}
		}
	}
}

// tick runs one poll cycle; it returns true once the job has reached a
// terminal state and the group has been notified and should stop.
func (b *Bus) tick(ctx context.Context, jobID string, group *jobGroup) bool {
	group.mu.Lock()
	since := group.lastTS
	group.mu.Unlock()

	logs, err := b.store.ListLogs(ctx, jobID, &since, 0)
	if err != nil {
		b.logger.Warn().Err(err).Str("job_id", jobID).Msg("log stream poll failed")
		return false
	}
	if len(logs) > 0 {
		group.mu.Lock()
		group.lastTS = logs[len(logs)-1].TS
		group.mu.Unlock()
		for _, l := range logs {
			b.broadcast(group, logFrame(l))
		}
	}

	job, err := b.store.GetJob(ctx, jobID)
	if err != nil {
		b.logger.Warn().Err(err).Str("job_id", jobID).Msg("job status poll failed")
		return false
	}
	if !job.Status.Terminal() {
		return false
	}

	b.broadcast(group, frame{Type: "complete", Status: job.Status, FinishedAt: job.FinishedAt})
	b.closeGroup(group)
	return true
}

// broadcast writes f to every current subscriber in group, dropping (and
// closing) any whose write exceeds the configured write deadline.
func (b *Bus) broadcast(group *jobGroup, f frame) {
	group.mu.RLock()
	subs := make([]*subscriber, 0, len(group.subs))
	for s := range group.subs {
		subs = append(subs, s)
	}
	group.mu.RUnlock()

	for _, s := range subs {
		if !b.writeTo(s, f) {
			group.mu.Lock()
			delete(group.subs, s)
			group.mu.Unlock()
			s.conn.Close()
		}
	}
}

// closeGroup sends a normal-closure control frame to every subscriber
// still attached once a job completes; their read loops then return and
// unregister themselves via leave.
func (b *Bus) closeGroup(group *jobGroup) {
	group.mu.RLock()
	subs := make([]*subscriber, 0, len(group.subs))
	for s := range group.subs {
		subs = append(subs, s)
	}
	group.mu.RUnlock()

	for _, s := range subs {
		s.mutex.Lock()
		s.conn.SetWriteDeadline(time.Now().Add(b.config.WriteTimeout))
		s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job complete"))
		s.mutex.Unlock()
	}
}

func (b *Bus) writeTo(s *subscriber, f frame) bool {
	data, err := json.Marshal(f)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to marshal stream frame")
		return false
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(b.config.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		b.logger.Warn().Err(err).Msg("dropping stream subscriber after write failure")
		return false
	}
	return true
}

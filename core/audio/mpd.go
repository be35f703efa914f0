package audio

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/liuran001/MusicPlayer-Go/core"
)

const mpdPollInterval = 500 * time.Millisecond

// MPDOptions configures the MPD engine.
type MPDOptions struct {
	Host     string
	Port     int
	Password string
	Logger   core.Logger
}

// MPD plays through a Music Player Daemon. The daemon's queue holds at most
// the one source loaded by the player.
type MPD struct {
	opts MPDOptions
	addr string

	mu     sync.Mutex
	client *mpd.Client
	cb     Callbacks
	loaded bool
	state  string

	watcher   *mpd.Watcher
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewMPD connects to MPD and starts watching its player state.
func NewMPD(opts MPDOptions) (*MPD, error) {
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	if opts.Port == 0 {
		opts.Port = 6600
	}
	m := &MPD{
		opts: opts,
		addr: net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		done: make(chan struct{}),
	}

	m.mu.Lock()
	err := m.connectLocked()
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	watcher, err := mpd.NewWatcher("tcp", m.addr, opts.Password, "player")
	if err != nil {
		m.client.Close()
		return nil, fmt.Errorf("mpd watcher: %w", err)
	}
	m.watcher = watcher

	m.wg.Add(1)
	go m.loop()
	return m, nil
}

func (m *MPD) connectLocked() error {
	client, err := mpd.Dial("tcp", m.addr)
	if err != nil {
		return fmt.Errorf("connect mpd %s: %w", m.addr, err)
	}
	if m.opts.Password != "" {
		if err := client.Command("password %s", m.opts.Password).OK(); err != nil {
			client.Close()
			return fmt.Errorf("mpd authentication failed: %w", err)
		}
	}
	m.client = client
	m.logInfo("connected to mpd", "addr", m.addr)
	return nil
}

// ensureLocked reconnects when the connection dropped.
func (m *MPD) ensureLocked() error {
	if m.client == nil {
		return m.connectLocked()
	}
	if err := m.client.Ping(); err != nil {
		m.logWarn("mpd connection lost, reconnecting", "error", err)
		m.client.Close()
		m.client = nil
		return m.connectLocked()
	}
	return nil
}

func (m *MPD) with(fn func(c *mpd.Client) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLocked(); err != nil {
		return err
	}
	return fn(m.client)
}

func (m *MPD) Load(ctx context.Context, src Source) error {
	if len(src.Headers) > 0 {
		m.logDebug("mpd ignores request headers", "url", src.URL)
	}
	return m.with(func(c *mpd.Client) error {
		if err := c.Clear(); err != nil {
			return fmt.Errorf("mpd clear: %w", err)
		}
		if err := c.Add(src.URL); err != nil {
			return fmt.Errorf("mpd add: %w", err)
		}
		m.loaded = true
		m.state = "stop"
		return nil
	})
}

func (m *MPD) Play() error {
	return m.with(func(c *mpd.Client) error {
		status, err := c.Status()
		if err != nil {
			return err
		}
		if status["state"] == "pause" {
			return c.Pause(false)
		}
		return c.Play(0)
	})
}

func (m *MPD) Pause() error {
	return m.with(func(c *mpd.Client) error { return c.Pause(true) })
}

func (m *MPD) Stop() error {
	return m.with(func(c *mpd.Client) error {
		m.loaded = false
		if err := c.Stop(); err != nil {
			return err
		}
		return c.Clear()
	})
}

func (m *MPD) Seek(seconds float64) error {
	d := time.Duration(seconds * float64(time.Second))
	return m.with(func(c *mpd.Client) error { return c.SeekCur(d, false) })
}

func (m *MPD) SetVolume(volume float64) error {
	v := int(clampVolume(volume)*100 + 0.5)
	return m.with(func(c *mpd.Client) error { return c.SetVolume(v) })
}

// SetSpeed is not available over the MPD protocol.
func (m *MPD) SetSpeed(rate float64) error {
	if rate == 1 {
		return nil
	}
	return ErrUnsupported
}

func (m *MPD) SetCallbacks(cb Callbacks) {
	m.mu.Lock()
	m.cb = cb
	m.mu.Unlock()
}

func (m *MPD) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.done)
		if m.watcher != nil {
			m.watcher.Close()
		}
		m.wg.Wait()
		m.mu.Lock()
		if m.client != nil {
			err = m.client.Close()
			m.client = nil
		}
		m.mu.Unlock()
	})
	return err
}

func (m *MPD) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(mpdPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case _, ok := <-m.watcher.Event:
			if !ok {
				return
			}
			m.poll()
		case err, ok := <-m.watcher.Error:
			if !ok {
				return
			}
			m.logWarn("mpd watcher error", "error", err)
		case <-ticker.C:
			m.poll()
		}
	}
}

// poll reads the daemon status and turns transitions into callbacks.
func (m *MPD) poll() {
	m.mu.Lock()
	if !m.loaded {
		m.mu.Unlock()
		return
	}
	if err := m.ensureLocked(); err != nil {
		m.mu.Unlock()
		m.logWarn("mpd status failed", "error", err)
		return
	}
	status, err := m.client.Status()
	if err != nil {
		m.mu.Unlock()
		m.logWarn("mpd status failed", "error", err)
		return
	}
	prev := m.state
	m.state = status["state"]
	cb := m.cb
	t := observe(prev, status)
	if t.failure != "" || t.ended {
		m.loaded = false
	}
	if t.failure != "" {
		_ = m.client.Command("clearerror").OK()
	}
	m.mu.Unlock()

	t.report(cb)
}

// transition is one status poll as seen against the previous player state.
type transition struct {
	state    string
	failure  string
	ended    bool
	elapsed  float64
	duration float64
}

func observe(prev string, status mpd.Attrs) transition {
	t := transition{state: status["state"], failure: status["error"]}
	t.ended = prev == "play" && t.state == "stop"
	t.elapsed, _ = strconv.ParseFloat(status["elapsed"], 64)
	t.duration, _ = strconv.ParseFloat(status["duration"], 64)
	return t
}

// report runs the callbacks for t. It must be called without m.mu held.
func (t transition) report(cb Callbacks) {
	switch {
	case t.failure != "":
		if cb.OnError != nil {
			cb.OnError(fmt.Errorf("mpd: %s", t.failure))
		}
	case t.ended:
		if cb.OnEnded != nil {
			cb.OnEnded()
		}
	case t.state == "play" && cb.OnProgress != nil:
		cb.OnProgress(t.elapsed, t.duration)
	}
}

func (m *MPD) logInfo(msg string, args ...any) {
	if m.opts.Logger != nil {
		m.opts.Logger.Info(msg, args...)
	}
}

func (m *MPD) logWarn(msg string, args ...any) {
	if m.opts.Logger != nil {
		m.opts.Logger.Warn(msg, args...)
	}
}

func (m *MPD) logDebug(msg string, args ...any) {
	if m.opts.Logger != nil {
		m.opts.Logger.Debug(msg, args...)
	}
}

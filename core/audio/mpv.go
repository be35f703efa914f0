//go:build libmpv

package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	mpv "github.com/gen2brain/go-mpv"
	"github.com/liuran001/MusicPlayer-Go/core"
)

const (
	mpvPauseProperty    = "pause"
	mpvPositionProperty = "time-pos"
	mpvDurationProperty = "duration"
	mpvVolumeProperty   = "volume"
	mpvSpeedProperty    = "speed"
	mpvHeadersProperty  = "http-header-fields"
	mpvProgressInterval = 500 * time.Millisecond
)

// MPV plays through an embedded libmpv.
type MPV struct {
	mu     sync.Mutex
	client *mpv.Mpv
	cb     Callbacks
	logger core.Logger
	active bool

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewMPV creates an audio-only libmpv engine.
func NewMPV(logger core.Logger) (Backend, error) {
	client := mpv.New()
	if client == nil {
		return nil, errors.New("create libmpv instance")
	}
	for name, value := range map[string]string{
		"terminal":      "no",
		"video":         "no",
		"audio-display": "no",
		"keep-open":     "no",
	} {
		_ = client.SetOptionString(name, value)
	}
	if err := client.Initialize(); err != nil {
		client.TerminateDestroy()
		return nil, fmt.Errorf("initialize libmpv: %w", err)
	}
	_ = client.RequestEvent(mpv.EventEnd, true)

	m := &MPV{client: client, logger: logger, done: make(chan struct{})}
	m.wg.Add(2)
	go m.eventLoop()
	go m.progressLoop()
	return m, nil
}

func (m *MPV) Load(ctx context.Context, src Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.client.SetPropertyString(mpvPauseProperty, "yes"); err != nil {
		return fmt.Errorf("set pause before load: %w", err)
	}
	if err := m.client.SetPropertyString(mpvHeadersProperty, headerFields(src.Headers)); err != nil && m.logger != nil {
		m.logger.Debug("set mpv headers failed", "error", err)
	}
	if err := m.client.Command([]string{"loadfile", src.URL, "replace"}); err != nil {
		return fmt.Errorf("load %q: %w", src.URL, err)
	}
	m.active = true
	return nil
}

func (m *MPV) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.client.SetPropertyString(mpvPauseProperty, "no"); err != nil {
		return fmt.Errorf("resume playback: %w", err)
	}
	return nil
}

func (m *MPV) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.client.SetPropertyString(mpvPauseProperty, "yes"); err != nil {
		return fmt.Errorf("pause playback: %w", err)
	}
	return nil
}

func (m *MPV) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = false
	if err := m.client.Command([]string{"stop"}); err != nil {
		return fmt.Errorf("stop playback: %w", err)
	}
	return nil
}

func (m *MPV) Seek(seconds float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.client.SetProperty(mpvPositionProperty, mpv.FormatDouble, seconds); err != nil {
		return fmt.Errorf("seek playback: %w", err)
	}
	return nil
}

func (m *MPV) SetVolume(volume float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.client.SetProperty(mpvVolumeProperty, mpv.FormatDouble, clampVolume(volume)*100); err != nil {
		return fmt.Errorf("set volume: %w", err)
	}
	return nil
}

func (m *MPV) SetSpeed(rate float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.client.SetProperty(mpvSpeedProperty, mpv.FormatDouble, rate); err != nil {
		return fmt.Errorf("set speed: %w", err)
	}
	return nil
}

func (m *MPV) SetCallbacks(cb Callbacks) {
	m.mu.Lock()
	m.cb = cb
	m.mu.Unlock()
}

func (m *MPV) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		m.mu.Lock()
		client := m.client
		m.mu.Unlock()
		client.Wakeup()
		client.TerminateDestroy()
		m.wg.Wait()
	})
	return nil
}

func (m *MPV) eventLoop() {
	defer m.wg.Done()
	for {
		event := m.client.WaitEvent(0.5)
		if event == nil {
			continue
		}
		switch event.EventID {
		case mpv.EventShutdown:
			return
		case mpv.EventEnd:
			end := event.EndFile()
			m.mu.Lock()
			cb := m.cb
			wasActive := m.active
			if end.Reason == mpv.EndFileEOF || end.Reason == mpv.EndFileError {
				m.active = false
			}
			m.mu.Unlock()
			if !wasActive {
				continue
			}
			switch end.Reason {
			case mpv.EndFileEOF:
				if cb.OnEnded != nil {
					cb.OnEnded()
				}
			case mpv.EndFileError:
				if cb.OnError != nil {
					cb.OnError(errors.New("mpv: playback failed"))
				}
			}
		}
	}
}

func (m *MPV) progressLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(mpvProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
		}
		m.mu.Lock()
		if !m.active {
			m.mu.Unlock()
			continue
		}
		pos, posOK := m.readSecondsLocked(mpvPositionProperty)
		dur, _ := m.readSecondsLocked(mpvDurationProperty)
		cb := m.cb
		m.mu.Unlock()
		if posOK && cb.OnProgress != nil {
			cb.OnProgress(pos, dur)
		}
	}
}

func (m *MPV) readSecondsLocked(property string) (float64, bool) {
	value, err := m.client.GetProperty(property, mpv.FormatDouble)
	if err != nil {
		return 0, false
	}
	seconds, ok := value.(float64)
	if !ok || math.IsNaN(seconds) || seconds < 0 {
		return 0, false
	}
	return seconds, true
}

func headerFields(headers map[string]string) string {
	if len(headers) == 0 {
		return ""
	}
	fields := make([]string, 0, len(headers))
	for k, v := range headers {
		fields = append(fields, k+": "+strings.ReplaceAll(v, ",", `\,`))
	}
	sort.Strings(fields)
	return strings.Join(fields, ",")
}

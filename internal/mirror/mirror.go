// Package mirror forwards backend events to configured webhooks.
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"sprintboard/internal/config"
	"sprintboard/internal/domain"
	"sprintboard/internal/events"
)

const (
	defaultTimeout   = 5 * time.Second
	defaultQueueSize = 256
)

// Source is anything that publishes backend events.
type Source interface {
	Subscribe(name events.Name, listener events.Listener) func()
}

type Options struct {
	Client    *http.Client
	Logger    *zap.Logger
	QueueSize int
}

type target struct {
	hook   config.Webhook
	filter eventFilter
}

// Dispatcher delivers events in emission order from a single worker.
// Events emitted while the queue is full are dropped and logged.
type Dispatcher struct {
	targets []target
	client  *http.Client
	log     *zap.Logger
	queue   chan events.Event
	seq     atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(hooks []config.Webhook, opts Options) *Dispatcher {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	d := &Dispatcher{
		client: client,
		log:    log.With(zap.String("component", "mirror")),
		queue:  make(chan events.Event, size),
	}
	for _, h := range hooks {
		if strings.TrimSpace(h.URL) == "" {
			continue
		}
		d.targets = append(d.targets, target{hook: h, filter: newEventFilter(h.Events)})
	}
	return d
}

// Enabled reports whether at least one webhook is configured.
func (d *Dispatcher) Enabled() bool {
	return len(d.targets) > 0
}

// Start runs the delivery worker until ctx ends or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go d.run(ctx)
}

// Stop ends the worker; queued events that were not delivered are discarded.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}

// Attach subscribes the dispatcher to every event of src.
func (d *Dispatcher) Attach(src Source) func() {
	if !d.Enabled() {
		return func() {}
	}
	return src.Subscribe("", d.enqueue)
}

func (d *Dispatcher) enqueue(evt events.Event) error {
	select {
	case d.queue <- evt:
		return nil
	default:
		return fmt.Errorf("mirror queue full, dropped %s", evt.Name)
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-d.queue:
			d.dispatch(ctx, evt)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, evt events.Event) {
	delivery := d.seq.Add(1)
	for _, t := range d.targets {
		if !t.filter.match(string(evt.Name)) {
			continue
		}
		if err := d.post(ctx, t.hook, delivery, evt); err != nil {
			d.log.Warn("webhook delivery failed",
				zap.String("url", t.hook.URL),
				zap.String("event", string(evt.Name)),
				zap.Uint64("delivery", delivery),
				zap.Error(err))
		}
	}
}

type webhookEvent struct {
	Delivery uint64 `json:"delivery"`
	Name     string `json:"name"`
	Source   string `json:"source"`
	At       string `json:"at"`
	Payload  any    `json:"payload,omitempty"`
}

func (d *Dispatcher) post(ctx context.Context, hook config.Webhook, delivery uint64, evt events.Event) error {
	data, err := json.Marshal(webhookEvent{
		Delivery: delivery,
		Name:     string(evt.Name),
		Source:   evt.Source,
		At:       domain.FormatTime(evt.At),
		Payload:  evt.Payload,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Sprintboard-Event", string(evt.Name))
	req.Header.Set("X-Sprintboard-Delivery", fmt.Sprintf("%d", delivery))
	req.Header.Set("X-Sprintboard-Source", evt.Source)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Sprintboard-Secret", hook.Secret)
	}
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(names []string) eventFilter {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		key := strings.TrimSpace(n)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(name string) bool {
	if f.all {
		return name != string(events.Initialized)
	}
	_, ok := f.set[name]
	return ok
}

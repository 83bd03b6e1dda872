package cost

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	costmodel "github.com/islandproperties/concierge/backend/internal/model/cost"
)

// ErrClosed is returned by Record once the ledger has been closed.
var ErrClosed = errors.New("cost ledger closed")

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Config controls where the ledger lives and how usage is priced.
type Config struct {
	Path      string
	QueueSize int
	CharRate  float64
	Rates     []costmodel.Rate
	Now       func() time.Time
}

// Ledger appends priced usage entries to a JSON-lines file.
type Ledger struct {
	path   string
	pricer Pricer
	now    func() time.Time

	writeMu sync.Mutex
	file    *os.File
	sealed  bool

	queueMu sync.RWMutex
	closed  bool
	queue   chan costmodel.Usage
	done    chan struct{}
}

// NewLedger creates the ledger and starts its background writer. The file is
// opened on first write.
func NewLedger(cfg Config) (*Ledger, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("cost ledger path is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	l := &Ledger{
		path:   cfg.Path,
		pricer: NewPricer(cfg.Rates, cfg.CharRate),
		now:    cfg.Now,
		queue:  make(chan costmodel.Usage, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Path returns the ledger file location.
func (l *Ledger) Path() string {
	return l.path
}

// Pricer exposes the rate table in use.
func (l *Ledger) Pricer() Pricer {
	return l.pricer
}

// Record prices u and appends it synchronously.
func (l *Ledger) Record(ctx context.Context, u costmodel.Usage) (costmodel.Entry, error) {
	if err := ctx.Err(); err != nil {
		return costmodel.Entry{}, err
	}
	return l.write(u)
}

func (l *Ledger) write(u costmodel.Usage) (costmodel.Entry, error) {
	entry := l.entryFor(u)
	line, err := sonic.ConfigStd.Marshal(entry)
	if err != nil {
		return costmodel.Entry{}, fmt.Errorf("encode cost entry: %w", err)
	}
	line = append(line, '\n')

	if err := l.append(line); err != nil {
		return costmodel.Entry{}, err
	}
	return entry, nil
}

// Submit queues u for the background writer. It never blocks; when the queue
// is full or the ledger is closed the entry is dropped and logged.
func (l *Ledger) Submit(u costmodel.Usage) {
	l.queueMu.RLock()
	defer l.queueMu.RUnlock()

	if l.closed {
		log.Printf("[cost] ledger closed, dropping %s entry for session=%s", u.Source, u.SessionID)
		return
	}

	select {
	case l.queue <- u:
	default:
		log.Printf("[cost] queue full, dropping %s entry for session=%s", u.Source, u.SessionID)
	}
}

// Close stops intake, drains queued entries and closes the file.
func (l *Ledger) Close() error {
	l.queueMu.Lock()
	if l.closed {
		l.queueMu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.queueMu.Unlock()

	<-l.done

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	l.sealed = true
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *Ledger) run() {
	defer close(l.done)
	for u := range l.queue {
		if _, err := l.write(u); err != nil {
			log.Printf("[cost] failed to record %s entry for session=%s: %v", u.Source, u.SessionID, err)
		}
	}
}

func (l *Ledger) entryFor(u costmodel.Usage) costmodel.Entry {
	now := l.now().UTC()
	source := strings.TrimSpace(u.Source)
	if source == "" {
		source = "unknown"
	}
	model := strings.TrimSpace(u.Model)
	if model == "" {
		model = "unknown"
	}
	u.InputTokens = max(u.InputTokens, 0)
	u.OutputTokens = max(u.OutputTokens, 0)
	u.Chars = max(u.Chars, 0)

	return costmodel.Entry{
		TS:           now.Format(timestampLayout),
		Date:         now.Format(time.DateOnly),
		Source:       source,
		Model:        model,
		SessionID:    u.SessionID,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		CostUSD:      l.pricer.Price(u),
		Note:         u.Note,
	}
}

// append issues one write per line on an O_APPEND descriptor.
func (l *Ledger) append(line []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if l.sealed {
		return ErrClosed
	}
	if l.file == nil {
		if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
			return fmt.Errorf("create ledger dir: %w", err)
		}
		f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		l.file = f
	}

	if _, err := l.file.Write(line); err != nil {
		_ = l.file.Close()
		l.file = nil
		return fmt.Errorf("append ledger: %w", err)
	}
	return nil
}

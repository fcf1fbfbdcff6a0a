// Package pager lazily loads the pages of a book in fixed-size batches and
// waits out server-side ingestion for books that are not readable yet.
//
// Page indices are 1-based; slot 0 of the page array holds a cover
// synthesized from the book metadata. A nil slot has not been fetched.
package pager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/types"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultBatchSize        = 20
	DefaultPreloadThreshold = 5
	DefaultPollInterval     = 3 * time.Second

	waitingMessage = "Preparing book..."
)

var (
	ErrOutOfRange = errors.New("pager: page out of range")
	ErrNotReady   = errors.New("pager: book not ready")
)

// Source is the remote side of the pager.
type Source interface {
	Book(ctx context.Context, bookId string) (types.Book, error)
	Pages(ctx context.Context, bookId string, offset, limit int) (types.PageBatch, error)
	IngestionStatus(ctx context.Context, bookId string) (types.IngestionStatus, error)
}

type State int

const (
	Idle State = iota
	Waiting
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

type Status struct {
	State      State
	Message    string
	TotalPages int
}

// Spread returns the spread a 1-based page belongs to.
func Spread(page int) int {
	return (page + 1) / 2
}

var coverTmpl = template.Must(template.New("cover").Parse(
	`<div class="cover">{{with .CoverURL}}<img src="{{.}}" alt="cover">{{end}}<h1>{{.Title}}</h1>{{with .Author}}<p>{{.}}</p>{{end}}</div>`,
))

func renderCover(b types.Book) string {
	var buf bytes.Buffer
	if err := coverTmpl.Execute(&buf, b); err != nil {
		return b.Title
	}
	return buf.String()
}

type Option func(*Pager)

func WithBatchSize(n int) Option {
	return func(p *Pager) { p.batchSize = n }
}

func WithPreloadThreshold(n int) Option {
	return func(p *Pager) { p.threshold = n }
}

func WithPollInterval(d time.Duration) Option {
	return func(p *Pager) { p.pollInterval = d }
}

type Pager struct {
	src          Source
	log          *log.Logger
	batchSize    int
	threshold    int
	pollInterval time.Duration

	group singleflight.Group

	mu       sync.Mutex
	book     types.Book
	pages    []*string
	state    State
	message  string
	busy     int
	gen      uint64
	stopPoll context.CancelFunc
	pollDone chan struct{}
	onChange func(Status)
}

func New(src Source, l *log.Logger, opts ...Option) *Pager {
	p := &Pager{
		src:          src,
		log:          l,
		batchSize:    DefaultBatchSize,
		threshold:    DefaultPreloadThreshold,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OnChange sets the callback invoked whenever the status or page array
// changes.
func (p *Pager) OnChange(fn func(Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

// Initialize replaces the current book with bookId and loads its first
// batch. A book whose content is not ready yet puts the pager into the
// waiting state and starts polling the ingestion status.
func (p *Pager) Initialize(ctx context.Context, bookId string) error {
	p.Close()

	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.book = types.Book{Id: bookId, Title: bookId}
	p.pages = nil
	p.state = Idle
	p.message = ""
	p.mu.Unlock()

	book, err := p.src.Book(ctx, bookId)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.log.Printf("pager: fetch book %s: %v", bookId, err)
		book = types.Book{Id: bookId, Title: bookId}
	}

	batch, err := p.src.Pages(ctx, bookId, 0, p.batchSize)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return nil
	}
	p.book = book

	if err != nil || notReady(batch) {
		if err != nil {
			p.log.Printf("pager: fetch first batch of %s: %v", bookId, err)
		}
		cover := renderCover(book)
		p.pages = []*string{&cover}
		p.state = Waiting
		p.message = waitingMessage
		if err == nil && batch.Message != "" {
			p.message = batch.Message
		}
		p.startPollLocked(bookId, gen)
	} else {
		p.readyLocked(batch, book.TotalPages)
	}
	st, fn := p.statusLocked(), p.onChange
	p.mu.Unlock()

	notify(fn, st)
	return nil
}

// notReady reports whether a batch response means the content is still
// being prepared.
func notReady(b types.PageBatch) bool {
	return b.Status == types.BookProcessing || (len(b.Pages) == 0 && b.TotalPages > 0)
}

// readyLocked sizes the page array to the known total and writes the first
// batch into it.
func (p *Pager) readyLocked(batch types.PageBatch, fallbackTotal int) {
	total := batch.TotalPages
	if total == 0 {
		total = fallbackTotal
	}
	p.book.TotalPages = total

	cover := renderCover(p.book)
	p.pages = make([]*string, total+1)
	p.pages[0] = &cover
	p.writeLocked(batch)
	p.state = Ready
	p.message = ""
}

// writeLocked stores every page of batch in its absolute slot and leaves
// the other slots untouched.
func (p *Pager) writeLocked(batch types.PageBatch) {
	if batch.TotalPages+1 > len(p.pages) {
		grown := make([]*string, batch.TotalPages+1)
		copy(grown, p.pages)
		p.pages = grown
		p.book.TotalPages = batch.TotalPages
	}
	for _, pg := range batch.Pages {
		if pg.Index < 1 || pg.Index >= len(p.pages) {
			continue
		}
		html := pg.HTML
		p.pages[pg.Index] = &html
	}
}

func (p *Pager) startPollLocked(bookId string, gen uint64) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.stopPoll = cancel
	p.pollDone = done

	go func() {
		defer close(done)
		defer cancel()
		p.poll(ctx, bookId, gen)
	}()
}

func (p *Pager) poll(ctx context.Context, bookId string, gen uint64) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st, err := p.src.IngestionStatus(ctx, bookId)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Printf("pager: poll ingestion status of %s: %v", bookId, err)
			continue
		}

		if p.applyStatus(ctx, bookId, gen, st) {
			return
		}
	}
}

// applyStatus handles one poll result and reports whether polling is over.
func (p *Pager) applyStatus(ctx context.Context, bookId string, gen uint64, st types.IngestionStatus) bool {
	var batch types.PageBatch
	switch st.Status {
	case types.BookComplete:
		var err error
		batch, err = p.src.Pages(ctx, bookId, 0, p.batchSize)
		if err != nil {
			if ctx.Err() == nil {
				p.log.Printf("pager: fetch first batch of %s: %v", bookId, err)
			}
			return ctx.Err() != nil
		}
		if notReady(batch) {
			return false
		}
	}

	p.mu.Lock()
	if gen != p.gen || ctx.Err() != nil {
		p.mu.Unlock()
		return true
	}

	done := true
	switch st.Status {
	case types.BookComplete:
		p.readyLocked(batch, st.TotalPages)
	case types.BookFailed:
		reason := st.Error
		if reason == "" {
			reason = st.Message
		}
		if reason == "" {
			reason = "unknown error"
		}
		p.state = Failed
		p.message = "Failed: " + reason
	default:
		if st.Message != "" {
			p.message = st.Message
		}
		done = false
	}
	if done {
		p.stopPoll = nil
		p.pollDone = nil
	}
	s, fn := p.statusLocked(), p.onChange
	p.mu.Unlock()

	notify(fn, s)
	return done
}

// Close stops ingestion polling and waits for the poll task to exit.
func (p *Pager) Close() {
	p.mu.Lock()
	cancel, done := p.stopPoll, p.pollDone
	p.stopPoll = nil
	p.pollDone = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Polling reports whether an ingestion poll task is running.
func (p *Pager) Polling() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pollDone != nil
}

// LoadBatch fetches the batch starting at offset unless any batch fetch is
// in flight or the first page of the batch is already loaded.
func (p *Pager) LoadBatch(ctx context.Context, offset int) error {
	p.mu.Lock()
	if p.state != Ready {
		p.mu.Unlock()
		return nil
	}
	if offset < 0 || offset >= p.book.TotalPages {
		p.mu.Unlock()
		return ErrOutOfRange
	}
	if p.busy > 0 || p.pages[offset+1] != nil {
		p.mu.Unlock()
		return nil
	}
	p.busy++
	bookId, gen := p.book.Id, p.gen
	p.mu.Unlock()

	return p.fetch(ctx, bookId, gen, offset)
}

// fetch loads one batch, sharing the request with any concurrent fetch of
// the same offset. The caller has already counted itself in p.busy.
func (p *Pager) fetch(ctx context.Context, bookId string, gen uint64, offset int) error {
	v, err, _ := p.group.Do(bookId+"/"+strconv.Itoa(offset), func() (any, error) {
		return p.src.Pages(ctx, bookId, offset, p.batchSize)
	})

	p.mu.Lock()
	p.busy--
	if gen != p.gen {
		p.mu.Unlock()
		return nil
	}
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("load pages %d-%d of %s: %w", offset+1, offset+p.batchSize, bookId, err)
	}
	batch := v.(types.PageBatch)
	if batch.Status == types.BookProcessing {
		p.mu.Unlock()
		return nil
	}
	p.writeLocked(batch)
	st, fn := p.statusLocked(), p.onChange
	p.mu.Unlock()

	notify(fn, st)
	return nil
}

// MaybePreload loads the next unloaded batch once the reader at spread is
// fewer than the preload threshold pages away from it.
func (p *Pager) MaybePreload(ctx context.Context, spread int) error {
	p.mu.Lock()
	if p.state != Ready || p.book.TotalPages == 0 {
		p.mu.Unlock()
		return nil
	}
	total := p.book.TotalPages
	cur := min(max(spread*2, 0), total)
	next := -1
	for b := max(cur-1, 0) / p.batchSize * p.batchSize; b < total; b += p.batchSize {
		if p.pages[b+1] == nil {
			next = b
			break
		}
	}
	p.mu.Unlock()

	if next < 0 || next-cur >= p.threshold {
		return nil
	}
	return p.LoadBatch(ctx, next)
}

// JumpTo returns once page target is loaded, fetching its batch if needed.
// The cover is always available.
func (p *Pager) JumpTo(ctx context.Context, target int) error {
	if target == 0 {
		return nil
	}

	p.mu.Lock()
	if p.state != Ready {
		p.mu.Unlock()
		return ErrNotReady
	}
	if target < 0 || target > p.book.TotalPages {
		p.mu.Unlock()
		return ErrOutOfRange
	}
	if p.pages[target] != nil {
		p.mu.Unlock()
		return nil
	}
	p.busy++
	bookId, gen := p.book.Id, p.gen
	p.mu.Unlock()

	return p.fetch(ctx, bookId, gen, (target-1)/p.batchSize*p.batchSize)
}

func (p *Pager) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked()
}

func (p *Pager) statusLocked() Status {
	return Status{State: p.state, Message: p.message, TotalPages: p.book.TotalPages}
}

func (p *Pager) Book() types.Book {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.book
}

// Len is the size of the page array, total pages plus the cover.
func (p *Pager) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pages)
}

// Page returns the content of slot i and whether it has been loaded.
func (p *Pager) Page(i int) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.pages) || p.pages[i] == nil {
		return "", false
	}
	return *p.pages[i], true
}

// Loaded returns how many slots, cover included, hold content.
func (p *Pager) Loaded() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, pg := range p.pages {
		if pg != nil {
			n++
		}
	}
	return n
}

func notify(fn func(Status), st Status) {
	if fn != nil {
		fn(st)
	}
}

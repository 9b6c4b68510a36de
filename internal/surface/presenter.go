package surface

import (
	"errors"
	"sync"
	"time"

	"github.com/smazurov/virtualcam/internal/logging"
	"github.com/smazurov/virtualcam/internal/yuv"
)

// ErrPresenterClosed is returned by WriteFrame after Close.
var ErrPresenterClosed = errors.New("presenter closed")

const presentQueue = 2

// Presenter paces decoded pictures onto a target surface by their
// timestamps, the way a rendering surface consumes a decoder's output.
//
// WriteFrame copies the picture into a pooled buffer and queues it; the
// presenter goroutine waits until the frame is due and writes it to the
// target. A timestamp that goes backwards starts a new timeline, which is
// what a looping decoder produces.
type Presenter struct {
	target Sink
	logger logging.Logger

	queue chan *Frame
	pool  sync.Pool

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	now func() time.Time
}

// NewPresenter starts a presenter for target.
func NewPresenter(target Sink, logger logging.Logger) *Presenter {
	p := &Presenter{
		target: target,
		logger: logger,
		queue:  make(chan *Frame, presentQueue),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		now:    time.Now,
	}
	p.pool.New = func() any { return &Frame{} }
	go p.run()
	return p
}

// WriteFrame implements Sink. It blocks while the queue is full, which
// throttles an unpaced producer to the presentation rate.
func (p *Presenter) WriteFrame(f *Frame) error {
	out, _ := p.pool.Get().(*Frame)
	out.Width, out.Height, out.Timestamp = f.Width, f.Height, f.Timestamp
	out.Image = nil

	var err error
	switch {
	case f.Image != nil:
		out.Data, err = yuv.Convert(out.Data, f.Image, yuv.FormatI420)
		out.Format = yuv.FormatI420
	default:
		out.Data = append(out.Data[:0], f.Data...)
		out.Format = f.Format
	}
	if err != nil {
		p.pool.Put(out)
		return err
	}

	select {
	case p.queue <- out:
		return nil
	case <-p.stop:
		p.pool.Put(out)
		return ErrPresenterClosed
	}
}

// Close stops presenting and waits for the goroutine to exit. Queued frames
// are dropped.
func (p *Presenter) Close() {
	p.closeOnce.Do(func() { close(p.stop) })
	<-p.done
}

func (p *Presenter) run() {
	defer close(p.done)

	var (
		base     time.Time
		baseTS   time.Duration
		lastTS   time.Duration
		started  bool
		warnOnce bool
	)
	for {
		// Stop takes priority over queued frames.
		select {
		case <-p.stop:
			return
		default:
		}

		var f *Frame
		select {
		case <-p.stop:
			return
		case f = <-p.queue:
		}

		if !started || f.Timestamp < lastTS {
			base, baseTS, started = p.now(), f.Timestamp, true
		}
		lastTS = f.Timestamp

		if wait := base.Add(f.Timestamp - baseTS).Sub(p.now()); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-p.stop:
				timer.Stop()
				p.pool.Put(f)
				return
			case <-timer.C:
			}
		}

		if err := p.target.WriteFrame(f); err != nil && !warnOnce {
			warnOnce = true
			p.logger.Warn("Surface rejected frame", "error", err)
		}
		p.pool.Put(f)
	}
}

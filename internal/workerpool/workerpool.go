// Package workerpool runs a fixed-size pool of goroutines pulling tasks off
// a shared channel, supervised by a tomb so the whole pool shuts down
// cleanly when its parent does.
package workerpool

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const taskChanSize = 256

// Func is the work a pool performs for each task handed to it.
type Func func(t *tomb.Tomb, task any) error

// Pool is a fixed-size worker pool. Tasks submitted via AddTask are picked
// up by whichever worker goroutine is free.
type Pool struct {
	n     int
	tasks chan any
	work  Func
}

// New constructs a pool with size worker goroutines once Setup is called.
func New(size int) Pool {
	return Pool{
		tasks: make(chan any, taskChanSize),
		n:     size,
	}
}

// AddTask enqueues a task for some worker to pick up.
func (p *Pool) AddTask(task any) {
	p.tasks <- task
}

// Setup keeps the pool topped up at n active workers until t starts dying,
// spawning a replacement as soon as one exits.
func (p *Pool) Setup(t *tomb.Tomb, work Func) {
	p.work = work
	log.Info().Int("workers", p.n).Msg("worker pool starting")
	active := 0
	for {
		select {
		case <-t.Dying():
			return
		default:
			if active < p.n {
				t.Go(func() error {
					err := p.worker(t)
					active--
					return err
				})
				active++
			}
		}
	}
}

func (p *Pool) worker(t *tomb.Tomb) error {
	select {
	case <-t.Dying():
		return nil
	case task := <-p.tasks:
		if err := p.work(t, task); err != nil {
			log.Error().Err(err).Msg("worker exiting on error")
			return err
		}
	}
	return nil
}

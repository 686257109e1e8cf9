// Package syncer moves whole snapshots between the store and its collaborators.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"prosync/internal/domain"
	"prosync/internal/normalize"
	"prosync/internal/repo"
)

var ErrBusy = errors.New("sync operation already running")

const DefaultResetDelay = 1500 * time.Millisecond

type Op string

const (
	OpExport Op = "export"
	OpImport Op = "import"
	OpPull   Op = "pull"
	OpScript Op = "script"
)

// Ops lists the tracked operations.
var Ops = []Op{OpExport, OpImport, OpPull, OpScript}

type State string

const (
	Idle    State = "IDLE"
	Loading State = "LOADING"
	Success State = "SUCCESS"
	Failure State = "FAILURE"
)

type Status struct {
	Op        Op        `json:"op"`
	State     State     `json:"state" enum:"IDLE,LOADING,SUCCESS,FAILURE"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt" format:"date-time"`
}

// Fetcher retrieves a remote snapshot document.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Sink stores a named blob and returns where it went.
type Sink interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// Writer applies a change script directly to the relational remote.
type Writer interface {
	WriteScript(ctx context.Context, script string) error
}

// Delivery reports where a pushed script ended up.
type Delivery struct {
	Direct    bool   `json:"direct"`
	Location  string `json:"location,omitempty"`
	DirectErr string `json:"directError,omitempty"`
}

type Summary struct {
	Users    int `json:"users"`
	Projects int `json:"projects"`
	Agenda   int `json:"agenda"`
}

func summarize(s domain.Snapshot) Summary {
	return Summary{Users: len(s.Users), Projects: len(s.Projects), Agenda: len(s.Agenda)}
}

type Coordinator struct {
	Store      repo.Store
	Sink       Sink
	Fetcher    Fetcher
	Writer     Writer
	Logger     *log.Logger
	Now        func() time.Time
	ResetDelay time.Duration

	mu     sync.Mutex
	states map[Op]*opState
}

type opState struct {
	status Status
	gen    int
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func (c *Coordinator) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

func (c *Coordinator) resetDelay() time.Duration {
	if c.ResetDelay > 0 {
		return c.ResetDelay
	}
	return DefaultResetDelay
}

func (c *Coordinator) state(op Op) *opState {
	if c.states == nil {
		c.states = make(map[Op]*opState)
	}
	st, ok := c.states[op]
	if !ok {
		st = &opState{status: Status{Op: op, State: Idle}}
		c.states[op] = st
	}
	return st
}

func (c *Coordinator) begin(op Op) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state(op)
	if st.status.State == Loading {
		return ErrBusy
	}
	st.gen++
	st.status = Status{Op: op, State: Loading, UpdatedAt: c.now()}
	return nil
}

func (c *Coordinator) finish(op Op, err error) {
	c.mu.Lock()
	st := c.state(op)
	st.gen++
	gen := st.gen
	st.status = Status{Op: op, State: Success, UpdatedAt: c.now()}
	if err != nil {
		st.status.State = Failure
		st.status.Error = err.Error()
	}
	c.mu.Unlock()
	time.AfterFunc(c.resetDelay(), func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if cur := c.state(op); cur.gen == gen {
			cur.status = Status{Op: op, State: Idle, Error: cur.status.Error, UpdatedAt: c.now()}
		}
	})
}

func (c *Coordinator) run(op Op, fn func() error) error {
	if err := c.begin(op); err != nil {
		return err
	}
	err := fn()
	c.finish(op, err)
	return err
}

// Status returns the current state of op.
func (c *Coordinator) Status(op Op) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state(op).status
}

func (c *Coordinator) Statuses() []Status {
	out := make([]Status, 0, len(Ops))
	for _, op := range Ops {
		out = append(out, c.Status(op))
	}
	return out
}

func (c *Coordinator) snapshot(ctx context.Context) (domain.Snapshot, error) {
	users, err := c.Store.ListUsers(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}
	projects, err := c.Store.ListProjects(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}
	agenda, err := c.Store.ListAgenda(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return domain.Snapshot{Users: users, Projects: projects, Agenda: agenda, ExportedAt: c.now()}, nil
}

// Export returns a full snapshot of the store.
func (c *Coordinator) Export(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot
	err := c.run(OpExport, func() error {
		var err error
		snap, err = c.snapshot(ctx)
		return err
	})
	return snap, err
}

// ExportTo hands the snapshot document to the sink as Backup_<unixmillis>.json.
func (c *Coordinator) ExportTo(ctx context.Context) (string, error) {
	var location string
	err := c.run(OpExport, func() error {
		if c.Sink == nil {
			return errors.New("export sink not configured")
		}
		snap, err := c.snapshot(ctx)
		if err != nil {
			return err
		}
		data, err := normalize.EncodeSnapshot(snap)
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		location, err = c.Sink.Put(ctx, fmt.Sprintf("Backup_%d.json", snap.ExportedAt.UnixMilli()), data)
		return err
	})
	return location, err
}

// Import replaces the store with the backup document in data.
func (c *Coordinator) Import(ctx context.Context, data []byte) (Summary, error) {
	var sum Summary
	err := c.run(OpImport, func() error {
		var err error
		sum, err = c.replace(ctx, data)
		return err
	})
	return sum, err
}

// Pull fetches the remote snapshot and replaces the store with it. Failures leave the
// store untouched.
func (c *Coordinator) Pull(ctx context.Context) (Summary, error) {
	var sum Summary
	err := c.run(OpPull, func() error {
		if c.Fetcher == nil {
			return errors.New("remote fetch not configured")
		}
		data, err := c.Fetcher.Fetch(ctx)
		if err != nil {
			return err
		}
		sum, err = c.replace(ctx, data)
		return err
	})
	return sum, err
}

func (c *Coordinator) replace(ctx context.Context, data []byte) (Summary, error) {
	snap, err := normalize.DecodeSnapshot(data)
	if err != nil {
		return Summary{}, err
	}
	if err := c.Store.ReplaceAll(ctx, snap); err != nil {
		return Summary{}, err
	}
	return summarize(snap), nil
}

func (c *Coordinator) script(ctx context.Context) (string, error) {
	users, err := c.Store.ListUsers(ctx)
	if err != nil {
		return "", err
	}
	projects, err := c.Store.ListProjects(ctx)
	if err != nil {
		return "", err
	}
	return BuildScript(users, projects), nil
}

// Script renders the change script for the current store.
func (c *Coordinator) Script(ctx context.Context) (string, error) {
	var out string
	err := c.run(OpScript, func() error {
		var err error
		out, err = c.script(ctx)
		return err
	})
	return out, err
}

// PushScript tries the direct writer first and falls back to the sink as
// sync_<unixmillis>.sql.
func (c *Coordinator) PushScript(ctx context.Context) (Delivery, error) {
	var d Delivery
	err := c.run(OpScript, func() error {
		script, err := c.script(ctx)
		if err != nil {
			return err
		}
		if c.Writer != nil {
			werr := c.Writer.WriteScript(ctx, script)
			if werr == nil {
				d = Delivery{Direct: true}
				return nil
			}
			c.logger().Printf("sync: direct write failed, falling back to export: %v", werr)
			d.DirectErr = werr.Error()
		}
		if c.Sink == nil {
			if d.DirectErr != "" {
				return fmt.Errorf("direct write failed and no sink configured: %s", d.DirectErr)
			}
			return errors.New("no script destination configured")
		}
		d.Location, err = c.Sink.Put(ctx, fmt.Sprintf("sync_%d.sql", c.now().UnixMilli()), []byte(script))
		return err
	})
	return d, err
}

// RunAutoSync pushes the change script every interval until ctx is done. Failures are
// logged only.
func (c *Coordinator) RunAutoSync(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d, err := c.PushScript(ctx)
			switch {
			case errors.Is(err, ErrBusy):
				c.logger().Printf("autosync: previous push still running, skipping")
			case err != nil:
				c.logger().Printf("autosync: %v", err)
			case d.Direct:
				c.logger().Printf("autosync: script applied directly")
			default:
				c.logger().Printf("autosync: script written to %s", d.Location)
			}
		}
	}
}

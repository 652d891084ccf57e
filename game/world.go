package game

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Task runs on the world loop with exclusive access to player state.
type Task func(w *World) error

type task struct {
	fn     Task
	result chan error
}

// World owns every online player. Run is the only goroutine that mutates
// players; everything else hands work to it through Execute.
//
// Snapshot, FreeSlots, OnlinePlayers and IsOnline take a read lock and must
// not be called from inside a Task.
type World struct {
	logger   *zap.Logger
	commands *CommandDispatcher
	tasks    chan task
	done     chan struct{}
	started  atomic.Bool

	mu      sync.RWMutex
	players map[uuid.UUID]*Player
}

func NewWorld(logger *zap.Logger) *World {
	return &World{
		logger:   logger.Named("world"),
		commands: NewCommandDispatcher(),
		tasks:    make(chan task, 256),
		done:     make(chan struct{}),
		players:  make(map[uuid.UUID]*Player),
	}
}

func (w *World) Commands() *CommandDispatcher {
	return w.commands
}

// Run processes tasks until ctx is cancelled. Queued tasks that were not
// started by then fail with ErrWorldStopped.
func (w *World) Run(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	defer close(w.done)

	w.logger.Info("[WORLD] loop started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("[WORLD] loop stopped")
			return
		case t := <-w.tasks:
			t.result <- w.runTask(t.fn)
		}
	}
}

// Done is closed once the loop has exited.
func (w *World) Done() <-chan struct{} {
	return w.done
}

func (w *World) runTask(fn Task) (err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("world task panicked: %v", r)
			w.logger.Error("[WORLD] task panicked", zap.Any("panic", r))
		}
	}()
	return fn(w)
}

// Execute hands fn to the world loop and waits for it to finish.
// ErrWorldStopped means fn never ran.
func (w *World) Execute(ctx context.Context, fn Task) error {
	select {
	case <-w.done:
		return ErrWorldStopped
	default:
	}

	t := task{fn: fn, result: make(chan error, 1)}
	select {
	case w.tasks <- t:
	case <-w.done:
		return ErrWorldStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-t.result:
		return err
	case <-w.done:
		select {
		case err := <-t.result:
			return err
		default:
			return ErrWorldStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CommandSession runs commands on behalf of one online player inside a Task.
type CommandSession struct {
	world  *World
	player *Player
}

func (s *CommandSession) PlayerName() string {
	return s.player.Name
}

// FreeSlots reads the live inventory. The session runs on the world loop, so
// nothing changes it until fn returns.
func (s *CommandSession) FreeSlots() int {
	return s.player.FreeSlots()
}

func (s *CommandSession) Run(command string) error {
	return s.world.commands.Dispatch(s.world, command)
}

// ExecuteForPlayer runs fn on the world loop if the player is online when the
// task starts. ErrPlayerOffline means fn never ran.
func (w *World) ExecuteForPlayer(ctx context.Context, id uuid.UUID, fn func(s *CommandSession) error) error {
	return w.Execute(ctx, func(w *World) error {
		p, ok := w.players[id]
		if !ok {
			return ErrPlayerOffline
		}
		return fn(&CommandSession{world: w, player: p})
	})
}

// Player returns an online player. Only valid inside a Task.
func (w *World) Player(id uuid.UUID) (*Player, bool) {
	p, ok := w.players[id]
	return p, ok
}

// PlayerByName looks a player up case-insensitively. Only valid inside a Task.
func (w *World) PlayerByName(name string) (*Player, bool) {
	for _, p := range w.players {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return nil, false
}

func (w *World) Join(ctx context.Context, id uuid.UUID, name string) error {
	return w.Execute(ctx, func(w *World) error {
		if p, ok := w.players[id]; ok {
			p.Name = name
			return nil
		}
		w.players[id] = newPlayer(id, name)
		w.logger.Info("[WORLD] player joined", zap.String("player", name), zap.Stringer("uuid", id))
		return nil
	})
}

func (w *World) Leave(ctx context.Context, id uuid.UUID) error {
	return w.Execute(ctx, func(w *World) error {
		p, ok := w.players[id]
		if !ok {
			return ErrPlayerOffline
		}
		delete(w.players, id)
		w.logger.Info("[WORLD] player left", zap.String("player", p.Name), zap.Stringer("uuid", id))
		return nil
	})
}

func (w *World) SetSlot(ctx context.Context, id uuid.UUID, slot int, stack ItemStack) error {
	return w.Execute(ctx, func(w *World) error {
		p, ok := w.players[id]
		if !ok {
			return ErrPlayerOffline
		}
		return p.SetSlot(slot, stack)
	})
}

func (w *World) SendMessages(ctx context.Context, id uuid.UUID, messages ...string) error {
	return w.Execute(ctx, func(w *World) error {
		p, ok := w.players[id]
		if !ok {
			return ErrPlayerOffline
		}
		p.Send(messages...)
		return nil
	})
}

func (w *World) DrainMessages(ctx context.Context, id uuid.UUID) ([]string, error) {
	var out []string
	err := w.Execute(ctx, func(w *World) error {
		p, ok := w.players[id]
		if !ok {
			return ErrPlayerOffline
		}
		out = p.drainInbox()
		return nil
	})
	return out, err
}

// RunCommand dispatches a console command on the world loop.
func (w *World) RunCommand(ctx context.Context, command string) error {
	return w.Execute(ctx, func(w *World) error {
		return w.commands.Dispatch(w, command)
	})
}

func (w *World) Snapshot(id uuid.UUID) (PlayerSnapshot, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.players[id]
	if !ok {
		return PlayerSnapshot{}, false
	}
	return p.snapshot(), true
}

func (w *World) FreeSlots(id uuid.UUID) (int, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.players[id]
	if !ok {
		return 0, ErrPlayerOffline
	}
	return p.FreeSlots(), nil
}

func (w *World) IsOnline(id uuid.UUID) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.players[id]
	return ok
}

// OnlinePlayers returns the ids of online players ordered by name.
func (w *World) OnlinePlayers() []uuid.UUID {
	type entry struct {
		id   uuid.UUID
		name string
	}
	w.mu.RLock()
	entries := make([]entry, 0, len(w.players))
	for _, p := range w.players {
		entries = append(entries, entry{id: p.ID, name: p.Name})
	}
	w.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
	ids := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids
}

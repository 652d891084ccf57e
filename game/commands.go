package game

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// CommandFunc executes one console command inside a world Task.
type CommandFunc func(w *World, args []string) error

// CommandDispatcher maps command verbs to handlers. Verbs are case-insensitive
// and a leading slash is ignored.
type CommandDispatcher struct {
	mu       sync.RWMutex
	handlers map[string]CommandFunc
}

func NewCommandDispatcher() *CommandDispatcher {
	d := &CommandDispatcher{handlers: make(map[string]CommandFunc)}
	d.Register("give", giveCommand)
	d.Register("eco", ecoCommand)
	d.Register("flag", flagCommand)
	d.Register("say", sayCommand)
	d.Register("tell", tellCommand)
	return d
}

func (d *CommandDispatcher) Register(verb string, fn CommandFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[strings.ToLower(verb)] = fn
}

func (d *CommandDispatcher) Dispatch(w *World, line string) error {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(line), "/"))
	if len(fields) == 0 {
		return fmt.Errorf("%w: empty command", ErrInvalidCommand)
	}

	d.mu.RLock()
	fn, ok := d.handlers[strings.ToLower(fields[0])]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, fields[0])
	}
	return fn(w, fields[1:])
}

func targetPlayer(w *World, name string) (*Player, error) {
	p, ok := w.PlayerByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlayerOffline, name)
	}
	return p, nil
}

// give <player> <item> [count]
func giveCommand(w *World, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("%w: give <player> <item> [count]", ErrInvalidCommand)
	}
	p, err := targetPlayer(w, args[0])
	if err != nil {
		return err
	}
	count := 1
	if len(args) == 3 {
		if count, err = strconv.Atoi(args[2]); err != nil {
			return fmt.Errorf("%w: bad count %q", ErrInvalidCommand, args[2])
		}
	}
	return p.Give(args[1], count)
}

// eco give|take <player> <amount>
func ecoCommand(w *World, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("%w: eco give|take <player> <amount>", ErrInvalidCommand)
	}
	p, err := targetPlayer(w, args[1])
	if err != nil {
		return err
	}
	amount, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil || amount <= 0 {
		return fmt.Errorf("%w: bad amount %q", ErrInvalidCommand, args[2])
	}
	switch strings.ToLower(args[0]) {
	case "give":
		p.Balance += amount
	case "take":
		if p.Balance < amount {
			return fmt.Errorf("%w: insufficient balance", ErrInvalidCommand)
		}
		p.Balance -= amount
	default:
		return fmt.Errorf("%w: eco %s", ErrInvalidCommand, args[0])
	}
	return nil
}

// flag <player> <name>
func flagCommand(w *World, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: flag <player> <name>", ErrInvalidCommand)
	}
	p, err := targetPlayer(w, args[0])
	if err != nil {
		return err
	}
	p.Flags[args[1]] = true
	return nil
}

// say <text...> broadcasts to every online player.
func sayCommand(w *World, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: say <text>", ErrInvalidCommand)
	}
	msg := "[Server] " + strings.Join(args, " ")
	for _, p := range w.players {
		p.Send(msg)
	}
	return nil
}

// tell <player> <text...>
func tellCommand(w *World, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: tell <player> <text>", ErrInvalidCommand)
	}
	p, err := targetPlayer(w, args[0])
	if err != nil {
		return err
	}
	p.Send(strings.Join(args[1:], " "))
	return nil
}

package game

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

const (
	// MainInventorySize excludes armor and off-hand slots.
	MainInventorySize = 36
	MaxStackSize      = 64
)

type ItemStack struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

func (s ItemStack) IsEmpty() bool {
	return s.Item == "" || s.Count <= 0
}

// Player is live session state. Only the world loop mutates it.
type Player struct {
	ID        uuid.UUID
	Name      string
	Inventory [MainInventorySize]ItemStack
	Balance   int64
	Flags     map[string]bool
	inbox     []string
}

func newPlayer(id uuid.UUID, name string) *Player {
	return &Player{ID: id, Name: name, Flags: map[string]bool{}}
}

func (p *Player) FreeSlots() int {
	free := 0
	for _, s := range p.Inventory {
		if s.IsEmpty() {
			free++
		}
	}
	return free
}

// StacksFor is the number of slots count items occupy.
func StacksFor(count int) int {
	if count <= MaxStackSize {
		return 1
	}
	return (count + MaxStackSize - 1) / MaxStackSize
}

// Give splits count items into stacks of at most MaxStackSize, one per empty
// slot. When there are not enough empty slots nothing is placed.
func (p *Player) Give(item string, count int) error {
	if item == "" || count <= 0 || count > MainInventorySize*MaxStackSize {
		return fmt.Errorf("%w: give %q x%d", ErrInvalidCommand, item, count)
	}
	if p.FreeSlots() < StacksFor(count) {
		return ErrInventoryFull
	}
	for i := range p.Inventory {
		if count == 0 {
			break
		}
		if p.Inventory[i].IsEmpty() {
			n := min(count, MaxStackSize)
			p.Inventory[i] = ItemStack{Item: item, Count: n}
			count -= n
		}
	}
	return nil
}

func (p *Player) SetSlot(slot int, stack ItemStack) error {
	if slot < 0 || slot >= MainInventorySize {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}
	if stack.IsEmpty() {
		stack = ItemStack{}
	}
	p.Inventory[slot] = stack
	return nil
}

func (p *Player) Send(messages ...string) {
	p.inbox = append(p.inbox, messages...)
}

func (p *Player) drainInbox() []string {
	out := p.inbox
	p.inbox = nil
	return out
}

// PlayerSnapshot is a read-only copy handed out of the world loop.
type PlayerSnapshot struct {
	ID        uuid.UUID                    `json:"id"`
	Name      string                       `json:"name"`
	Inventory [MainInventorySize]ItemStack `json:"inventory"`
	FreeSlots int                          `json:"free_slots"`
	Balance   int64                        `json:"balance"`
	Flags     []string                     `json:"flags"`
	Pending   int                          `json:"pending_messages"`
}

func (p *Player) snapshot() PlayerSnapshot {
	flags := make([]string, 0, len(p.Flags))
	for f := range p.Flags {
		flags = append(flags, f)
	}
	sort.Strings(flags)
	return PlayerSnapshot{
		ID:        p.ID,
		Name:      p.Name,
		Inventory: p.Inventory,
		FreeSlots: p.FreeSlots(),
		Balance:   p.Balance,
		Flags:     flags,
		Pending:   len(p.inbox),
	}
}

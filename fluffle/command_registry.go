package fluffle

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"sync"
)

type registryKey struct {
	commandType discordgo.ApplicationCommandType
	name        string
}

// CommandRegistry holds the bot's commands in registration order, keyed
// by command type and name
type CommandRegistry struct {
	mu       sync.RWMutex
	commands []Command
	index    map[registryKey]Command
}

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{index: map[registryKey]Command{}}
}

// Register validates and adds the given commands. Nothing is added if
// any command is invalid or already registered.
func (r *CommandRegistry) Register(commands ...Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := map[registryKey]bool{}
	for _, cmd := range commands {
		if err := cmd.Validate(); err != nil {
			return fmt.Errorf("invalid command %q: %w", cmd.Name(), err)
		}
		key := registryKey{commandType: cmd.Type(), name: cmd.Name()}
		if _, exists := r.index[key]; exists || pending[key] {
			return fmt.Errorf("%w: %s", ErrCommandExists, cmd.Name())
		}
		pending[key] = true
	}

	for _, cmd := range commands {
		r.index[registryKey{commandType: cmd.Type(), name: cmd.Name()}] = cmd
		r.commands = append(r.commands, cmd)
	}
	return nil
}

// Get returns the command with the given type and name
func (r *CommandRegistry) Get(
	commandType discordgo.ApplicationCommandType,
	name string,
) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.index[registryKey{commandType: commandType, name: name}]
	return cmd, ok
}

// Commands returns all registered commands, in registration order
func (r *CommandRegistry) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rv := make([]Command, len(r.commands))
	copy(rv, r.commands)
	return rv
}

// Definitions returns the metadata of every command, for registration
// with Discord
func (r *CommandRegistry) Definitions() []*discordgo.ApplicationCommand {
	commands := r.Commands()
	rv := make([]*discordgo.ApplicationCommand, 0, len(commands))
	for _, cmd := range commands {
		rv = append(rv, cmd.Definition())
	}
	return rv
}

func (r *CommandRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

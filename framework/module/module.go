// Package module implements the process-wide registry that every storage
// backend, table, and listener component in this tree registers itself
// with, and from which the command-line front end constructs them by name.
package module

import (
	"fmt"
	"sync"
)

// Module is implemented by every component constructible from a config
// instance block.
type Module interface {
	Name() string
	InstanceName() string
}

// FuncNewModule constructs a Module from its registered name, the instance
// name given to this particular block, and the block's alias and inline
// argument lists.
type FuncNewModule func(modName, instName string, aliases, inlineArgs []string) (Module, error)

// NoRun disables any background goroutine a module would otherwise start
// from its factory or Init, so tests can exercise construction and wiring
// without leaking timers between cases.
var NoRun bool

var (
	mu        sync.RWMutex
	factories = map[string]FuncNewModule{}
	instances = map[string]Module{}
)

// Register records a module factory under name. Called from an init() in
// the module's own package.
func Register(name string, factory FuncNewModule) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = factory
}

// Get constructs a new instance of the module registered under modName.
// It does not call Init; the caller does that once the config tree for
// the instance is available.
func Get(modName, instName string, aliases, inlineArgs []string) (Module, error) {
	mu.RLock()
	factory, ok := factories[modName]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("module: unknown module %q", modName)
	}
	return factory(modName, instName, aliases, inlineArgs)
}

// RegisterInstance stores an already-constructed, already-Init'd module
// under its instance name so later GetInstance calls return it without
// reconstructing it.
func RegisterInstance(inst Module) {
	mu.Lock()
	defer mu.Unlock()
	instances[inst.InstanceName()] = inst
}

// GetInstance returns a previously registered instance by name.
func GetInstance(instName string) (Module, error) {
	mu.RLock()
	inst, ok := instances[instName]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("module: unknown instance %q", instName)
	}
	return inst, nil
}

// Package waveapp implements App (spec.md's WaveApp): the outermost runtime
// that owns the stack of World snapshots, undo/redo, wave-merge coalescing
// of rapid same-kind mutations into a single undo step, and the mutation
// notification Stream. It plays the role goatee's hub played for a single
// shared ot.Text, generalized to a full snapshot chain over arbitrary
// registered Model classes.
package waveapp

import (
	"fmt"
	"strings"
	"sync"

	"github.com/asadovsky/wavedoc/waveerr"
	"github.com/asadovsky/wavedoc/world"
)

// MethodSpec describes one callable method of a registered Model Class:
// its wave-merge tag/rate (ignored for Pure methods), and the function that
// runs it against a bound Model.
type MethodSpec struct {
	// Tag is the wave-merge tag, e.g. "typing"; empty means every call to
	// this method always advances (spec.md §4.6).
	Tag string
	// Rate is compared against the App's last merge rate; a call only merges
	// if its Rate is at least the last merged rate, a dropped rate forces a
	// new undo step (spec.md §4.6, §9 Open Question (a)).
	Rate int
	// Pure methods skip wave-merge/advance entirely and run synchronously
	// against the current top World (spec.md §4.6).
	Pure bool
	Fn   func(m *world.Model, args []any) (any, error)
}

// Class is a registered Model type: its slot schema plus its methods, bound
// together under one name for both cross-World identification and
// serializer tagging (spec.md §6).
type Class struct {
	Schema  world.Schema
	Methods map[string]MethodSpec
}

// App is the WaveApp runtime: a stack of Worlds (top mutable), a redo stack,
// a mutation Stream, and the wave-merge state carried between calls.
type App struct {
	mu      sync.Mutex
	classes map[string]Class
	worlds  []*world.World
	redo    []*world.World

	mutations *Stream[Mutation]
	logger    Logger

	waveTag  []string
	waveRate int
}

// Mutation is one value published on App's mutation Stream: the resulting
// live top World, plus a Tag classifying why it was published. Tag is empty
// for an ordinary Create/Assign/Call advance-or-merge, and "undo"/"redo" for
// Undo/Redo's synthetic re-emission (spec.md §4.6's "re-emit the live World
// onto the mutation stream with a synthetic tag undo so watchers re-render"),
// letting a subscriber distinguish a history navigation from a fresh edit
// without diffing World content itself.
type Mutation struct {
	World *world.World
	Tag   string
}

// New returns an App seeded with a fresh root World and the given Classes
// registered by Schema.Name.
func New(logger Logger, classes ...Class) *App {
	if logger == nil {
		logger = DefaultLogger{}
	}
	cs := map[string]Class{}
	for _, c := range classes {
		cs[c.Schema.Name] = c
	}
	root := world.NewRoot()
	return &App{
		classes:   cs,
		worlds:    []*world.World{root},
		mutations: NewStream[Mutation](logger),
		logger:    logger,
	}
}

// Mutations returns the Stream every advance/merge/undo/redo publishes a
// Mutation naming the live top World onto.
func (a *App) Mutations() *Stream[Mutation] { return a.mutations }

// publish publishes a's current top World tagged tag.
func (a *App) publish(tag string) {
	a.mutations.Publish(Mutation{World: a.top(), Tag: tag})
}

func (a *App) top() *world.World { return a.worlds[len(a.worlds)-1] }

// splitTag splits a wave-merge tag string on ':'; the empty string splits to
// an empty slice, which never merges with anything (spec.md §4.6).
func splitTag(tag string) []string {
	if tag == "" {
		return nil
	}
	return strings.Split(tag, ":")
}

func tagsMatch(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] == "*" || b[i] == "*" {
			continue
		}
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// canMerge reports whether a call tagged (tag, rate) may extend the current
// live top World rather than advancing to a new one.
func (a *App) canMerge(tag []string, rate int) bool {
	if len(tag) == 0 || len(a.waveTag) == 0 {
		return false
	}
	if !tagsMatch(tag, a.waveTag) {
		return false
	}
	// A rate drop forces a new World; equal or increasing rates keep
	// coalescing, which is what lets a method annotated with one fixed rate
	// (e.g. "typing", rate 8) merge every one of its own calls indefinitely
	// while still yielding to a higher-priority tag change.
	return rate >= a.waveRate
}

// advance locks the current top World and pushes a fresh child, clearing
// the redo stack: this is a new undo step.
func (a *App) advance() {
	a.top().Lock()
	child := a.top().Child()
	a.worlds = append(a.worlds, child)
	a.redo = nil
	a.logger.Errorf("waveapp: advance: depth=%d", child.Depth())
}

// resolveWave applies the wave-merge decision for a tagged mutating call,
// returning whether the call merged into the existing top World (true) or
// advanced to a new one (false). Resolves spec.md §9 Open Question (a): a
// merge bumps waveRate to the incoming rate; any call that advances (new
// tag, or same tag at a dropped rate) resets waveRate to 1, matching
// "assign tag, set rate to 1" read literally.
func (a *App) resolveWave(tag string, rate int) bool {
	tokens := splitTag(tag)
	if a.canMerge(tokens, rate) {
		a.waveRate = rate
		return true
	}
	a.waveTag = tokens
	a.waveRate = 1
	a.advance()
	return false
}

// Create materializes a new Model of className in the live top World and
// publishes it, always as a new undo step (object creation is never
// wave-merged).
func (a *App) Create(className string, args ...any) (world.Ref, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	class, ok := a.classes[className]
	if !ok {
		return world.Ref{}, fmt.Errorf("waveapp: create %q: %w", className, waveerr.ErrUnknownRef)
	}
	a.waveTag, a.waveRate = nil, 0
	a.advance()
	m, err := a.top().Create(class.Schema)
	if err != nil {
		return world.Ref{}, err
	}
	if init, ok := class.Methods["__init__"]; ok {
		if _, err := init.Fn(m, args); err != nil {
			return world.Ref{}, err
		}
	}
	a.publish("")
	return m.Ref(), nil
}

// AssignOptions carries an optional wave-merge tag/rate for Assign.
type AssignOptions struct {
	Tag  string
	Rate int
}

// Assign sets ref.property to value in the live top World, applying
// wave-merge if opts carries a tag (e.g. coalescing a cursor-drag's rapid
// property assignments the way a "typing" tag coalesces inserts).
func (a *App) Assign(ref world.Ref, property string, value any, opts ...AssignOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(opts) > 0 && opts[0].Tag != "" {
		a.resolveWave(opts[0].Tag, opts[0].Rate)
	} else {
		a.waveTag, a.waveRate = nil, 0
		a.advance()
	}
	m, err := a.top().Bind(ref)
	if err != nil {
		return err
	}
	if err := m.Set(property, value); err != nil {
		return err
	}
	a.publish("")
	return nil
}

// Call invokes ref's named method with args. If the method is Pure it runs
// synchronously against the current top World with no advance/merge and no
// mutation publish; otherwise it goes through the wave-merge decision like
// Assign.
func (a *App) Call(ref world.Ref, method string, args ...any) (any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, err := a.top().Bind(ref)
	if err != nil {
		return nil, err
	}
	class, ok := a.classes[classNameOf(ref)]
	if !ok {
		return nil, fmt.Errorf("waveapp: call %s.%s: %w", ref.ID(), method, waveerr.ErrUnknownRef)
	}
	spec, ok := class.Methods[method]
	if !ok {
		return nil, fmt.Errorf("waveapp: unknown method %s.%s: %w", className(class), method, waveerr.ErrUnknownRef)
	}

	if spec.Pure {
		return spec.Fn(m, args)
	}

	if spec.Tag != "" {
		a.resolveWave(spec.Tag, spec.Rate)
	} else {
		a.waveTag, a.waveRate = nil, 0
		a.advance()
	}
	m, err = a.top().Bind(ref)
	if err != nil {
		return nil, err
	}
	result, err := spec.Fn(m, args)
	if err != nil {
		return nil, err
	}
	a.publish("")
	return result, nil
}

func className(c Class) string { return c.Schema.Name }

// classNameOf recovers a Ref's Class name from its id, which App.top().Create
// mints as "<ClassName>#<n>" (world.go's World.Create).
func classNameOf(ref world.Ref) string {
	id := ref.ID()
	if i := strings.IndexByte(id, '#'); i >= 0 {
		return id[:i]
	}
	return id
}

// Watch subscribes fn to every mutation whose top World locally modified
// ref, delivered synchronously in push order. It returns an unsubscribe
// closure.
func (a *App) Watch(ref world.Ref, fn func(Mutation)) (unsubscribe func()) {
	return a.mutations.Subscribe(func(mut Mutation) {
		if mut.World.IsLocallyModified(ref) {
			fn(mut)
		}
	})
}

// Undo moves the live top World onto the redo stack and unlocks the new
// top, re-emitting it onto the mutation stream. It is a no-op if only the
// root World remains.
func (a *App) Undo() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.worlds) < 2 {
		return
	}
	n := len(a.worlds)
	popped := a.worlds[n-1]
	a.worlds = a.worlds[:n-1]
	a.redo = append(a.redo, popped)
	a.top().Unlock()
	a.waveTag, a.waveRate = nil, 0
	a.logger.Errorf("waveapp: undo: depth=%d", a.top().Depth())
	a.publish("undo")
}

// Redo re-applies the most recently undone World, re-locking the current
// top first. It is a no-op if the redo stack is empty.
func (a *App) Redo() {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.redo)
	if n == 0 {
		return
	}
	w := a.redo[n-1]
	a.redo = a.redo[:n-1]
	a.top().Lock()
	a.worlds = append(a.worlds, w)
	a.waveTag, a.waveRate = nil, 0
	a.logger.Errorf("waveapp: redo: depth=%d", a.top().Depth())
	a.publish("redo")
}

// Flatten collapses the entire undo history into the root World by
// committing from the top down, then clears the redo stack. It fails with
// waveerr.ErrCommitConflict (via the failing World's Commit) if any World's
// cached reads have gone stale relative to its parent — which cannot
// actually happen for a single linear stack, since each World's parent is
// exactly the World below it in the same stack, but Flatten still surfaces
// the error rather than panicking if that invariant is ever violated by a
// future concurrent-branch feature.
func (a *App) Flatten() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := len(a.worlds) - 1; i >= 1; i-- {
		if err := a.worlds[i].Commit(); err != nil {
			a.logger.Errorf("waveapp: flatten: commit conflict at depth %d: %v", a.worlds[i].Depth(), err)
			return err
		}
	}
	root := a.worlds[0]
	root.Unlock()
	a.worlds = []*world.World{root}
	a.redo = nil
	a.waveTag, a.waveRate = nil, 0
	a.publish("")
	return nil
}

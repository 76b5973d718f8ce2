// Package store implements the transactional, indexed-in-memory object
// store described in spec §4.1: identity-indexed per-kind tables, a
// nestable savepoint stack, and inverse-operation undo.
//
// Grounded on the teacher's composition style (pkg/app/core.AccountManager,
// pkg/app/core/market.MarketRegistry: concrete, mutex-guarded managers
// rather than a reflective generic object graph) combined with spec
// §9's flattening guidance ("Entity = sum { Asset, Account, … } and
// per-kind indexed tables; eliminate virtual bases").
package store

import "fmt"

// undoOp is one inverse mutation recorded while a savepoint is open.
// Replaying a savepoint's undoOps in reverse order restores state to
// exactly what it was when the savepoint began.
type undoOp func()

// Savepoint is one nestable transactional frame (spec §4.1: "Savepoints
// form a stack"). Block savepoints are the outermost frames;
// transaction savepoints nest inside the block being applied.
type Savepoint struct {
	parent *Savepoint
	ops    []undoOp
	name   string
}

// SavepointStack owns the nested frames for one Database.
type SavepointStack struct {
	top *Savepoint
}

// Begin pushes a new frame.
func (s *SavepointStack) Begin(name string) *Savepoint {
	sp := &Savepoint{parent: s.top, name: name}
	s.top = sp
	return sp
}

// record appends an inverse operation to the currently open frame. A
// nil stack top means no savepoint is open — callers outside any
// frame mutate the durable baseline directly and cannot be undone,
// which is only valid for the coalesced-baseline restore path.
func (s *SavepointStack) record(op undoOp) {
	if s.top == nil {
		return
	}
	s.top.ops = append(s.top.ops, op)
}

// Depth reports nesting depth, 0 meaning no open savepoint.
func (s *SavepointStack) Depth() int {
	d := 0
	for sp := s.top; sp != nil; sp = sp.parent {
		d++
	}
	return d
}

// Commit merges the top frame into its parent (or discards it at
// depth 1, since the durable baseline was already mutated in place).
func (s *SavepointStack) Commit() error {
	if s.top == nil {
		return fmt.Errorf("store: commit with no open savepoint")
	}
	sp := s.top
	s.top = sp.parent
	if s.top != nil {
		// Merge child's undo log behind the parent's so an undo of the
		// parent still unwinds everything the child did.
		s.top.ops = append(s.top.ops, sp.ops...)
	}
	return nil
}

// Undo replays the top frame's inverse operations in reverse order and
// pops it.
func (s *SavepointStack) Undo() error {
	if s.top == nil {
		return fmt.Errorf("store: undo with no open savepoint")
	}
	sp := s.top
	for i := len(sp.ops) - 1; i >= 0; i-- {
		sp.ops[i]()
	}
	s.top = sp.parent
	return nil
}

// UndoTo pops and undoes frames until the stack is exactly targetDepth
// deep, used by fork-switch rollback to the last common ancestor (spec
// §4.1 "Fork switching discards the head savepoints of the losing
// branch").
func (s *SavepointStack) UndoTo(targetDepth int) error {
	for s.Depth() > targetDepth {
		if err := s.Undo(); err != nil {
			return err
		}
	}
	return nil
}

// CoalesceBaseline bounds the undo history to maxDepth frames by
// severing the link from the frame at that depth to its parent,
// discarding every older frame's inverse operations (spec §4.1:
// "Beyond that history the oldest frames are coalesced into a new
// durable baseline"). The discarded frames' mutations remain applied
// (every Table write reaches the live rows immediately); only the ability to undo
// past that point is lost. Returns the number of frames coalesced away.
func (s *SavepointStack) CoalesceBaseline(maxDepth int) int {
	depth := s.Depth()
	if depth <= maxDepth || maxDepth <= 0 {
		return 0
	}
	node := s.top
	for i := 1; i < maxDepth && node != nil; i++ {
		node = node.parent
	}
	if node == nil {
		return 0
	}
	dropped := depth - maxDepth
	node.parent = nil
	return dropped
}

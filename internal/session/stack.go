package session

import (
	"go.uber.org/zap"
)

// Stack is the ordered sequence of States attached to one connection. The
// last element is the active state: it alone receives dispatched messages
// and holds focus. Focus only ever moves through Push, Pop, Replace and
// Close, never directly.
type Stack struct {
	conn   *Conn
	states []State
	logger *zap.SugaredLogger
}

func newStack(conn *Conn, logger *zap.SugaredLogger) *Stack {
	return &Stack{conn: conn, logger: logger}
}

// Len returns the number of states on the stack.
func (s *Stack) Len() int {
	return len(s.states)
}

// Top returns the state currently holding focus, or nil if the stack is empty.
func (s *Stack) Top() State {
	if len(s.states) == 0 {
		return nil
	}
	return s.states[len(s.states)-1]
}

// Push constructs a new state via f, appends it and gives it focus. The
// outgoing top is notified with OnLoseFocus first; a misbehaving outgoing
// state must not prevent the incoming one from taking focus.
func (s *Stack) Push(f Factory) State {
	if top := s.Top(); top != nil {
		s.notifyLoseFocus(top)
	}

	state := f(s.conn)
	s.states = append(s.states, state)
	state.OnGainFocus()

	return state
}

// Pop removes and returns the focused state, giving focus to the state
// beneath it if one exists. Popping an empty stack is a no-op returning nil.
func (s *Stack) Pop() State {
	if len(s.states) == 0 {
		return nil
	}

	top := s.states[len(s.states)-1]
	s.states[len(s.states)-1] = nil
	s.states = s.states[:len(s.states)-1]

	s.notifyLoseFocus(top)

	if next := s.Top(); next != nil {
		next.OnGainFocus()
	}

	return top
}

// Replace is equivalent to Pop followed by Push(f). It returns the
// previously focused state, or nil if the stack was empty.
func (s *Stack) Replace(f Factory) State {
	previous := s.Pop()
	s.Push(f)
	return previous
}

// Dispatch delivers one decoded message to the focused state. Messages
// dispatched to an empty stack are dropped silently. The top is resolved at
// call time, so a handler that mutates the stack mid-read affects which
// state receives the next message.
func (s *Stack) Dispatch(payload []byte) error {
	top := s.Top()
	if top == nil {
		return nil
	}
	return top.OnMessage(payload)
}

// Close notifies the focused state that it is losing focus and discards the
// whole stack. No dispatch may occur afterward.
func (s *Stack) Close() {
	if top := s.Top(); top != nil {
		s.notifyLoseFocus(top)
	}
	s.states = nil
}

// notifyLoseFocus delivers OnLoseFocus as a best-effort notification,
// recovering and logging any panic so the focus transition completes.
func (s *Stack) notifyLoseFocus(state State) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warnf("state panicked in OnLoseFocus: %v", r)
		}
	}()
	state.OnLoseFocus()
}

// flush notifies the focused state that an outbound write has completed.
func (s *Stack) flush() {
	top := s.Top()
	if top == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warnf("state panicked in OnFlush: %v", r)
		}
	}()
	top.OnFlush()
}

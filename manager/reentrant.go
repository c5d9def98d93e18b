package manager

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// reentrantMutex is an ownership-tagged exclusive lock. The goroutine
// holding it may acquire it again without blocking; every Lock must be
// paired with an Unlock. This exists because a dependency callback fired
// during a load may legitimately re-enter the manager's load path on the
// same goroutine, and a plain mutex would deadlock there.
type reentrantMutex struct {
	inner sync.Mutex
	cond  *sync.Cond
	owner int64
	depth int
}

func newReentrantMutex() *reentrantMutex {
	m := &reentrantMutex{}
	m.cond = sync.NewCond(&m.inner)
	return m
}

func (m *reentrantMutex) Lock() {
	id := goroutineID()

	m.inner.Lock()
	if m.depth > 0 && m.owner == id {
		m.depth++
		m.inner.Unlock()
		return
	}
	for m.depth > 0 {
		m.cond.Wait()
	}
	m.owner = id
	m.depth = 1
	m.inner.Unlock()
}

func (m *reentrantMutex) Unlock() {
	m.inner.Lock()
	defer m.inner.Unlock()

	if m.depth == 0 {
		panic("manager: unlock of unlocked mutex")
	}
	if m.owner != goroutineID() {
		panic("manager: unlock by non-owning goroutine")
	}
	m.depth--
	if m.depth == 0 {
		m.owner = 0
		m.cond.Signal()
	}
}

// goroutineID extracts the current goroutine's id from the stack header
// ("goroutine N [running]:"). The runtime offers no cheaper stable
// identity, and the lock is only taken on load/unload/lookup paths where
// this cost is negligible.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := buf[:n]
	s = bytes.TrimPrefix(s, []byte("goroutine "))
	if i := bytes.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	id, err := strconv.ParseInt(string(s), 10, 64)
	if err != nil {
		panic("manager: unparsable goroutine id: " + string(s))
	}
	return id
}

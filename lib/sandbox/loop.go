package sandbox

import (
	"errors"
	"sort"
	"time"

	"github.com/dop251/goja"
)

// maxLoopTicks bounds how many queued callbacks one acquisition may run.
// A script spinning on intervals cannot pin the process; the timers
// decide the outcome long before this trips in practice.
const maxLoopTicks = 10000

type task struct {
	id       int64
	due      time.Duration
	interval time.Duration
	fn       goja.Callable
	args     []goja.Value
}

// eventLoop is a cooperative, single-goroutine scheduler for the
// setTimeout/setInterval calls the script makes. Delays advance a
// virtual clock instead of sleeping: ordering between callbacks is
// preserved, wall time is not burned, and the Go-side timers stay the
// only real clocks in an acquisition.
type eventLoop struct {
	vm     *goja.Runtime
	tasks  []task
	nextID int64
	now    time.Duration
}

func newEventLoop(vm *goja.Runtime) *eventLoop {
	return &eventLoop{vm: vm}
}

func (l *eventLoop) schedule(call goja.FunctionCall, repeating bool) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		return l.vm.ToValue(0)
	}

	delay := time.Duration(call.Argument(1).ToFloat() * float64(time.Millisecond))
	if delay < 0 {
		delay = 0
	}

	l.nextID++
	t := task{
		id:  l.nextID,
		due: l.now + delay,
		fn:  fn,
	}
	if repeating {
		if delay == 0 {
			delay = time.Millisecond
		}
		t.interval = delay
	}
	if len(call.Arguments) > 2 {
		t.args = call.Arguments[2:]
	}

	l.tasks = append(l.tasks, t)
	return l.vm.ToValue(t.id)
}

func (l *eventLoop) setTimeout(call goja.FunctionCall) goja.Value {
	return l.schedule(call, false)
}

func (l *eventLoop) setInterval(call goja.FunctionCall) goja.Value {
	return l.schedule(call, true)
}

func (l *eventLoop) clear(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	for i, t := range l.tasks {
		if t.id == id {
			l.tasks = append(l.tasks[:i], l.tasks[i+1:]...)
			break
		}
	}
	return goja.Undefined()
}

// drain runs queued callbacks in due order until the queue empties, the
// gate settles, or the tick budget runs out. Callback errors go through
// onError and do not stop the drain; an interrupt from a settled gate
// does.
func (l *eventLoop) drain(g *gate, onError func(error)) {
	for ticks := 0; ticks < maxLoopTicks; ticks++ {
		if g.settled() || len(l.tasks) == 0 {
			return
		}

		sort.SliceStable(l.tasks, func(i, j int) bool {
			if l.tasks[i].due != l.tasks[j].due {
				return l.tasks[i].due < l.tasks[j].due
			}
			return l.tasks[i].id < l.tasks[j].id
		})

		t := l.tasks[0]
		l.tasks = l.tasks[1:]
		l.now = t.due

		if t.interval > 0 {
			next := t
			next.due = l.now + t.interval
			l.tasks = append(l.tasks, next)
		}

		if _, err := t.fn(goja.Undefined(), t.args...); err != nil {
			var interrupted *goja.InterruptedError
			if errors.As(err, &interrupted) {
				return
			}
			onError(err)
		}
	}
}

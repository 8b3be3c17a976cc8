package automation

// Observer receives progress from a running batch. Calls arrive on the batch
// goroutine in the order the events happen. A panicking observer is ignored.
type Observer interface {
	Status(message string)
	Result(index int, row InputRow, result ResultRow)
}

// SessionObserver is an optional extension notified once the session
// baselines have been read from the form.
type SessionObserver interface {
	SessionStarted(session Session)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnStatus  func(message string)
	OnResult  func(index int, row InputRow, result ResultRow)
	OnSession func(session Session)
}

func (f ObserverFuncs) Status(message string) {
	if f.OnStatus != nil {
		f.OnStatus(message)
	}
}

func (f ObserverFuncs) Result(index int, row InputRow, result ResultRow) {
	if f.OnResult != nil {
		f.OnResult(index, row, result)
	}
}

func (f ObserverFuncs) SessionStarted(session Session) {
	if f.OnSession != nil {
		f.OnSession(session)
	}
}

type nopObserver struct{}

func (nopObserver) Status(string)                   {}
func (nopObserver) Result(int, InputRow, ResultRow) {}

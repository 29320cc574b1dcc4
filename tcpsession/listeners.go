package tcpsession

// StateListener observes a session's connection lifecycle. Listener methods
// are called synchronously from the session's goroutines and must not block;
// in particular they must not wait on Session.Done.
type StateListener interface {
	OnConnected(addr string)
	OnDisconnected(addr string)
	OnError(addr string, err error)
}

// MessageListener receives completed text frames.
type MessageListener interface {
	OnMessage(addr string, text string)
	OnError(addr string, err error)
}

// DataListener receives completed binary frames. The slice is owned by the
// listener.
type DataListener interface {
	OnData(addr string, data []byte)
	OnError(addr string, err error)
}

// SendListener is told about every payload written and flushed to the wire.
// description is the text itself for text sends and a short summary for
// binary, file and encoded payloads.
type SendListener interface {
	OnSent(addr string, description string)
}

// Listeners groups the ports wired into a session before its read loop starts.
// Nil members are skipped.
type Listeners struct {
	State   StateListener
	Message MessageListener
	Data    DataListener
	Send    SendListener
}

// StateFuncs adapts functions to StateListener. Nil functions are skipped.
type StateFuncs struct {
	Connected    func(addr string)
	Disconnected func(addr string)
	Error        func(addr string, err error)
}

func (f StateFuncs) OnConnected(addr string) {
	if f.Connected != nil {
		f.Connected(addr)
	}
}

func (f StateFuncs) OnDisconnected(addr string) {
	if f.Disconnected != nil {
		f.Disconnected(addr)
	}
}

func (f StateFuncs) OnError(addr string, err error) {
	if f.Error != nil {
		f.Error(addr, err)
	}
}

// MessageFuncs adapts functions to MessageListener.
type MessageFuncs struct {
	Message func(addr string, text string)
	Error   func(addr string, err error)
}

func (f MessageFuncs) OnMessage(addr string, text string) {
	if f.Message != nil {
		f.Message(addr, text)
	}
}

func (f MessageFuncs) OnError(addr string, err error) {
	if f.Error != nil {
		f.Error(addr, err)
	}
}

// DataFuncs adapts functions to DataListener.
type DataFuncs struct {
	Data  func(addr string, data []byte)
	Error func(addr string, err error)
}

func (f DataFuncs) OnData(addr string, data []byte) {
	if f.Data != nil {
		f.Data(addr, data)
	}
}

func (f DataFuncs) OnError(addr string, err error) {
	if f.Error != nil {
		f.Error(addr, err)
	}
}

// SendFunc adapts a function to SendListener.
type SendFunc func(addr string, description string)

func (f SendFunc) OnSent(addr string, description string) {
	if f != nil {
		f(addr, description)
	}
}

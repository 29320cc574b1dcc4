package tcpserver

// ServerStateListener observes the server lifecycle and its clients. Methods
// are called synchronously from server and session goroutines and must not
// block.
type ServerStateListener interface {
	OnStarted(port int)
	OnStopped()
	OnClientConnected(key string)
	OnClientDisconnected(key string)
	OnClientError(key string, err error)
	OnError(err error)
}

// ServerStateFuncs adapts functions to ServerStateListener. Nil functions are
// skipped.
type ServerStateFuncs struct {
	Started            func(port int)
	Stopped            func()
	ClientConnected    func(key string)
	ClientDisconnected func(key string)
	ClientError        func(key string, err error)
	Error              func(err error)
}

func (f ServerStateFuncs) OnStarted(port int) {
	if f.Started != nil {
		f.Started(port)
	}
}

func (f ServerStateFuncs) OnStopped() {
	if f.Stopped != nil {
		f.Stopped()
	}
}

func (f ServerStateFuncs) OnClientConnected(key string) {
	if f.ClientConnected != nil {
		f.ClientConnected(key)
	}
}

func (f ServerStateFuncs) OnClientDisconnected(key string) {
	if f.ClientDisconnected != nil {
		f.ClientDisconnected(key)
	}
}

func (f ServerStateFuncs) OnClientError(key string, err error) {
	if f.ClientError != nil {
		f.ClientError(key, err)
	}
}

func (f ServerStateFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

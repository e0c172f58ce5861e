package agent

// Poster schedules a function on an event loop. *loop.Loop implements it.
type Poster interface {
	Post(fn func())
}

// WithPoster wraps r so every completion runs as a task posted to p, never on the
// transport's goroutine and never synchronously inside the request call.
func WithPoster(r Remote, p Poster) Remote {
	return &postingRemote{r: r, p: p}
}

type postingRemote struct {
	r Remote
	p Poster
}

func (pr *postingRemote) AddOrChangeBreakpoint(req AddOrChangeBreakpointRequest, cb func(error, AddOrChangeBreakpointReply)) {
	pr.r.AddOrChangeBreakpoint(req, func(err error, reply AddOrChangeBreakpointReply) {
		pr.p.Post(func() { cb(err, reply) })
	})
}

func (pr *postingRemote) RemoveBreakpoint(req RemoveBreakpointRequest, cb func(error, RemoveBreakpointReply)) {
	pr.r.RemoveBreakpoint(req, func(err error, reply RemoveBreakpointReply) {
		pr.p.Post(func() { cb(err, reply) })
	})
}

func (pr *postingRemote) Resume(req ResumeRequest, cb func(error, ResumeReply)) {
	pr.r.Resume(req, func(err error, reply ResumeReply) {
		pr.p.Post(func() { cb(err, reply) })
	})
}

func (pr *postingRemote) ReadRegisters(req ReadRegistersRequest, cb func(error, ReadRegistersReply)) {
	pr.r.ReadRegisters(req, func(err error, reply ReadRegistersReply) {
		pr.p.Post(func() { cb(err, reply) })
	})
}

func (pr *postingRemote) ReadMemory(req ReadMemoryRequest, cb func(error, ReadMemoryReply)) {
	pr.r.ReadMemory(req, func(err error, reply ReadMemoryReply) {
		pr.p.Post(func() { cb(err, reply) })
	})
}

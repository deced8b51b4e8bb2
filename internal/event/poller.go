// Package event wraps epoll into the readiness poller driving the server loop.
package event

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Interest is a bitset of readiness conditions a descriptor is watched for.
type Interest uint32

const (
	Read Interest = 1 << iota
	Write
	Error
	Hup
)

func (in Interest) epollBits() uint32 {
	var bits uint32
	if in&Read != 0 {
		bits |= unix.EPOLLIN
	}
	if in&Write != 0 {
		bits |= unix.EPOLLOUT
	}
	if in&Error != 0 {
		bits |= unix.EPOLLERR
	}
	if in&Hup != 0 {
		bits |= unix.EPOLLHUP
	}
	return bits
}

func fromEpollBits(bits uint32) Interest {
	var in Interest
	if bits&unix.EPOLLIN != 0 {
		in |= Read
	}
	if bits&unix.EPOLLOUT != 0 {
		in |= Write
	}
	if bits&unix.EPOLLERR != 0 {
		in |= Error
	}
	if bits&unix.EPOLLHUP != 0 {
		in |= Hup
	}
	return in
}

// Event is one ready descriptor reported by PollOnce.
type Event struct {
	FD    int
	Ready Interest
}

const pollTimeoutMs = 1000

// Poller multiplexes descriptors over one epoll instance.
type Poller struct {
	epfd    int
	watched map[int]Interest
	events  []unix.EpollEvent
}

// NewPoller creates the epoll instance with close-on-exec set.
func NewPoller() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &Poller{
		epfd:    epfd,
		watched: make(map[int]Interest),
		events:  make([]unix.EpollEvent, 64),
	}, nil
}

// Watch registers fd with the given interest. Registering an fd that is
// already watched is an error.
func (p *Poller) Watch(fd int, in Interest) error {
	if _, ok := p.watched[fd]; ok {
		return fmt.Errorf("poller: fd %d already watched", fd)
	}
	ev := unix.EpollEvent{Events: in.epollBits(), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
	}
	p.watched[fd] = in
	return nil
}

// Update changes the interest mask of a watched fd.
func (p *Poller) Update(fd int, in Interest) error {
	if _, ok := p.watched[fd]; !ok {
		return fmt.Errorf("poller: fd %d not watched", fd)
	}
	ev := unix.EpollEvent{Events: in.epollBits(), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl mod fd %d: %w", fd, err)
	}
	p.watched[fd] = in
	return nil
}

// Unwatch removes fd from the set.
func (p *Poller) Unwatch(fd int) error {
	if _, ok := p.watched[fd]; !ok {
		return fmt.Errorf("poller: fd %d not watched", fd)
	}
	delete(p.watched, fd)
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll_ctl del fd %d: %w", fd, err)
	}
	return nil
}

// Watched reports whether fd is currently registered.
func (p *Poller) Watched(fd int) bool {
	_, ok := p.watched[fd]
	return ok
}

// PollOnce waits up to one second and returns the descriptors that became
// ready. An interrupted wait returns an empty batch so the outer loop can
// re-enter after consulting its run flag.
func (p *Poller) PollOnce() ([]Event, error) {
	n, err := unix.EpollWait(p.epfd, p.events, pollTimeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("epoll_wait: %w", err)
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Event{
			FD:    int(p.events[i].Fd),
			Ready: fromEpollBits(p.events[i].Events),
		})
	}
	return out, nil
}

// Close releases the epoll descriptor.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}

//go:build linux
// +build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor - Linux epoll implementation.

package reactor

import (
	"errors"
	"fmt"

	"github.com/momentics/hioload-relay/api"
	"golang.org/x/sys/unix"
)

// epollPoller implements poller using level-triggered Linux epoll.
type epollPoller struct {
	epfd int
	raw  []unix.EpollEvent
}

// newPoller creates a new epoll instance able to report maxEvents per wait.
func newPoller(maxEvents int) (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &epollPoller{
		epfd: epfd,
		raw:  make([]unix.EpollEvent, maxEvents),
	}, nil
}

func epollEvents(interest api.Interest) uint32 {
	var ev uint32
	if interest&(api.InterestAccept|api.InterestRead) != 0 {
		ev |= unix.EPOLLIN
	}
	if interest&api.InterestRead != 0 {
		ev |= unix.EPOLLRDHUP
	}
	if interest&(api.InterestConnect|api.InterestWrite) != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (p *epollPoller) ctl(op, fd int, interest api.Interest, tag int32) error {
	ev := unix.EpollEvent{
		Events: epollEvents(interest),
		Fd:     int32(fd),
		Pad:    tag,
	}
	return unix.EpollCtl(p.epfd, op, fd, &ev)
}

// add starts watching fd; an fd still known to epoll is modified instead.
func (p *epollPoller) add(fd int, interest api.Interest, tag int32) error {
	err := p.ctl(unix.EPOLL_CTL_ADD, fd, interest, tag)
	if errors.Is(err, unix.EEXIST) {
		err = p.ctl(unix.EPOLL_CTL_MOD, fd, interest, tag)
	}
	if err != nil {
		return fmt.Errorf("epoll ctl add fd %d: %w", fd, err)
	}
	return nil
}

func (p *epollPoller) modify(fd int, interest api.Interest, tag int32) error {
	err := p.ctl(unix.EPOLL_CTL_MOD, fd, interest, tag)
	if errors.Is(err, unix.ENOENT) {
		err = p.ctl(unix.EPOLL_CTL_ADD, fd, interest, tag)
	}
	if err != nil {
		return fmt.Errorf("epoll ctl mod fd %d: %w", fd, err)
	}
	return nil
}

// remove stops watching fd. A closed fd has already left the epoll set.
func (p *epollPoller) remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && !errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EBADF) {
		return fmt.Errorf("epoll ctl del fd %d: %w", fd, err)
	}
	return nil
}

func (p *epollPoller) wait(out []readyEvent, timeoutMs int) (int, error) {
	raw := p.raw
	if len(out) < len(raw) {
		raw = raw[:len(out)]
	}
	n, err := unix.EpollWait(p.epfd, raw, timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil // interrupted by signal: normal
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	for i := 0; i < n; i++ {
		ev := raw[i]
		var ready api.Interest
		if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
			ready |= api.InterestAccept | api.InterestRead
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			ready |= api.InterestConnect | api.InterestWrite
		}
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			ready |= api.InterestAccept | api.InterestConnect | api.InterestRead | api.InterestWrite
		}
		out[i] = readyEvent{fd: int(ev.Fd), tag: ev.Pad, ready: ready}
	}
	return n, nil
}

// close releases the epoll file descriptor.
func (p *epollPoller) close() error {
	return unix.Close(p.epfd)
}

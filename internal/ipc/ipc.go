// Package ipc documents the boundary the core does not implement: the
// message-passing dispatcher that turns kernel IPC requests into calls
// against internal/api, and the block/MTD driver callbacks internal/bd
// consumes.
//
// No reference implementation of Phoenix's own
// message-passing protocol (it isn't FUSE, gRPC, or HTTP), so this package
// carries only the two interfaces that mark the seam: a real dispatcher
// binary wires a transport-specific listener to Dispatcher, and a real
// driver binary implements Device and hands it to bd.New.
package ipc

import "github.com/phoenix-rtos/lfsd/internal/bd"

// Dispatcher is satisfied by whatever process decodes Phoenix's
// message-passing protocol and translates each request into one
// internal/api.API call. A concrete transport binds a listener to it; none
// is implemented here.
type Dispatcher interface {
	Serve() error
	Close() error
}

// Driver is the block/MTD driver boundary internal/bd.Device satisfies;
// restated here as the seam a concrete hardware or loopback-file driver
// binary implements and hands to bd.New.
type Driver = bd.Device

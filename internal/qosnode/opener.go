// File: internal/qosnode/opener.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Opens PM QoS control nodes and writes the requested value.

// Package qosnode opens kernel QoS control nodes. Holding the returned
// descriptor keeps the request active; closing it withdraws the request.
package qosnode

import (
	"encoding/binary"
	"io"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-qos/api"
)

// ValueSize is the width of the value written to a node.
const ValueSize = 4

// Opener is the production api.NodeOpener. It is stateless.
type Opener struct{}

var _ api.NodeOpener = Opener{}

// Open opens path read/write and writes value as a native-endian int32.
// Any descriptor opened before a failing write is closed before returning.
func (Opener) Open(path string, value int32) (int, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, openFailure(path, value, "open", err)
	}

	var buf [ValueSize]byte
	binary.NativeEndian.PutUint32(buf[:], uint32(value))
	n, err := unix.Write(fd, buf[:])
	if err == nil && n != len(buf) {
		err = io.ErrShortWrite
	}
	if err != nil {
		Close(fd)
		return -1, openFailure(path, value, "write", err)
	}
	return fd, nil
}

func openFailure(path string, value int32, op string, err error) error {
	return api.NewError(api.ErrCodeOpenFailure, "qos node "+op+" failed").
		WithContext("path", path).
		WithContext("value", value).
		Wrap(err)
}

// Close closes a descriptor returned by Open.
func Close(fd int) error {
	return unix.Close(fd)
}

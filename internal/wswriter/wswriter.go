// Package wswriter implements an exclusive writer for a websocket
// connection, so that concurrent replies and emits to the same socket
// are serialized into whole frames and never interleave.
package wswriter

import (
	"errors"
	"io"
	"time"

	"github.com/gorilla/websocket"
)

// ErrWriteLockTimeout is returned when a call to Write fails because the
// write lock of the connection cannot be acquired before the timeout.
var ErrWriteLockTimeout = errors.New("wswriter: timed out waiting for write lock")

// Writer is an io.WriteCloser that acquires the connection's write lock
// on the first Write and releases it on Close. The lock is a 1-slot
// channel shared by all writers for the connection.
type Writer struct {
	w            io.WriteCloser
	init         bool
	writeLock    chan struct{}
	lockTimeout  time.Duration
	writeTimeout time.Duration
	wsConn       *websocket.Conn
}

// NewLock returns a write lock channel with its single slot available.
func NewLock() chan struct{} {
	lock := make(chan struct{}, 1)
	lock <- struct{}{}
	return lock
}

// Exclusive creates an exclusive text-message writer for conn. The
// first Write blocks up to acquireTimeout for the lock (zero means wait
// forever); writeTimeout, if non-zero, sets the write deadline.
func Exclusive(conn *websocket.Conn, lock chan struct{}, acquireTimeout, writeTimeout time.Duration) *Writer {
	return &Writer{
		writeLock:    lock,
		lockTimeout:  acquireTimeout,
		writeTimeout: writeTimeout,
		wsConn:       conn,
	}
}

// Write writes part of a text message to the websocket connection. The
// first call acquires the exclusive write lock, returning
// ErrWriteLockTimeout if it cannot do so before the timeout.
func (w *Writer) Write(p []byte) (int, error) {
	if !w.init {
		var wait <-chan time.Time
		if to := w.lockTimeout; to > 0 {
			wait = time.After(to)
		}

		select {
		case <-wait:
			return 0, ErrWriteLockTimeout

		case <-w.writeLock:
			w.init = true
			wc, err := w.wsConn.NextWriter(websocket.TextMessage)
			if err != nil {
				// release the lock, the frame was never started
				w.writeLock <- struct{}{}
				w.init = false
				return 0, err
			}
			w.w = wc
			if to := w.writeTimeout; to > 0 {
				w.wsConn.SetWriteDeadline(time.Now().Add(to))
			}
		}
	}

	return w.w.Write(p)
}

// Close finishes the frame and releases the exclusive write lock. It is
// a no-op if no Write ever succeeded in acquiring the lock.
func (w *Writer) Close() error {
	if !w.init {
		return nil
	}

	var err error
	if w.w != nil {
		err = w.w.Close()
		w.wsConn.SetWriteDeadline(time.Time{})
	}

	w.writeLock <- struct{}{}
	return err
}

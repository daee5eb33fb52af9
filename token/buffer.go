package token

import (
	"sync"
)

// bytePool holds reusable scratch slices for payload JSON and signing input.
var bytePool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 1024)
		return &b
	},
}

// Pooled slices that grew beyond this are dropped instead of kept.
const maxPooledBuffer = 64 << 10

type serializedBuffer struct {
	ptr *[]byte
	buf []byte
}

func acquireBuffer() *serializedBuffer {
	ptr := bytePool.Get().(*[]byte)
	return &serializedBuffer{ptr: ptr, buf: (*ptr)[:0]}
}

func (s *serializedBuffer) Bytes() []byte { return s.buf }

// Detach hands ownership of the underlying slice to the caller without returning it to the pool.
func (s *serializedBuffer) Detach() []byte {
	buf := s.buf
	s.ptr = nil
	return buf
}

// Release zeros the contents, which include the carried token, and returns the buffer to the pool.
func (s *serializedBuffer) Release() {
	if s == nil || s.ptr == nil {
		return
	}
	buf := s.buf
	clear(buf[:cap(buf)])
	if cap(buf) <= maxPooledBuffer {
		*s.ptr = buf[:0]
		bytePool.Put(s.ptr)
	}
	s.ptr = nil
	s.buf = nil
}

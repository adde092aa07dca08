package kv

import "github.com/pkg/errors"

// Argument errors returned synchronously from Store operations.
var (
	// ErrKeyEmpty is returned when a put is attempted with an empty key.
	ErrKeyEmpty = errors.New("key is empty")

	// ErrKeyTooLong is returned when the UTF-8 encoding of a key exceeds
	// 255 bytes.
	ErrKeyTooLong = errors.New("key's length must be less than 256")

	// ErrDataSizeLimit is returned when a write would grow the data
	// region beyond the hard size limit.
	ErrDataSizeLimit = errors.New("data size out of limit")

	// ErrEncoderNil is returned by PutObject when no encoder is given.
	ErrEncoderNil = errors.New("encoder is nil")

	// ErrBadEncoderTag is returned when an encoder advertises an empty
	// tag or a tag longer than 50 bytes.
	ErrBadEncoderTag = errors.New("invalid encoder tag")

	// ErrEncoderUnregistered is returned by PutObject when the encoder's
	// tag was not registered on the builder.
	ErrEncoderUnregistered = errors.New("encoder hasn't been registered")
)

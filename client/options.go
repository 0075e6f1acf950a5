package client

import (
	"log/slog"

	"github.com/alpex29/infinitic/codec"
)

// Option configures a Client.
type Option func(*Client)

// WithCodec sets the envelope encoding. Default: JSON.
func WithCodec(c codec.Codec) Option {
	return func(cl *Client) { cl.codec = c }
}

// WithLogger sets the logger for the client. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

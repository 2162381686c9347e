package record

import (
	"github.com/JonMunkholm/copybook/internal/codec"
)

// DefaultMaxOccurs bounds a depends-on repeat count read from data.
const DefaultMaxOccurs = 1 << 16

type options struct {
	framing       Framing
	header        Header
	allowTrailing bool
	codec         codec.Options
	resolver      *Resolver
	trustCounts   bool
	maxOccurs     int
}

func defaultOptions() options {
	return options{
		framing:   FramingFixed,
		header:    DefaultHeader,
		codec:     codec.DefaultOptions(),
		maxOccurs: DefaultMaxOccurs,
	}
}

// Option configures a Reader or Writer.
type Option func(*options)

// WithFraming selects fixed or length-prefixed framing. h is ignored for
// fixed framing.
func WithFraming(f Framing, h Header) Option {
	return func(o *options) {
		o.framing = f
		o.header = h
	}
}

// WithPrefixedFraming is WithFraming(FramingPrefixed, Header{...}).
func WithPrefixedFraming(width int, includesHeader bool) Option {
	return WithFraming(FramingPrefixed, Header{Width: width, IncludesHeader: includesHeader})
}

// WithAllowTrailing accepts length-prefixed bodies longer than their layout;
// the extra bytes stay in Record.Raw.
func WithAllowTrailing() Option {
	return func(o *options) { o.allowTrailing = true }
}

// WithCodecOptions overrides the sign nibble convention and pad byte.
func WithCodecOptions(c codec.Options) Option {
	return func(o *options) { o.codec = c }
}

// WithResolver shares a resolver, and its cache, between readers.
func WithResolver(r *Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithTrustedCounts makes the Writer encode count and length fields exactly
// as supplied. A value that disagrees with the actual number of repetitions
// or bytes is a *DependencyError instead of being rewritten.
func WithTrustedCounts() Option {
	return func(o *options) { o.trustCounts = true }
}

// WithMaxOccurs bounds repeat counts read from data.
func WithMaxOccurs(n int) Option {
	return func(o *options) { o.maxOccurs = n }
}

package transcoder

// Safety limits to prevent DoS attacks and memory exhaustion.
const (
	DefaultMaxStringSize   = 1 << 30 // bytes per string or bytes value
	DefaultMaxSequenceLen  = 1 << 27 // elements per sequence or map
	DefaultMaxNestingDepth = 128
)

// Limits bounds what a single encode or decode may produce.
type Limits struct {
	MaxStringSize   uint32
	MaxSequenceLen  uint32
	MaxNestingDepth int
}

// DefaultLimits returns the package defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxStringSize:   DefaultMaxStringSize,
		MaxSequenceLen:  DefaultMaxSequenceLen,
		MaxNestingDepth: DefaultMaxNestingDepth,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxStringSize == 0 {
		l.MaxStringSize = d.MaxStringSize
	}
	if l.MaxSequenceLen == 0 {
		l.MaxSequenceLen = d.MaxSequenceLen
	}
	if l.MaxNestingDepth == 0 {
		l.MaxNestingDepth = d.MaxNestingDepth
	}
	return l
}

// Option configures an Encoder or Decoder.
type Option func(*options)

type options struct {
	compiler *Compiler
	limits   Limits
}

// WithLimits overrides the default limits. Zero fields keep defaults.
func WithLimits(l Limits) Option {
	return func(o *options) { o.limits = l }
}

// WithCompiler shares a struct plan cache between codecs.
func WithCompiler(c *Compiler) Option {
	return func(o *options) { o.compiler = c }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	o.limits = o.limits.withDefaults()
	if o.compiler == nil {
		o.compiler = defaultCompiler
	}
	return o
}

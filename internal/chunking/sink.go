package chunking

// Sink is the contract every chunk consumer implements: it observes
// bytes of the chunk currently in progress, and is told when that
// chunk is complete. Implementations report their own running size so
// the driver can query a single authoritative size (on a Composite,
// that's the fan-out's own counter, not any one child's).
type Sink interface {
	ProcessByte(b byte)
	CompleteChunk(hash, fingerprint uint64)
	Size() uint32
}

// Composite fans a single byte stream and completion event out to an
// ordered list of child sinks, in registration order, matching the
// single-interface-plus-composite design called for in place of the
// original's internalProcessByte/internalCompleteChunk template
// method pair.
type Composite struct {
	children []Sink
	size     uint32
}

// NewComposite builds a composite sink forwarding to children in the
// given order.
func NewComposite(children ...Sink) *Composite {
	return &Composite{children: children}
}

// Add registers another child sink, to be forwarded to after every
// sink already registered. Safe to call on the zero Composite value.
func (c *Composite) Add(child Sink) {
	c.children = append(c.children, child)
}

// ProcessByte implements Sink.
func (c *Composite) ProcessByte(b byte) {
	c.size++
	for _, child := range c.children {
		child.ProcessByte(b)
	}
}

// CompleteChunk implements Sink.
func (c *Composite) CompleteChunk(hash, fingerprint uint64) {
	for _, child := range c.children {
		child.CompleteChunk(hash, fingerprint)
	}
	c.size = 0
}

// Size implements Sink.
func (c *Composite) Size() uint32 {
	return c.size
}

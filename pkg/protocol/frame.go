package protocol

// Frame is an outbound event encoded once and fanned out to any number of
// connections
type Frame struct {
	Data      []byte
	Type      EventType
	Droppable bool
}

// NewFrame encodes ev and records its delivery class
func NewFrame(ev Outbound) (Frame, error) {
	data, err := Encode(ev)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Data: data, Type: ev.EventType(), Droppable: Droppable(ev)}, nil
}

// MustFrame is NewFrame for events built from server-side values that
// cannot fail to encode
func MustFrame(ev Outbound) Frame {
	f, err := NewFrame(ev)
	if err != nil {
		panic(err)
	}
	return f
}

package cmnd

import "time"

// State is one decoded command. Decoders fill the fields their payload
// carries and leave the rest zero; the executor of the same module reads them.
type State struct {
	Action  byte   // module letter
	Command uint8  // command digit
	Count   uint32 // duration in seconds
	Sum     uint8  // checksum digit as received
	Channel uint8  // logical channel
	Pin     uint16
	Value   uint16 // percentage, register value or rule trigger value
	Low     uint8
	High    uint8
	Target  byte   // module letter a rule listens on
	Nested  []byte // embedded command, for modules that carry one
}

// Duration returns Count as a time.Duration.
func (s State) Duration() time.Duration {
	return time.Duration(s.Count) * time.Second
}

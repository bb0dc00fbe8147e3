package mqtt

import (
	"strconv"
	"strings"
)

// Topics is the topic layout of one controller.
type Topics struct {
	Commands string
	Debug    string
	System   string
	Presence string
	BinIn    string // prefix, channel number or "state" appended
	Temp     string // prefix, probe index appended
	TempAddr string // prefix, probe index appended
	Analog   string
}

// NewTopics builds the layout under <prefix>/<name>/.
func NewTopics(prefix, name string) Topics {
	base := strings.TrimSuffix(prefix, "/") + "/" + name + "/"
	return Topics{
		Commands: base + "control/commands",
		Debug:    base + "debug",
		System:   base + "system",
		Presence: "devices/state/presence/" + name,
		BinIn:    base + "sensors/bin_in/",
		Temp:     base + "sensors/T/values/",
		TempAddr: base + "sensors/T/addr/",
		Analog:   base + "sensors/A",
	}
}

// BinInChannel returns the topic for binary input ch.
func (t Topics) BinInChannel(ch int) string { return t.BinIn + strconv.Itoa(ch) }

// BinInState returns the topic for the binary input summary.
func (t Topics) BinInState() string { return t.BinIn + "state" }

// TempProbe returns the topic for temperature probe i.
func (t Topics) TempProbe(i int) string { return t.Temp + strconv.Itoa(i) }

// TempAddress returns the topic for the id of temperature probe i.
func (t Topics) TempAddress(i int) string { return t.TempAddr + strconv.Itoa(i) }

// AnalogChannel returns the topic for analog input ch.
func (t Topics) AnalogChannel(ch int) string { return t.Analog + "/" + strconv.Itoa(ch) }

// LatestValue reports whether only the most recent message on topic matters:
// temperature and analog readings and the binary input summary.
func (t Topics) LatestValue(topic string) bool {
	switch {
	case t.Temp != "" && strings.HasPrefix(topic, t.Temp):
		return true
	case t.Analog != "" && strings.HasPrefix(topic, t.Analog+"/"):
		return true
	case t.BinIn != "" && topic == t.BinInState():
		return true
	}
	return false
}

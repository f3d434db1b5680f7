package libvisca

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/icza/bitio"
)

// Command is a finished VISCA body together with the frame type it has to be sent as
type Command struct {
	Name        string
	PayloadType PayloadType
	Payload     []byte
}

func (c Command) String() string {
	return fmt.Sprintf("%s(%s % X)", c.Name, c.PayloadType, c.Payload)
}

// RawCommand wraps arbitrary bytes as a VISCA command
func RawCommand(payload []byte) Command {
	return Command{
		Name:        "raw",
		PayloadType: VISCA_COMMAND,
		Payload:     append([]byte{}, payload...),
	}
}

// ZoomDirection selects which way the lens moves
type ZoomDirection int

const (
	ZoomStop ZoomDirection = iota
	ZoomIn
	ZoomOut
)

func (d ZoomDirection) String() string {
	switch d {
	case ZoomStop:
		return "stop"
	case ZoomIn:
		return "in"
	case ZoomOut:
		return "out"
	}
	return fmt.Sprintf("ZoomDirection(%d)", int(d))
}

// ParseZoomDirection accepts "in", "out" and "stop"
func ParseZoomDirection(direction string) (ZoomDirection, error) {
	switch strings.ToLower(direction) {
	case "in":
		return ZoomIn, nil
	case "out":
		return ZoomOut, nil
	case "stop":
		return ZoomStop, nil
	}
	return ZoomStop, fmt.Errorf("%w: %q", ErrInvalidDirection, direction)
}

// CameraModel describes the command set of a single camera model.
// Reply tables are keyed by the exact payload bytes.
type CameraModel struct {
	Name string

	Commands map[string][]byte
	Controls map[string][]byte

	ControlReplies map[string]ReplyOutcome
	ViscaReplies   map[string]ReplyOutcome

	ZoomPrefix             []byte
	AbsolutePositionPrefix []byte
	RelativePositionPrefix []byte
	PresetPrefix           []byte

	// Speeds are mapped onto [1, MaxPanSpeed] and [1, MaxTiltSpeed]
	MaxPanSpeed  byte
	MaxTiltSpeed byte

	PanMin, PanMax   float64
	TiltMin, TiltMax float64
	StepsPerDegree   float64
}

// SRG300 returns the command reference for the Sony SRG-300H
func SRG300() CameraModel {
	return CameraModel{
		Name: "srg300",
		Commands: map[string][]byte{
			"power_on":      {0x81, 0x01, 0x04, 0x00, 0x02, 0xFF},
			"power_off":     {0x81, 0x01, 0x04, 0x00, 0x03, 0xFF},
			"go_home":       {0x81, 0x01, 0x06, 0x04, 0xFF},
			"go_preset1":    {0x81, 0x01, 0x04, 0x3F, 0x02, 0x00, 0xFF},
			"go_preset2":    {0x81, 0x01, 0x04, 0x3F, 0x02, 0x01, 0xFF},
			"go_preset3":    {0x81, 0x01, 0x04, 0x3F, 0x02, 0x02, 0xFF},
			"go_preset4":    {0x81, 0x01, 0x04, 0x3F, 0x02, 0x03, 0xFF},
			"pan_tilt_stop": {0x81, 0x01, 0x06, 0x01, 0x01, 0x01, 0x03, 0x03, 0xFF},
			"zoom_stop":     {0x81, 0x01, 0x04, 0x07, 0x00, 0xFF},
		},
		Controls: map[string][]byte{
			"reset_sequence": {0x01},
		},
		ControlReplies: map[string]ReplyOutcome{
			"\x01":     Acknowledge,
			"\x0f\x01": SequenceAbnormality,
			"\x0f\x02": MessageAbnormality,
		},
		ViscaReplies: map[string]ReplyOutcome{
			"\x90\x41\xff":     Acknowledge,
			"\x90\x42\xff":     Acknowledge,
			"\x90\x51\xff":     Completion,
			"\x90\x52\xff":     Completion,
			"\x90\x60\x02\xff": MessageAbnormality, // syntax error
			"\x90\x60\x03\xff": Impossible,         // command buffer full
			"\x90\x61\x41\xff": Impossible,         // not executable
			"\x90\x62\x41\xff": Impossible,
		},
		ZoomPrefix:             []byte{0x81, 0x01, 0x04, 0x07},
		AbsolutePositionPrefix: []byte{0x81, 0x01, 0x06, 0x02},
		RelativePositionPrefix: []byte{0x81, 0x01, 0x06, 0x03},
		PresetPrefix:           []byte{0x81, 0x01, 0x04, 0x3F, 0x02},
		MaxPanSpeed:            0x18,
		MaxTiltSpeed:           0x17,
		PanMin:                 -170,
		PanMax:                 170,
		TiltMin:                -20,
		TiltMax:                90,
		StepsPerDegree:         51.2,
	}
}

var models = map[string]func() CameraModel{
	"srg300":   SRG300,
	"srg-300h": SRG300,
}

// LookupModel returns the command reference for a camera model name
func LookupModel(name string) (CameraModel, error) {
	model, ok := models[strings.ToLower(name)]
	if !ok {
		return CameraModel{}, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return model(), nil
}

// Catalog builds command payloads for one camera model
type Catalog struct {
	model CameraModel
}

// NewCatalog creates a catalog from a private copy of the model
func NewCatalog(model CameraModel) *Catalog {
	copied := model
	copied.Commands = copyPayloads(model.Commands)
	copied.Controls = copyPayloads(model.Controls)
	copied.ControlReplies = copyOutcomes(model.ControlReplies)
	copied.ViscaReplies = copyOutcomes(model.ViscaReplies)
	copied.ZoomPrefix = append([]byte{}, model.ZoomPrefix...)
	copied.AbsolutePositionPrefix = append([]byte{}, model.AbsolutePositionPrefix...)
	copied.RelativePositionPrefix = append([]byte{}, model.RelativePositionPrefix...)
	copied.PresetPrefix = append([]byte{}, model.PresetPrefix...)
	return &Catalog{model: copied}
}

func copyPayloads(in map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(in))
	for name, payload := range in {
		out[name] = append([]byte{}, payload...)
	}
	return out
}

func copyOutcomes(in map[string]ReplyOutcome) map[string]ReplyOutcome {
	out := make(map[string]ReplyOutcome, len(in))
	for code, outcome := range in {
		out[code] = outcome
	}
	return out
}

// Model returns the name of the camera model
func (c *Catalog) Model() string {
	return c.model.Name
}

// Command returns a fixed VISCA command by name
func (c *Catalog) Command(name string) (Command, error) {
	payload, ok := c.model.Commands[name]
	if !ok {
		return Command{}, fmt.Errorf("%w: %q for model %s", ErrUnknownCommand, name, c.model.Name)
	}
	return Command{Name: name, PayloadType: VISCA_COMMAND, Payload: append([]byte{}, payload...)}, nil
}

// Control returns a fixed control command by name
func (c *Catalog) Control(name string) (Command, error) {
	payload, ok := c.model.Controls[name]
	if !ok {
		return Command{}, fmt.Errorf("%w: control %q for model %s", ErrUnknownCommand, name, c.model.Name)
	}
	return Command{Name: name, PayloadType: CONTROL_COMMAND, Payload: append([]byte{}, payload...)}, nil
}

// ResetSequence returns the control command that resets the cameras sequence number
func (c *Catalog) ResetSequence() (Command, error) {
	return c.Control("reset_sequence")
}

// Names lists the fixed commands of this catalog in alphabetical order
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.model.Commands))
	for name := range c.model.Commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Preset recalls preset n, counting from 1
func (c *Catalog) Preset(n int) (Command, error) {
	if n < 1 || n > 256 {
		return Command{}, fmt.Errorf("%w: preset %d out of range", ErrUnknownCommand, n)
	}
	payload := append(append([]byte{}, c.model.PresetPrefix...), byte(n-1), Terminator)
	return Command{Name: fmt.Sprintf("go_preset%d", n), PayloadType: VISCA_COMMAND, Payload: payload}, nil
}

// Zoom moves the lens at the cameras standard speed
func (c *Catalog) Zoom(direction ZoomDirection) (Command, error) {
	var code byte
	switch direction {
	case ZoomStop:
		code = 0x00
	case ZoomIn:
		code = 0x02
	case ZoomOut:
		code = 0x03
	default:
		return Command{}, fmt.Errorf("%w: %s", ErrInvalidDirection, direction)
	}
	return c.zoomCommand(direction, code), nil
}

// ZoomWithSpeed moves the lens with a speed between 0.0 and 1.0.
// Direction and speed share a single byte, the speed occupying the low nibble.
func (c *Catalog) ZoomWithSpeed(direction ZoomDirection, speed float64) (Command, error) {
	var code byte
	switch direction {
	case ZoomStop:
		return c.zoomCommand(direction, 0x00), nil
	case ZoomIn:
		code = 0x20
	case ZoomOut:
		code = 0x30
	default:
		return Command{}, fmt.Errorf("%w: %s", ErrInvalidDirection, direction)
	}
	code |= byte(clamp(speed, 0, 1) * 7)
	return c.zoomCommand(direction, code), nil
}

func (c *Catalog) zoomCommand(direction ZoomDirection, code byte) Command {
	payload := append(append([]byte{}, c.model.ZoomPrefix...), code, Terminator)
	return Command{Name: "zoom_" + direction.String(), PayloadType: VISCA_COMMAND, Payload: payload}
}

// AbsolutePosition moves to pan/tilt degrees relative to the cameras zero direction
func (c *Catalog) AbsolutePosition(pan, tilt, speed float64) Command {
	return c.position("absolute_position", c.model.AbsolutePositionPrefix, pan, tilt, speed)
}

// RelativePosition moves by pan/tilt degrees from the current direction
func (c *Catalog) RelativePosition(pan, tilt, speed float64) Command {
	return c.position("relative_position", c.model.RelativePositionPrefix, pan, tilt, speed)
}

func (c *Catalog) position(name string, prefix []byte, pan, tilt, speed float64) Command {
	pan = clamp(pan, c.model.PanMin, c.model.PanMax)
	tilt = clamp(tilt, c.model.TiltMin, c.model.TiltMax)
	speed = clamp(speed, 0, 1)

	panSpeed := byte(math.Round(speed*float64(c.model.MaxPanSpeed-1))) + 1
	tiltSpeed := byte(math.Round(speed*float64(c.model.MaxTiltSpeed-1))) + 1

	payload := append([]byte{}, prefix...)
	payload = append(payload, panSpeed, tiltSpeed)
	payload = append(payload, nibbles(int16(pan*c.model.StepsPerDegree))...)
	payload = append(payload, nibbles(int16(tilt*c.model.StepsPerDegree))...)
	payload = append(payload, Terminator)

	return Command{Name: name, PayloadType: VISCA_COMMAND, Payload: payload}
}

// nibbles spreads a 16 bit value over four bytes, one nibble per byte, most significant first
func nibbles(value int16) []byte {
	raw := make([]byte, 2)
	binary.BigEndian.PutUint16(raw, uint16(value))

	r := bitio.NewReader(bytes.NewReader(raw))
	out := make([]byte, 4)
	for i := range out {
		nibble, err := r.ReadBits(4)
		if err != nil {
			break
		}
		out[i] = byte(nibble)
	}
	return out
}

// clamp limits value to [lower, upper]. NaN is treated as 0.
func clamp(value, lower, upper float64) float64 {
	if math.IsNaN(value) {
		value = 0
	}
	return math.Max(lower, math.Min(upper, value))
}

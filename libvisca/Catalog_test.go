package libvisca

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"testing"
)

func ExampleCatalog_AbsolutePosition() {
	catalog := NewCatalog(SRG300())

	command := catalog.AbsolutePosition(10, 10, 0.5)

	fmt.Printf("% X\n", command.Payload)

	// Output: 81 01 06 02 0D 0C 00 02 00 00 00 02 00 00 FF
}

func TestZoom(t *testing.T) {
	catalog := NewCatalog(SRG300())

	standard := []struct {
		direction ZoomDirection
		want      byte
	}{
		{ZoomIn, 0x02},
		{ZoomOut, 0x03},
		{ZoomStop, 0x00},
	}
	for _, test := range standard {
		command, err := catalog.Zoom(test.direction)
		if err != nil {
			t.Fatalf("Zoom(%s) error = %v", test.direction, err)
		}
		want := []byte{0x81, 0x01, 0x04, 0x07, test.want, 0xFF}
		if !bytes.Equal(command.Payload, want) {
			t.Errorf("Zoom(%s) = % X, want % X", test.direction, command.Payload, want)
		}
	}

	withSpeed := []struct {
		direction ZoomDirection
		speed     float64
		want      byte
	}{
		{ZoomIn, 0.5, 0x23},
		{ZoomOut, 1.0, 0x37},
		{ZoomIn, 0, 0x20},
		{ZoomOut, 0.99, 0x36},
		{ZoomIn, 2.5, 0x27},
		{ZoomOut, -1, 0x30},
		{ZoomStop, 0.7, 0x00},
		{ZoomIn, math.NaN(), 0x20},
		{ZoomOut, math.NaN(), 0x30},
	}
	for _, test := range withSpeed {
		command, err := catalog.ZoomWithSpeed(test.direction, test.speed)
		if err != nil {
			t.Fatalf("ZoomWithSpeed(%s, %v) error = %v", test.direction, test.speed, err)
		}
		want := []byte{0x81, 0x01, 0x04, 0x07, test.want, 0xFF}
		if !bytes.Equal(command.Payload, want) {
			t.Errorf("ZoomWithSpeed(%s, %v) = % X, want % X", test.direction, test.speed, command.Payload, want)
		}
	}

	if _, err := catalog.ZoomWithSpeed(ZoomDirection(9), 0.5); !errors.Is(err, ErrInvalidDirection) {
		t.Errorf("invalid direction error = %v", err)
	}
	if _, err := ParseZoomDirection("sideways"); !errors.Is(err, ErrInvalidDirection) {
		t.Errorf("ParseZoomDirection error = %v", err)
	}
	if direction, err := ParseZoomDirection("OUT"); err != nil || direction != ZoomOut {
		t.Errorf("ParseZoomDirection(OUT) = %s, %v", direction, err)
	}
}

func TestPositionClamping(t *testing.T) {
	catalog := NewCatalog(SRG300())

	tests := []struct {
		name              string
		pan, tilt, speed  float64
		wantSpeeds        []byte
		wantPan, wantTilt []byte
	}{
		{"pan clamped to 170", 200, 0, 1, []byte{0x18, 0x17}, []byte{2, 2, 0, 0}, []byte{0, 0, 0, 0}},
		{"pan clamped to -170", -400, 0, 1, []byte{0x18, 0x17}, []byte{0xD, 0xE, 0, 0}, []byte{0, 0, 0, 0}},
		{"tilt clamped to -20", 0, -50, 0, []byte{0x01, 0x01}, []byte{0, 0, 0, 0}, []byte{0xF, 0xC, 0, 0}},
		{"tilt clamped to 90", 0, 120, 0, []byte{0x01, 0x01}, []byte{0, 0, 0, 0}, []byte{1, 2, 0, 0}},
		{"negative pan", -10, 0, 0.5, []byte{0x0D, 0x0C}, []byte{0xF, 0xE, 0, 0}, []byte{0, 0, 0, 0}},
		{"speed clamped", 0, 0, 3, []byte{0x18, 0x17}, []byte{0, 0, 0, 0}, []byte{0, 0, 0, 0}},
		{"NaN treated as zero", math.NaN(), math.NaN(), math.NaN(), []byte{0x01, 0x01}, []byte{0, 0, 0, 0}, []byte{0, 0, 0, 0}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			for _, command := range []Command{
				catalog.AbsolutePosition(test.pan, test.tilt, test.speed),
				catalog.RelativePosition(test.pan, test.tilt, test.speed),
			} {
				payload := command.Payload
				if len(payload) != 15 {
					t.Fatalf("%s payload length = %d, want 15", command.Name, len(payload))
				}
				if !bytes.Equal(payload[4:6], test.wantSpeeds) {
					t.Errorf("%s speeds = % X, want % X", command.Name, payload[4:6], test.wantSpeeds)
				}
				if !bytes.Equal(payload[6:10], test.wantPan) {
					t.Errorf("%s pan = % X, want % X", command.Name, payload[6:10], test.wantPan)
				}
				if !bytes.Equal(payload[10:14], test.wantTilt) {
					t.Errorf("%s tilt = % X, want % X", command.Name, payload[10:14], test.wantTilt)
				}
				if payload[14] != Terminator {
					t.Errorf("%s not terminated: % X", command.Name, payload)
				}
			}
		})
	}

	absolute := catalog.AbsolutePosition(0, 0, 0)
	relative := catalog.RelativePosition(0, 0, 0)
	if !bytes.Equal(absolute.Payload[:4], []byte{0x81, 0x01, 0x06, 0x02}) {
		t.Errorf("absolute prefix = % X", absolute.Payload[:4])
	}
	if !bytes.Equal(relative.Payload[:4], []byte{0x81, 0x01, 0x06, 0x03}) {
		t.Errorf("relative prefix = % X", relative.Payload[:4])
	}
}

func TestCatalogCommands(t *testing.T) {
	catalog := NewCatalog(SRG300())

	command, err := catalog.Command("power_on")
	if err != nil {
		t.Fatal(err)
	}
	if command.PayloadType != VISCA_COMMAND || !bytes.Equal(command.Payload, []byte{0x81, 0x01, 0x04, 0x00, 0x02, 0xFF}) {
		t.Errorf("power_on = %s", command)
	}

	if _, err := catalog.Command("self_destruct"); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("unknown command error = %v", err)
	}

	reset, err := catalog.ResetSequence()
	if err != nil {
		t.Fatal(err)
	}
	if reset.PayloadType != CONTROL_COMMAND || !bytes.Equal(reset.Payload, []byte{0x01}) {
		t.Errorf("reset_sequence = %s", reset)
	}

	preset, err := catalog.Preset(3)
	if err != nil {
		t.Fatal(err)
	}
	named, _ := catalog.Command("go_preset3")
	if !bytes.Equal(preset.Payload, named.Payload) {
		t.Errorf("Preset(3) = % X, want % X", preset.Payload, named.Payload)
	}
	if _, err := catalog.Preset(0); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Preset(0) error = %v", err)
	}
}

func TestCatalogIsIsolatedFromModel(t *testing.T) {
	model := SRG300()
	catalog := NewCatalog(model)

	model.Commands["power_on"][0] = 0x00
	model.Commands["extra"] = []byte{0xFF}
	model.ControlReplies["\x01"] = Unknown

	command, _ := catalog.Command("power_on")
	if command.Payload[0] != 0x81 {
		t.Errorf("catalog payload changed with model: % X", command.Payload)
	}
	if _, err := catalog.Command("extra"); err == nil {
		t.Error("catalog picked up command added to model")
	}

	command.Payload[0] = 0x00
	again, _ := catalog.Command("power_on")
	if again.Payload[0] != 0x81 {
		t.Error("catalog payload changed through returned command")
	}

	ack := &Message{Header: Header{PayloadType: CONTROL_REPLY}, Payload: []byte{0x01}}
	if outcome := catalog.Classify(ack); outcome != Acknowledge {
		t.Errorf("Classify() = %s after model change", outcome)
	}
}

func TestLookupModel(t *testing.T) {
	model, err := LookupModel("SRG-300H")
	if err != nil || model.Name != "srg300" {
		t.Errorf("LookupModel(SRG-300H) = %s, %v", model.Name, err)
	}
	if _, err := LookupModel("vhs"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("LookupModel(vhs) error = %v", err)
	}
}

package mqtt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dokzlo13/caselightd/internal/light"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string
	Payload []byte
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

type haLight struct {
	Name                   string   `json:"name"`
	UniqueID               string   `json:"unique_id"`
	StateTopic             string   `json:"state_topic"`
	CommandTopic           string   `json:"command_topic"`
	AvailabilityTopic      string   `json:"availability_topic"`
	PayloadOn              string   `json:"payload_on"`
	PayloadOff             string   `json:"payload_off"`
	BrightnessScale        int      `json:"brightness_scale"`
	BrightnessStateTopic   string   `json:"brightness_state_topic"`
	BrightnessCommandTopic string   `json:"brightness_command_topic"`
	OnCommandType          string   `json:"on_command_type"`
	SupportedColorModes    []string `json:"supported_color_modes"`
	Device                 haDevice `json:"device"`
}

type haSelect struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	CommandTopic      string   `json:"command_topic"`
	AvailabilityTopic string   `json:"availability_topic"`
	Options           []string `json:"options"`
	Icon              string   `json:"icon,omitempty"`
	Device            haDevice `json:"device"`
}

// topics holds every topic the bridge uses for one node.
type topics struct {
	availability      string
	state             string
	command           string
	brightnessState   string
	brightnessCommand string
	zoneState         [light.MaxZones]string
	zoneCommand       [light.MaxZones]string
}

func newTopics(prefix, nodeID string) topics {
	base := prefix + "/" + nodeID
	t := topics{
		availability:      base + "/availability",
		state:             base + "/light",
		command:           base + "/light/set",
		brightnessState:   base + "/light/brightness",
		brightnessCommand: base + "/light/brightness/set",
	}
	for i := 0; i < light.MaxZones; i++ {
		t.zoneState[i] = fmt.Sprintf("%s/zone_%d", base, i)
		t.zoneCommand[i] = fmt.Sprintf("%s/zone_%d/set", base, i)
	}
	return t
}

// sanitizeNodeID keeps only characters HA accepts in a node id.
func sanitizeNodeID(id string) string {
	id = strings.ToLower(id)
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, id)
}

// buildDiscovery returns the light entity and one select per zone.
func buildDiscovery(discoveryPrefix, nodeID string, t topics) []discoveryMsg {
	dev := haDevice{
		Identifiers:  []string{"caselightd_" + nodeID},
		Manufacturer: "Dell",
		Model:        "Case light",
		Name:         "Case light " + nodeID,
	}

	msgs := make([]discoveryMsg, 0, 1+light.MaxZones)

	msgs = append(msgs, discoveryMsg{
		Topic: fmt.Sprintf("%s/light/%s/light/config", discoveryPrefix, nodeID),
		Payload: mustJSON(haLight{
			Name:                   "Case light",
			UniqueID:               nodeID + "_light",
			StateTopic:             t.state,
			CommandTopic:           t.command,
			AvailabilityTopic:      t.availability,
			PayloadOn:              "ON",
			PayloadOff:             "OFF",
			BrightnessScale:        light.MaxBrightness,
			BrightnessStateTopic:   t.brightnessState,
			BrightnessCommandTopic: t.brightnessCommand,
			OnCommandType:          "brightness",
			SupportedColorModes:    []string{"brightness"},
			Device:                 dev,
		}),
	})

	names := light.Names()
	for i := 0; i < light.MaxZones; i++ {
		msgs = append(msgs, discoveryMsg{
			Topic: fmt.Sprintf("%s/select/%s/zone_%d/config", discoveryPrefix, nodeID, i),
			Payload: mustJSON(haSelect{
				Name:              fmt.Sprintf("Zone %d color", i),
				UniqueID:          fmt.Sprintf("%s_zone_%d", nodeID, i),
				StateTopic:        t.zoneState[i],
				CommandTopic:      t.zoneCommand[i],
				AvailabilityTopic: t.availability,
				Options:           names,
				Icon:              "mdi:palette",
				Device:            dev,
			}),
		})
	}
	return msgs
}

// parseSwitch interprets an ON/OFF command. ON restores lastOn.
func parseSwitch(payload []byte, lastOn uint8) (uint8, error) {
	switch strings.ToUpper(strings.TrimSpace(string(payload))) {
	case "ON":
		if lastOn == 0 {
			return light.MaxBrightness, nil
		}
		return lastOn, nil
	case "OFF":
		return 0, nil
	default:
		return 0, fmt.Errorf("unknown switch payload %q", payload)
	}
}

// parseBrightness interprets a brightness command on the 0..8 scale. Larger
// values are clamped.
func parseBrightness(payload []byte) (uint8, error) {
	text := strings.TrimSpace(string(payload))
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid brightness %q", text)
	}
	if v > light.MaxBrightness {
		return light.MaxBrightness, nil
	}
	return uint8(v + 0.5), nil
}

func switchState(brightness uint8) string {
	if brightness == 0 {
		return "OFF"
	}
	return "ON"
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

package firmware

// MaxZones is the number of independently colored light segments.
const MaxZones = 4

// MaxBrightness is the highest brightness level the firmware accepts.
const MaxBrightness = 8

// SetLight builds the "set light" request for the given brightness and zone
// color indexes.
//
// With brightness 0 the packed word is zero and the light turns off. Otherwise
// arg1 packs zones 0..2 in its low three bytes and brightness-1 in the top byte.
// The fourth zone always travels alone in arg3.
func SetLight(brightness uint8, zones [MaxZones]uint8) Command {
	cmd := Command{
		Class:    ClassLight,
		Selector: SelectorLight,
	}
	if brightness > 0 {
		cmd.Args[0] = uint32(zones[0]) |
			uint32(zones[1])<<8 |
			uint32(zones[2])<<16 |
			uint32(brightness-1)<<24
	}
	cmd.Args[2] = uint32(zones[3])
	return cmd
}

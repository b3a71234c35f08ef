package hid

import "strings"

// EncodeKeyCombo encodes an xdotool-style chord such as "ctrl+c" or
// "super+shift+Left": the modifier flags are set on the down frame of the
// final key. A name without '+' is the same as EncodeKey.
func EncodeKeyCombo(combo string) (down, up KeyboardFrame, err error) {
	parts := splitCombo(combo)
	if len(parts) == 1 {
		return EncodeKey(parts[0])
	}

	key := parts[len(parts)-1]
	down, up, err = EncodeKey(key)
	if err != nil {
		return KeyboardFrame{}, KeyboardFrame{}, err
	}
	for _, mod := range parts[:len(parts)-1] {
		switch strings.ToLower(mod) {
		case "ctrl", "control", "control_l", "control_r":
			down.Ctrl = 1
		case "shift", "shift_l", "shift_r":
			down.Shift = 1
		case "alt", "alt_l", "alt_r", "option":
			down.Alt = 1
		case "super", "super_l", "super_r", "meta", "cmd", "win":
			down.Meta = 1
		default:
			return KeyboardFrame{}, KeyboardFrame{}, &KeyError{Key: mod}
		}
	}
	return down, up, nil
}

// splitCombo splits a chord on '+'. Empty segments are kept so that
// "ctrl+" fails the key lookup instead of being read as "ctrl".
func splitCombo(combo string) []string {
	if !strings.Contains(combo, "+") {
		return []string{combo}
	}
	return strings.Split(combo, "+")
}

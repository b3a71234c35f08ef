package hid

import (
	"strings"
	"unicode/utf8"
)

// USB HID keyboard usage IDs keyed by upper-cased KeyboardEvent.code names.
var keyCodes = map[string]uint8{
	"KEYA": 0x04, "KEYB": 0x05, "KEYC": 0x06, "KEYD": 0x07, "KEYE": 0x08,
	"KEYF": 0x09, "KEYG": 0x0a, "KEYH": 0x0b, "KEYI": 0x0c, "KEYJ": 0x0d,
	"KEYK": 0x0e, "KEYL": 0x0f, "KEYM": 0x10, "KEYN": 0x11, "KEYO": 0x12,
	"KEYP": 0x13, "KEYQ": 0x14, "KEYR": 0x15, "KEYS": 0x16, "KEYT": 0x17,
	"KEYU": 0x18, "KEYV": 0x19, "KEYW": 0x1a, "KEYX": 0x1b, "KEYY": 0x1c,
	"KEYZ": 0x1d,

	"DIGIT1": 0x1e, "DIGIT2": 0x1f, "DIGIT3": 0x20, "DIGIT4": 0x21, "DIGIT5": 0x22,
	"DIGIT6": 0x23, "DIGIT7": 0x24, "DIGIT8": 0x25, "DIGIT9": 0x26, "DIGIT0": 0x27,

	"ENTER":        0x28,
	"ESCAPE":       0x29,
	"BACKSPACE":    0x2a,
	"TAB":          0x2b,
	"SPACE":        0x2c,
	"MINUS":        0x2d,
	"EQUAL":        0x2e,
	"BRACKETLEFT":  0x2f,
	"BRACKETRIGHT": 0x30,
	"BACKSLASH":    0x31,
	"SEMICOLON":    0x33,
	"QUOTE":        0x34,
	"BACKQUOTE":    0x35,
	"COMMA":        0x36,
	"PERIOD":       0x37,
	"SLASH":        0x38,
	"CAPSLOCK":     0x39,

	"F1": 0x3a, "F2": 0x3b, "F3": 0x3c, "F4": 0x3d, "F5": 0x3e, "F6": 0x3f,
	"F7": 0x40, "F8": 0x41, "F9": 0x42, "F10": 0x43, "F11": 0x44, "F12": 0x45,

	"PRINTSCREEN": 0x46,
	"SCROLLLOCK":  0x47,
	"PAUSE":       0x48,
	"INSERT":      0x49,
	"HOME":        0x4a,
	"PAGEUP":      0x4b,
	"DELETE":      0x4c,
	"END":         0x4d,
	"PAGEDOWN":    0x4e,
	"ARROWRIGHT":  0x4f,
	"ARROWLEFT":   0x50,
	"ARROWDOWN":   0x51,
	"ARROWUP":     0x52,
	"NUMLOCK":     0x53,
	"CONTEXTMENU": 0x65,

	"CONTROLLEFT":  0xe0,
	"SHIFTLEFT":    0xe1,
	"ALTLEFT":      0xe2,
	"METALEFT":     0xe3,
	"CONTROLRIGHT": 0xe4,
	"SHIFTRIGHT":   0xe5,
	"ALTRIGHT":     0xe6,
	"METARIGHT":    0xe7,
}

// xdotool-style names emitted by the computer-use model.
var keyAliases = map[string]string{
	"RETURN":    "ENTER",
	"KP_ENTER":  "ENTER",
	"ESC":       "ESCAPE",
	"BACK":      "BACKSPACE",
	"PAGE_UP":   "PAGEUP",
	"PRIOR":     "PAGEUP",
	"PAGE_DOWN": "PAGEDOWN",
	"NEXT":      "PAGEDOWN",
	"UP":        "ARROWUP",
	"DOWN":      "ARROWDOWN",
	"LEFT":      "ARROWLEFT",
	"RIGHT":     "ARROWRIGHT",
	"PRINT":     "PRINTSCREEN",
	"MENU":      "CONTEXTMENU",
	"CTRL":      "CONTROLLEFT",
	"CONTROL":   "CONTROLLEFT",
	"CONTROL_L": "CONTROLLEFT",
	"CONTROL_R": "CONTROLRIGHT",
	"SHIFT":     "SHIFTLEFT",
	"SHIFT_L":   "SHIFTLEFT",
	"SHIFT_R":   "SHIFTRIGHT",
	"ALT":       "ALTLEFT",
	"ALT_L":     "ALTLEFT",
	"ALT_R":     "ALTRIGHT",
	"SUPER":     "METALEFT",
	"SUPER_L":   "METALEFT",
	"SUPER_R":   "METARIGHT",
	"META":      "METALEFT",
	"CMD":       "METALEFT",
	"WIN":       "METALEFT",
}

// Printable characters produced by an unshifted US-layout key.
var charKeys = map[rune]string{
	' ':  "SPACE",
	'-':  "MINUS",
	'=':  "EQUAL",
	'[':  "BRACKETLEFT",
	']':  "BRACKETRIGHT",
	'\\': "BACKSLASH",
	';':  "SEMICOLON",
	'\'': "QUOTE",
	'`':  "BACKQUOTE",
	',':  "COMMA",
	'.':  "PERIOD",
	'/':  "SLASH",
	'\n': "ENTER",
	'\t': "TAB",
}

// Lookup maps a key name to its scan code. It accepts a bare letter or
// digit ("A", "1"), a KeyboardEvent.code name ("KeyA", "Digit1",
// "ArrowLeft"), a single unshifted punctuation character, or an xdotool
// alias ("Return", "Page_Down"). Matching is case-insensitive.
func Lookup(name string) (uint8, bool) {
	if name == "" {
		return 0, false
	}
	if utf8.RuneCountInString(name) == 1 {
		r, _ := utf8.DecodeRuneInString(name)
		if canon, ok := charKeys[r]; ok {
			return keyCodes[canon], true
		}
	}

	upper := strings.ToUpper(name)
	if code, ok := keyCodes[upper]; ok {
		return code, true
	}
	if code, ok := keyCodes["KEY"+upper]; ok {
		return code, true
	}
	if code, ok := keyCodes["DIGIT"+upper]; ok {
		return code, true
	}
	if canon, ok := keyAliases[upper]; ok {
		return keyCodes[canon], true
	}
	return 0, false
}

// LookupRune maps one typed character to its scan code.
func LookupRune(r rune) (uint8, bool) {
	return Lookup(string(r))
}

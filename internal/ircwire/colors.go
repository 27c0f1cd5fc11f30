package ircwire

import (
	"strconv"
	"strings"
)

// Control codes per the mIRC/RFC de facto standard.
const (
	ctrlBold      = "\x02"
	ctrlColor     = "\x03"
	ctrlItalic    = "\x16" // reverse video; the original predates a dedicated italic control code
	ctrlUnderline = "\x1F"
	ctrlReset     = "\x0F"
)

// colorIndex is the mIRC numeric for each of the 16 named colours the
// outbound API accepts. Unknown names fall back to LIGHTGRAY (15).
var colorIndex = map[string]int{
	"WHITE": 0, "BLACK": 1, "DARKBLUE": 2, "DARKGREEN": 3,
	"RED": 4, "BROWN": 5, "PURPLE": 6, "OLIVE": 7,
	"YELLOW": 8, "GREEN": 9, "TEAL": 10, "CYAN": 11,
	"BLUE": 12, "MAGENTA": 13, "DARKGRAY": 14, "LIGHTGRAY": 15,
}

const defaultColorIndex = 15 // LIGHTGRAY

func colorCode(name string) int {
	if i, ok := colorIndex[strings.ToUpper(name)]; ok {
		return i
	}
	return defaultColorIndex
}

// RewriteColors translates the module-facing colour/style tags —
// [COLOR=FG]…[/COLOR], [COLOR=FG/BG]…[/COLOR], [B]…[/B], [U]…[/U],
// [I]…[/I] — into mIRC control codes, so modules never have to embed raw
// control bytes in the strings they hand to the outbound API.
func RewriteColors(s string) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		tag, rest, consumed := matchTag(s[i:])
		if consumed == 0 {
			b.WriteByte(s[i])
			i++
			continue
		}
		b.WriteString(tag)
		_ = rest
		i += consumed
	}
	return b.String()
}

// matchTag recognizes one opening or closing tag at the start of s and
// returns its control-code replacement plus how many bytes it consumed.
// consumed == 0 means "no tag here".
func matchTag(s string) (replacement string, _ string, consumed int) {
	switch {
	case strings.HasPrefix(s, "[B]"):
		return ctrlBold, s, 3
	case strings.HasPrefix(s, "[/B]"):
		return ctrlBold, s, 4
	case strings.HasPrefix(s, "[U]"):
		return ctrlUnderline, s, 3
	case strings.HasPrefix(s, "[/U]"):
		return ctrlUnderline, s, 4
	case strings.HasPrefix(s, "[I]"):
		return ctrlItalic, s, 3
	case strings.HasPrefix(s, "[/I]"):
		return ctrlItalic, s, 4
	case strings.HasPrefix(s, "[/COLOR]"):
		return ctrlReset, s, 8
	case strings.HasPrefix(s, "[COLOR="):
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return "", s, 0
		}
		spec := s[len("[COLOR="):end]
		fg, bg, hasBg := strings.Cut(spec, "/")
		var code string
		if hasBg {
			code = ctrlColor + strconv.Itoa(colorCode(fg)) + "," + strconv.Itoa(colorCode(bg))
		} else {
			code = ctrlColor + strconv.Itoa(colorCode(fg))
		}
		return code, s, end + 1
	default:
		return "", s, 0
	}
}

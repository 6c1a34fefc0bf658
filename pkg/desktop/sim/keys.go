package sim

import (
	"fmt"
	"strings"
)

var namedKeys = map[string]bool{
	"ENTER": true, "ESC": true, "TAB": true, "DEL": true, "BS": true,
	"UP": true, "DOWN": true, "LEFT": true, "RIGHT": true, "HOME": true, "END": true,
	"F2": true,
}

// ParseKeys splits a key sequence into tokens: "{NAME}" for named keys,
// a modifier prefix (^ ctrl, % alt, + shift) glued to the key it modifies,
// and single runes otherwise. Modifier letters are lower-cased.
func ParseKeys(s string) ([]string, error) {
	var out []string
	rs := []rune(s)
	for i := 0; i < len(rs); {
		mods := ""
		for i < len(rs) && strings.ContainsRune("^%+", rs[i]) {
			mods += string(rs[i])
			i++
		}
		if i >= len(rs) {
			return nil, fmt.Errorf("sim: dangling modifier in %q", s)
		}
		if rs[i] == '{' && i+2 < len(rs) && rs[i+1] == '}' && rs[i+2] == '}' {
			out = append(out, mods+"}")
			i += 3
			continue
		}
		if rs[i] == '{' {
			j := i + 1
			for j < len(rs) && rs[j] != '}' {
				j++
			}
			if j >= len(rs) {
				return nil, fmt.Errorf("sim: unterminated key name in %q", s)
			}
			name := string(rs[i+1 : j])
			switch {
			case len([]rune(name)) == 1:
				out = append(out, mods+name)
			case namedKeys[strings.ToUpper(name)]:
				out = append(out, mods+"{"+strings.ToUpper(name)+"}")
			default:
				return nil, fmt.Errorf("sim: unknown key {%s}", name)
			}
			i = j + 1
			continue
		}
		k := string(rs[i])
		if mods != "" {
			k = mods + strings.ToLower(k)
		}
		out = append(out, k)
		i++
	}
	return out, nil
}

package headers

import (
	"fmt"
	"strings"
)

// keyValParse splits a `key1=val1<sep>key2="v,al2"<sep>key3` style string
// into a key→value map. A value may be double-quoted, in which case the
// separator loses its meaning until the closing quote; a key with no "="
// maps to the empty string (used by bare Transport flags such as
// "unicast").
func keyValParse(s string, separator byte) (map[string]string, error) {
	ret := make(map[string]string)

	i, n := 0, len(s)
	for i < n {
		for i < n && s[i] == ' ' {
			i++
		}
		if i >= n {
			break
		}

		start := i
		for i < n && s[i] != '=' && s[i] != separator {
			i++
		}
		key := strings.TrimSpace(s[start:i])

		var val string
		if i < n && s[i] == '=' {
			i++
			if i < n && s[i] == '"' {
				i++
				vstart := i
				for i < n && s[i] != '"' {
					i++
				}
				if i >= n {
					return nil, fmt.Errorf("apexes not closed (%s)", s)
				}
				val = s[vstart:i]
				i++
			} else {
				vstart := i
				for i < n && s[i] != separator {
					i++
				}
				val = strings.TrimSpace(s[vstart:i])
			}
		}

		if key != "" {
			ret[key] = val
		}

		if i < n && s[i] == separator {
			i++
		}
	}

	return ret, nil
}

// Package text holds small string helpers shared by the ledger and transport.
package text

import "unicode/utf8"

// Truncate 将 s 截断到最多 max 字节，不拆开多字节字符；被截断时追加 "..."。
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

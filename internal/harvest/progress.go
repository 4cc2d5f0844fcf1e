package harvest

import (
	"fmt"
	"strings"
)

const barWidth = 30

// progressBar renders done out of total as a fixed width bar with a count
// and percentage. A total below done is raised to done.
func progressBar(label string, done, total int) string {
	if total < done {
		total = done
	}
	filled, pct := 0, 0
	if total > 0 {
		filled = done * barWidth / total
		pct = done * 100 / total
	}
	return fmt.Sprintf("%s [%s%s] %d/%d (%d%%)",
		label, strings.Repeat("#", filled), strings.Repeat("-", barWidth-filled), done, total, pct)
}

// progressLine describes the run after an item. With a known total the bar
// covers the whole run, otherwise it covers the current page.
func progressLine(expected, globalIndex int, page, pages, pos, count int) string {
	if expected > 0 {
		return progressBar(fmt.Sprintf("Receipts (page %d/%d)", page, pages), globalIndex, expected)
	}
	return progressBar(fmt.Sprintf("Page %d/%d", page, pages), pos, count)
}

package orders

import "fmt"

// PositionMessage renders the buyer-facing line for a queue rank.
func PositionMessage(pos *int) string {
	if pos == nil {
		return ""
	}
	switch *pos {
	case 1:
		return "you'll be attended shortly"
	case 2:
		return "second in line, almost there"
	case 3:
		return "third in line, coming up"
	default:
		return fmt.Sprintf("your queue number: %d", *pos)
	}
}

package logger

import "strings"

// RedactEmail masks a prospect address for safe logging.
// "alice@prospect.com" → "al***@prospect.com"
// Short local parts (≤2 chars) are fully masked: "ab@prospect.com" → "***@prospect.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

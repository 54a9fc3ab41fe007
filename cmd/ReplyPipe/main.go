// Command ReplyPipe answers WhatsApp customer messages with an adaptive set of
// reply strategies.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}

package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// PromptForInstruction asks for a free-text instruction on w and reads one
// line from r. Returns "" on EOF or read failure.
func PromptForInstruction(r io.Reader, w io.Writer, label string) string {
	fmt.Fprintf(w, "%s: ", label)

	input, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && input == "" {
		if err != io.EOF {
			log.Warn().Err(err).Msg("Failed to read input")
		}
		return ""
	}
	return strings.TrimSpace(input)
}

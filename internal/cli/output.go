package cli

import (
	"encoding/json"
	"fmt"
	"io"
)

// printStatus renders the per-kind match outcome. A nil status was not attempted.
func printStatus(w io.Writer, runtime, creation *string, creationError string) {
	fmt.Fprintln(w)
	switch {
	case isStatus(runtime, "perfect") || isStatus(creation, "perfect"):
		fmt.Fprintln(w, "✅ VERIFIED - Perfect match")
		fmt.Fprintln(w, "   Bytecode and metadata hash match the sources exactly")
	case isStatus(runtime, "partial") || isStatus(creation, "partial"):
		fmt.Fprintln(w, "✅ VERIFIED - Partial match")
		fmt.Fprintln(w, "   Executable code matches, but the metadata hash differs")
		fmt.Fprintln(w, "   (This can happen with different source paths or comments)")
	default:
		fmt.Fprintln(w, "❌ NOT VERIFIED - No match")
	}
	fmt.Fprintf(w, "   Runtime:  %s\n", statusText(runtime))
	fmt.Fprintf(w, "   Creation: %s\n", statusText(creation))
	if creationError != "" {
		fmt.Fprintf(w, "   Creation skipped: %s\n", creationError)
	}
}

func isStatus(s *string, want string) bool {
	return s != nil && *s == want
}

func statusText(s *string) string {
	if s == nil {
		return "not attempted"
	}
	return *s
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// truncateAddress shortens an address for table output
func truncateAddress(addr string) string {
	if len(addr) <= 13 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

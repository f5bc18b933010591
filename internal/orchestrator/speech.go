package orchestrator

import "strings"

const fenceOpen = "```json"

// speechFilter removes JSON objects and code fences from streamed text so the
// scheduling payload is never read aloud. State carries across chunks of one
// reply; use a fresh filter per turn and call Flush after the last chunk.
type speechFilter struct {
	depth int
	inStr bool
	esc   bool
	// held is trailing text that may be the start of a fence split across
	// chunks.
	held string
}

func (f *speechFilter) Filter(chunk string) string {
	var out, sb strings.Builder
	for _, r := range chunk {
		if f.depth > 0 {
			if f.inStr {
				switch {
				case f.esc:
					f.esc = false
				case r == '\\':
					f.esc = true
				case r == '"':
					f.inStr = false
				}
				continue
			}
			switch r {
			case '"':
				f.inStr = true
			case '{':
				f.depth++
			case '}':
				f.depth--
			}
			continue
		}
		if r == '{' {
			// A fence cannot span an object, so the text before it is final.
			out.WriteString(stripFences(f.held + sb.String()))
			f.held = ""
			sb.Reset()
			f.depth = 1
			continue
		}
		sb.WriteRune(r)
	}
	text := f.held + sb.String()
	cut := len(text) - partialFence(text)
	f.held = text[cut:]
	out.WriteString(stripFences(text[:cut]))
	return out.String()
}

// Flush returns text held back at the end of the reply.
func (f *speechFilter) Flush() string {
	rest := stripFences(f.held)
	f.held = ""
	return rest
}

func stripFences(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, fenceOpen, ""), "```", "")
}

// partialFence is the length of the longest suffix of s that is a proper
// prefix of "```json", or a bare fence that may still grow into one.
func partialFence(s string) int {
	for n := len(fenceOpen) - 1; n > 0; n-- {
		if strings.HasSuffix(s, fenceOpen[:n]) {
			return n
		}
	}
	return 0
}

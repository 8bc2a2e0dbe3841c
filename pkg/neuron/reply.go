package neuron

import "strings"

// ParsedReply is the structured form of a backend's raw text reply, decoded
// by the line-oriented mini-protocol: a `FORWARD_TO:` line names
// comma-separated downstream unit ids, a `CONTENT:` line carries the
// payload to forward, and a `RESULT:` line marks a terminal answer. RESULT
// always wins over FORWARD_TO when a reply (malformed or not) contains both.
type ParsedReply struct {
	IsResult       bool
	Result         string
	ForwardTo      []string
	Content        string
	ParserConflict bool
}

// ParseReply decodes a raw backend reply per the mini-protocol.
func ParseReply(raw string) ParsedReply {
	var out ParsedReply
	var forwardLine, contentLine, resultLine string
	var sawForward, sawResult bool

	for _, line := range strings.Split(raw, "\n") {
		switch {
		case strings.HasPrefix(line, "FORWARD_TO:"):
			forwardLine = strings.TrimSpace(strings.TrimPrefix(line, "FORWARD_TO:"))
			sawForward = true
		case strings.HasPrefix(line, "CONTENT:"):
			contentLine = strings.TrimSpace(strings.TrimPrefix(line, "CONTENT:"))
		case strings.HasPrefix(line, "RESULT:"):
			resultLine = strings.TrimSpace(strings.TrimPrefix(line, "RESULT:"))
			sawResult = true
		default:
			if sawResult {
				resultLine += "\n" + line
			} else if contentLine != "" || sawForward {
				contentLine += "\n" + line
			}
		}
	}

	if sawResult {
		out.IsResult = true
		out.Result = strings.TrimSpace(resultLine)
		if sawForward {
			out.ParserConflict = true
		}
		return out
	}

	if sawForward {
		for _, unit := range strings.Split(forwardLine, ",") {
			unit = strings.TrimSpace(unit)
			if unit != "" {
				out.ForwardTo = append(out.ForwardTo, unit)
			}
		}
		out.Content = contentLine
		return out
	}

	// No directive matched: treat the whole reply as a terminal result, the
	// same fallback the mock backend's plain echo text relies on.
	out.IsResult = true
	out.Result = strings.TrimSpace(raw)
	return out
}

package convo

import (
	"time"
)

// Compaction is a checkpoint marker written when the producer compacts the
// conversation history.
type Compaction struct {
	Summary   string    `json:"summary,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	Line      int       `json:"line"`
}

// ScanCompactions scans lines at index fromLine and later for compaction
// markers. It returns the detected checkpoints and the line index scanning
// should resume from on the next pass, so a growing file is only ever
// scanned forward.
//
// A trailing line without a newline may still be mid-write and is left for
// the next pass.
func (p *Parser) ScanCompactions(data []byte, fromLine int) ([]Compaction, int) {
	if len(data) == 0 {
		if fromLine < 0 {
			fromLine = 0
		}
		return nil, fromLine
	}

	lines := splitLines(data)

	// The final split element is either the empty string after the last
	// newline or an unterminated line still being written; neither counts
	// as a complete line.
	scannable := len(lines)
	if len(data) > 0 {
		scannable--
	}

	if fromLine < 0 {
		fromLine = 0
	}

	var found []Compaction
	for i := fromLine; i < scannable; i++ {
		rec, ok := parseLine(lines[i])
		if !ok {
			continue
		}

		switch {
		case rec.Type == "system" && rec.Subtype == "compact_boundary":
			summary := flattenResultContent(rec.Content)
			if summary == "" {
				summary = "Conversation compacted"
			}
			found = append(found, Compaction{Summary: summary, Timestamp: rec.when(), Line: i})

		case rec.IsCompactSummary:
			summary := messageText(rec)
			if summary == "" {
				summary = rec.Summary
			}
			found = append(found, Compaction{Summary: summary, Timestamp: rec.when(), Line: i})
		}
	}

	if scannable < fromLine {
		scannable = fromLine
	}
	return found, scannable
}

func messageText(rec rawRecord) string {
	var texts []string
	for _, block := range decodeBlocks(rec.Message.Content) {
		if block.Kind == blockText && block.Text != "" {
			texts = append(texts, block.Text)
		}
	}
	return joinParagraphs(texts)
}

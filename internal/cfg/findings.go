package cfg

import (
	"fmt"

	"github.com/archguard/zeroaudit/internal/finding"
)

// EmitFindings converts one Analyze() result into Finding records per
// spec.md §4.2's verdict paragraph: a NOT_DOMINATING_EXITS finding per exit
// not dominated by any wipe, and a NOT_ON_ALL_PATHS finding per sensitive
// path lacking a wipe.
func EmitFindings(counter *finding.Counter, sourceFile string, result AnalysisResult) []finding.Finding {
	var out []finding.Finding

	for _, pe := range result.Dominator.ProblematicExits {
		detail := fmt.Sprintf("exit node %s (line %d) is not dominated by any wipe operation", pe.ExitNode, pe.Line)
		out = append(out, finding.Finding{
			ID:         counter.Next(),
			Category:   finding.NotDominatingExits,
			Severity:   finding.SeverityHigh,
			Confidence: finding.Likely,
			Location:   finding.Location{File: sourceFile, Line: pe.Line},
			Detail:     detail,
			Evidence:   []finding.Evidence{{Source: finding.SourceCFG, Detail: detail}},
		})
	}

	for _, pp := range result.ProblematicPaths {
		line := 0
		if len(pp.Nodes) > 0 {
			line = pp.Nodes[len(pp.Nodes)-1].Line
		}
		detail := fmt.Sprintf("path %d (%d nodes) touches a sensitive variable but contains no wipe operation", pp.PathID, pp.Length)
		out = append(out, finding.Finding{
			ID:         counter.Next(),
			Category:   finding.NotOnAllPaths,
			Severity:   finding.SeverityHigh,
			Confidence: finding.Likely,
			Location:   finding.Location{File: sourceFile, Line: line},
			Detail:     detail,
			Evidence:   []finding.Evidence{{Source: finding.SourceCFG, Detail: detail}},
		})
	}

	return out
}

// Package cfg implements spec.md §4.2: a control-flow-graph builder for a
// single C/C++-like function plus a dominator analyzer verifying that wipe
// operations dominate every function exit. Ground truth: analyze_cfg.py.
package cfg

import (
	"bufio"
	"os"
	"regexp"
	"strings"

	"github.com/archguard/zeroaudit/internal/sensitive"
)

// NodeType is the closed set of CFG node kinds.
type NodeType string

const (
	NodeEntry     NodeType = "entry"
	NodeExit      NodeType = "exit"
	NodeStatement NodeType = "statement"
	NodeBranch    NodeType = "branch"
	NodeReturn    NodeType = "return"
)

// Node is one CFG node, matching the Python CFGNode dataclass field for
// field.
type Node struct {
	ID              string
	Type            NodeType
	LineNum         int
	Statement       string
	Successors      []string
	Predecessors    []string
	HasWipe         bool
	HasSensitiveVar bool
}

// defaultWipePatterns reproduces analyze_cfg.py's CLI defaults.
var defaultWipePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bexplicit_bzero\s*\(`),
	regexp.MustCompile(`\bmemset_s\s*\(`),
	regexp.MustCompile(`\bOPENSSL_cleanse\s*\(`),
	regexp.MustCompile(`\bsodium_memzero\s*\(`),
	regexp.MustCompile(`\bzeroize\s*\(`),
}

var (
	returnRe = regexp.MustCompile(`^\s*return\b`)
	ifRe     = regexp.MustCompile(`^\s*if\s*\(`)
	elseRe   = regexp.MustCompile(`^\s*else\b`)
)

// Builder constructs one CFG from one source file.
type Builder struct {
	SensitivePatterns []*regexp.Regexp // not consulted: createNode always uses the shared sensitive-name matcher
	WipePatterns      []*regexp.Regexp

	names *sensitive.Matcher

	Nodes     map[string]*Node
	order     []string
	EntryNode string
	ExitNodes map[string]bool
	counter   int
}

// NewBuilder constructs a Builder with the default sensitive/wipe patterns
// unless overridden.
func NewBuilder(wipePatterns []*regexp.Regexp) *Builder {
	if wipePatterns == nil {
		wipePatterns = defaultWipePatterns
	}
	return &Builder{
		WipePatterns: wipePatterns,
		names:        sensitive.NewDefault(nil),
		Nodes:        make(map[string]*Node),
		ExitNodes:    make(map[string]bool),
	}
}

func (b *Builder) createNode(t NodeType, line int, statement string) string {
	id := nodeID(b.counter)
	b.counter++
	n := &Node{ID: id, Type: t, LineNum: line, Statement: statement}
	if statement != "" {
		if b.names.MatchString(statement) {
			n.HasSensitiveVar = true
		}
		for _, p := range b.WipePatterns {
			if p.MatchString(statement) {
				n.HasWipe = true
				break
			}
		}
	}
	b.Nodes[id] = n
	b.order = append(b.order, id)
	return id
}

func nodeID(n int) string {
	return "node_" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	return string(buf)
}

func (b *Builder) addEdge(from, to string) {
	if _, ok := b.Nodes[from]; !ok {
		return
	}
	if _, ok := b.Nodes[to]; !ok {
		return
	}
	b.Nodes[from].Successors = append(b.Nodes[from].Successors, to)
	b.Nodes[to].Predecessors = append(b.Nodes[to].Predecessors, from)
}

type branchFrame struct {
	branchNode string
	mergeNode  string
}

// BuildFromSource parses path with the same simplified brace-scoped
// statement dispatch as CFGBuilder.build_from_source.
func (b *Builder) BuildFromSource(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return err
	}

	b.EntryNode = b.createNode(NodeEntry, 0, "")
	current := b.EntryNode

	inFunction := false
	braceDepth := 0
	var branchStack []branchFrame

	for i, line := range lines {
		lineNum := i + 1
		stripped := strings.TrimSpace(line)

		if stripped == "" || strings.HasPrefix(stripped, "//") || strings.HasPrefix(stripped, "/*") {
			continue
		}

		if strings.Contains(line, "{") && !inFunction {
			inFunction = true
			braceDepth = strings.Count(line, "{")
			continue
		}

		if !inFunction {
			continue
		}

		braceDepth += strings.Count(line, "{") - strings.Count(line, "}")

		if braceDepth == 0 {
			inFunction = false
			exitNode := b.createNode(NodeExit, lineNum, "")
			b.addEdge(current, exitNode)
			b.ExitNodes[exitNode] = true
			continue
		}

		if returnRe.MatchString(stripped) {
			returnNode := b.createNode(NodeReturn, lineNum, stripped)
			b.addEdge(current, returnNode)
			exitNode := b.createNode(NodeExit, lineNum, "")
			b.addEdge(returnNode, exitNode)
			b.ExitNodes[exitNode] = true
			current = returnNode
			continue
		}

		if ifRe.MatchString(stripped) {
			branchNode := b.createNode(NodeBranch, lineNum, stripped)
			b.addEdge(current, branchNode)

			mergeNode := b.createNode(NodeStatement, lineNum, "// merge point")
			branchStack = append(branchStack, branchFrame{branchNode: branchNode, mergeNode: mergeNode})

			trueNode := b.createNode(NodeStatement, lineNum, "// true branch")
			b.addEdge(branchNode, trueNode)
			current = trueNode
			continue
		}

		if elseRe.MatchString(stripped) {
			if len(branchStack) > 0 {
				top := branchStack[len(branchStack)-1]
				falseNode := b.createNode(NodeStatement, lineNum, "// false branch")
				b.addEdge(top.branchNode, falseNode)
				b.addEdge(current, top.mergeNode)
				current = falseNode
			}
			continue
		}

		if stripped == "}" && len(branchStack) > 0 {
			top := branchStack[len(branchStack)-1]
			branchStack = branchStack[:len(branchStack)-1]
			b.addEdge(current, top.mergeNode)
			current = top.mergeNode
			continue
		}

		stmtNode := b.createNode(NodeStatement, lineNum, stripped)
		b.addEdge(current, stmtNode)
		current = stmtNode
	}

	if len(b.ExitNodes) == 0 {
		exitNode := b.createNode(NodeExit, 0, "")
		b.addEdge(current, exitNode)
		b.ExitNodes[exitNode] = true
	}

	return nil
}

// FindAllPathsToExit performs the per-path-cloned-visited-set DFS from
// analyze_cfg.py's find_all_paths_to_exit.
func (b *Builder) FindAllPathsToExit() [][]string {
	if b.EntryNode == "" {
		return nil
	}

	var allPaths [][]string

	var dfs func(nodeID string, path []string, visited map[string]bool)
	dfs = func(nodeID string, path []string, visited map[string]bool) {
		if visited[nodeID] {
			return
		}
		visited[nodeID] = true
		path = append(path, nodeID)

		if b.ExitNodes[nodeID] {
			cp := make([]string, len(path))
			copy(cp, path)
			allPaths = append(allPaths, cp)
			return
		}

		for _, succ := range b.Nodes[nodeID].Successors {
			clone := make(map[string]bool, len(visited))
			for k, v := range visited {
				clone[k] = v
			}
			dfs(succ, path, clone)
		}
	}

	dfs(b.EntryNode, nil, make(map[string]bool))
	return allPaths
}

// CheckPathHasWipe reports whether any node along path has a wipe.
func (b *Builder) CheckPathHasWipe(path []string) (bool, string) {
	for _, id := range path {
		if b.Nodes[id].HasWipe {
			return true, id
		}
	}
	return false, ""
}

// CheckPathHasSensitiveVar reports whether any node along path touches a
// sensitive variable.
func (b *Builder) CheckPathHasSensitiveVar(path []string) bool {
	for _, id := range path {
		if b.Nodes[id].HasSensitiveVar {
			return true
		}
	}
	return false
}

// ComputeDominators runs the standard iterative fixpoint from
// compute_dominators: Dom(entry)={entry}; unreachable nodes start as and
// remain the universe.
func (b *Builder) ComputeDominators() map[string]map[string]bool {
	if b.EntryNode == "" {
		return nil
	}

	allNodes := make([]string, 0, len(b.Nodes))
	for id := range b.Nodes {
		allNodes = append(allNodes, id)
	}

	dominators := make(map[string]map[string]bool, len(allNodes))
	universe := make(map[string]bool, len(allNodes))
	for _, id := range allNodes {
		universe[id] = true
	}

	dominators[b.EntryNode] = map[string]bool{b.EntryNode: true}
	for _, id := range allNodes {
		if id != b.EntryNode {
			cp := make(map[string]bool, len(universe))
			for k := range universe {
				cp[k] = true
			}
			dominators[id] = cp
		}
	}

	changed := true
	for changed {
		changed = false
		for _, id := range allNodes {
			if id == b.EntryNode {
				continue
			}
			preds := b.Nodes[id].Predecessors
			if len(preds) == 0 {
				continue
			}
			newDom := map[string]bool{id: true}
			if len(preds) > 0 {
				inter := dominators[preds[0]]
				interSet := make(map[string]bool, len(inter))
				for k := range inter {
					interSet[k] = true
				}
				for _, p := range preds[1:] {
					for k := range interSet {
						if !dominators[p][k] {
							delete(interSet, k)
						}
					}
				}
				for k := range interSet {
					newDom[k] = true
				}
			}
			if !setsEqual(newDom, dominators[id]) {
				dominators[id] = newDom
				changed = true
			}
		}
	}

	return dominators
}

func setsEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// ProblematicExit names one exit not dominated by any wipe node.
type ProblematicExit struct {
	ExitNode   string
	Line       int
	Dominators []string
}

// DominatorResult mirrors verify_wipe_dominates_exits's return shape.
type DominatorResult struct {
	WipeDominatesAllExits bool
	WipeNodes             []string
	ProblematicExits      []ProblematicExit
}

// VerifyWipeDominatesExits checks that some wipe node dominates every exit.
func (b *Builder) VerifyWipeDominatesExits() DominatorResult {
	dominators := b.ComputeDominators()

	var wipeNodes []string
	for _, id := range b.order {
		if b.Nodes[id].HasWipe {
			wipeNodes = append(wipeNodes, id)
		}
	}

	result := DominatorResult{WipeDominatesAllExits: true, WipeNodes: wipeNodes}

	var exitIDs []string
	for id := range b.ExitNodes {
		exitIDs = append(exitIDs, id)
	}
	sortStrings(exitIDs)

	for _, exitID := range exitIDs {
		exitDoms := dominators[exitID]
		hasDominatingWipe := false
		for _, w := range wipeNodes {
			if exitDoms[w] {
				hasDominatingWipe = true
				break
			}
		}
		if !hasDominatingWipe {
			result.WipeDominatesAllExits = false
			var domList []string
			for k := range exitDoms {
				domList = append(domList, k)
			}
			sortStrings(domList)
			result.ProblematicExits = append(result.ProblematicExits, ProblematicExit{
				ExitNode:   exitID,
				Line:       b.Nodes[exitID].LineNum,
				Dominators: domList,
			})
		}
	}

	return result
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// ProblematicPath is a sensitive path with no wipe, for the analysis
// report's problematic_paths field.
type ProblematicPath struct {
	PathID int
	Length int
	Nodes  []PathNode
}

// PathNode is one {id,line,statement} entry of a problematic path.
type PathNode struct {
	ID        string
	Line      int
	Statement string
}

// AnalysisResult mirrors CFGBuilder.analyze()'s result dict.
type AnalysisResult struct {
	TotalNodes           int
	TotalPaths           int
	ExitNodeCount         int
	PathsWithWipe         int
	PathsWithoutWipe      int
	PathsWithSensitiveVar int
	CoveragePercentage    float64
	ProblematicPaths      []ProblematicPath
	Dominator             DominatorResult
}

// Analyze aggregates path enumeration and dominator analysis into one
// result, mirroring CFGBuilder.analyze().
func (b *Builder) Analyze() AnalysisResult {
	allPaths := b.FindAllPathsToExit()

	pathsWithWipe := 0
	var problematic []ProblematicPath
	pathsWithSensitive := 0

	for i, path := range allPaths {
		hasWipe, _ := b.CheckPathHasWipe(path)
		hasSensitive := b.CheckPathHasSensitiveVar(path)

		if hasWipe {
			pathsWithWipe++
		} else if hasSensitive {
			var nodes []PathNode
			for _, id := range path {
				nodes = append(nodes, PathNode{ID: id, Line: b.Nodes[id].LineNum, Statement: b.Nodes[id].Statement})
			}
			problematic = append(problematic, ProblematicPath{PathID: i, Length: len(path), Nodes: nodes})
		}

		if hasSensitive {
			pathsWithSensitive++
		}
	}

	coverage := 0.0
	if len(allPaths) > 0 {
		coverage = float64(pathsWithWipe) / float64(len(allPaths)) * 100
	}

	return AnalysisResult{
		TotalNodes:            len(b.Nodes),
		TotalPaths:            len(allPaths),
		ExitNodeCount:         len(b.ExitNodes),
		PathsWithWipe:         pathsWithWipe,
		PathsWithoutWipe:      len(problematic),
		PathsWithSensitiveVar: pathsWithSensitive,
		CoveragePercentage:    coverage,
		ProblematicPaths:      problematic,
		Dominator:             b.VerifyWipeDominatesExits(),
	}
}

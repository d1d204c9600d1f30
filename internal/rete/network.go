package rete

// RefKind distinguishes the two node arenas.
type RefKind uint8

const (
	RefAlpha RefKind = iota
	RefBeta
)

// NodeRef addresses a node in a network's arenas by index.
type NodeRef struct {
	Kind  RefKind
	Index int
}

// AlphaNode evaluates one canonical leaf predicate.
type AlphaNode struct {
	Key       Key
	Predicate *Predicate
	// Dependents holds the ascending indices of terminals that reach this node.
	Dependents []int
}

// BetaNode combines its children with AND or OR.
type BetaNode struct {
	Key        Key
	Op         GroupOp
	Children   []NodeRef
	Dependents []int
}

// Terminal is the per-rule endpoint of the network.
type Terminal struct {
	Index     int
	RuleID    string
	Name      string
	Group     string
	Priority  int
	Action    Action
	Root      NodeRef
	RootKey   Key
	Condition Condition
}

// NetworkStats describes the sharing achieved by a compilation.
type NetworkStats struct {
	AlphaNodes      int `json:"alpha_nodes"`
	BetaNodes       int `json:"beta_nodes"`
	TerminalNodes   int `json:"terminal_nodes"`
	SharedAlphaRefs int `json:"shared_conditions"`
	SharedBetaRefs  int `json:"shared_groups"`
}

// Network is an immutable compiled rule network. All slices are owned by the
// network and must be treated as read-only by callers.
type Network struct {
	alphas    []AlphaNode
	betas     []BetaNode
	terminals []Terminal
	agenda    []int
	byRule    map[string]int
	stats     NetworkStats
}

// EmptyNetwork returns a network with no rules.
func EmptyNetwork() *Network {
	return &Network{byRule: map[string]int{}}
}

func (n *Network) Alphas() []AlphaNode { return n.alphas }

func (n *Network) Betas() []BetaNode { return n.betas }

// Terminals returns terminals in compilation (input) order.
func (n *Network) Terminals() []Terminal { return n.terminals }

// Terminal looks up the terminal of a rule.
func (n *Network) Terminal(ruleID string) (*Terminal, bool) {
	i, ok := n.byRule[ruleID]
	if !ok {
		return nil, false
	}
	return &n.terminals[i], true
}

// Stats returns node counts and sharing figures.
func (n *Network) Stats() NetworkStats { return n.stats }

// Dependents returns the terminal indices reaching a node.
func (n *Network) Dependents(ref NodeRef) []int {
	if ref.Kind == RefAlpha {
		return n.alphas[ref.Index].Dependents
	}
	return n.betas[ref.Index].Dependents
}

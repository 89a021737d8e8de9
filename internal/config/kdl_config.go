package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// LoadKDL loads .testrunner.kdl from projectRoot, if present. Returns nil,
// nil when no config file exists so callers fall back to defaults.
func LoadKDL(projectRoot string) (*Config, error) {
	kdlPath := filepath.Join(projectRoot, ".testrunner.kdl")
	if _, err := os.Stat(kdlPath); os.IsNotExist(err) {
		return nil, nil
	}

	content, err := os.ReadFile(kdlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read .testrunner.kdl: %w", err)
	}
	return parseKDL(string(content))
}

func parseKDL(content string) (*Config, error) {
	cfg := &Config{}

	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse KDL config: %w", err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "scan":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "roots":
					cfg.Scan.Roots = collectStringArgs(cn)
				case "include":
					cfg.Scan.Include = collectStringArgs(cn)
				case "exclude":
					cfg.Scan.Exclude = collectStringArgs(cn)
				case "follow_symlinks":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Scan.FollowSymlinks = b
					}
				}
			}
		case "cache":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "path":
					if s, ok := firstStringArg(cn); ok {
						cfg.Cache.Path = s
					}
				case "disable":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Cache.Disable = b
					}
				}
			}
		case "strategy":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "embedded_max_tests":
					if i, ok := firstIntArg(cn); ok {
						cfg.Strategy.EmbeddedMaxTests = i
					}
				case "warm_workers_max_tests":
					if i, ok := firstIntArg(cn); ok {
						cfg.Strategy.WarmWorkersMaxTests = i
					}
				case "warm_worker_count":
					if i, ok := firstIntArg(cn); ok {
						cfg.Strategy.WarmWorkerCount = i
					}
				case "parallel_worker_count":
					if i, ok := firstIntArg(cn); ok {
						cfg.Strategy.ParallelWorkerCount = i
					}
				case "force":
					if s, ok := firstStringArg(cn); ok {
						cfg.Strategy.Force = s
					}
				}
			}
		case "run":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "fail_fast":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Run.FailFast = b
					}
				case "timeout_per_test":
					if i, ok := firstIntArg(cn); ok {
						cfg.Run.TimeoutPerTest = i
					}
				case "cancel_grace_sec":
					if i, ok := firstIntArg(cn); ok {
						cfg.Run.CancelGraceSec = i
					}
				}
			}
		}
	}

	return cfg, nil
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i, true
		}
	}
	return 0, false
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	if b, ok := n.Arguments[0].Value.(bool); ok {
		return b, true
	}
	return false, false
}

func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 && len(n.Children) > 0 {
		out = make([]string, 0, len(n.Children))
		for _, child := range n.Children {
			if s, ok := firstStringArg(child); ok {
				out = append(out, s)
			} else if child.Name != nil {
				if s, ok := child.Name.Value.(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

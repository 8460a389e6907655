package orchestration

import (
	"errors"
	"testing"

	"github.com/toolmesh/toolmesh/core"
)

func simpleChain(name string) *ToolChain {
	return NewChain(name, "").AddStep(ChainStep{ToolName: name + "_tool"})
}

func TestRouterRegisterAndGet(t *testing.T) {
	router := NewToolChainRouter(nil)

	if err := router.RegisterChain(simpleChain("a"), []string{"alpha"}); err != nil {
		t.Fatalf("RegisterChain failed: %v", err)
	}
	if _, ok := router.GetChain("a"); !ok {
		t.Error("Expected registered chain to be retrievable")
	}
	if _, ok := router.GetChain("nope"); ok {
		t.Error("Expected miss for unknown chain")
	}
	if router.Size() != 1 {
		t.Errorf("Expected size 1, got %d", router.Size())
	}
}

func TestRouterRejectsDuplicates(t *testing.T) {
	router := NewToolChainRouter(nil)
	_ = router.RegisterChain(simpleChain("dup"), nil)

	err := router.RegisterChain(simpleChain("dup"), nil)
	if !errors.Is(err, core.ErrAlreadyRegistered) {
		t.Errorf("Expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestRouterRejectsInvalidChain(t *testing.T) {
	router := NewToolChainRouter(nil)
	if err := router.RegisterChain(NewChain("", ""), nil); err == nil {
		t.Error("Expected validation error for unnamed chain")
	}
}

func TestRouterFindChainLongestKeywordWins(t *testing.T) {
	router := NewToolChainRouter(nil)
	_ = router.RegisterChain(simpleChain("generic"), []string{"report"})
	_ = router.RegisterChain(simpleChain("specific"), []string{"quarterly report"})

	got := router.FindChain("Please prepare the quarterly report for Q3")
	if got == nil || got.Name != "specific" {
		t.Errorf("Expected longest keyword to win, got %v", got)
	}

	got = router.FindChain("just a report please")
	if got == nil || got.Name != "generic" {
		t.Errorf("Expected generic chain, got %v", got)
	}
}

func TestRouterFindChainTieKeepsFirstRegistered(t *testing.T) {
	router := NewToolChainRouter(nil)
	_ = router.RegisterChain(simpleChain("first"), []string{"hello"})
	_ = router.RegisterChain(simpleChain("second"), []string{"world"})

	// both keywords are length 5; first registration wins
	got := router.FindChain("hello world")
	if got == nil || got.Name != "first" {
		t.Errorf("Expected tie to keep first-registered chain, got %v", got)
	}
}

func TestRouterFindChainCaseInsensitive(t *testing.T) {
	router := NewToolChainRouter(nil)
	_ = router.RegisterChain(simpleChain("r"), []string{"Research"})

	if got := router.FindChain("RESEARCH the market"); got == nil {
		t.Error("Expected case-insensitive keyword match")
	}
}

func TestRouterFindChainNoMatch(t *testing.T) {
	router := NewToolChainRouter(nil)
	_ = router.RegisterChain(simpleChain("r"), []string{"research"})

	if got := router.FindChain("completely unrelated request"); got != nil {
		t.Errorf("Expected nil for no keyword match, got %v", got)
	}
}

func TestRouterListChainsSorted(t *testing.T) {
	router := NewToolChainRouter(nil)
	_ = router.RegisterChain(simpleChain("zeta"), nil)
	_ = router.RegisterChain(simpleChain("alpha"), nil)

	got := router.ListChains()
	if len(got) != 2 || got[0] != "alpha" || got[1] != "zeta" {
		t.Errorf("Expected sorted chain names, got %v", got)
	}
}

func TestRouterDefaults(t *testing.T) {
	router := NewToolChainRouter(nil)
	router.RegisterDefaults()

	if router.Size() == 0 {
		t.Fatal("Expected default chains to register")
	}
	got := router.FindChain("please research the golang scheduler")
	if got == nil || got.Name != "research_summarize" {
		t.Errorf("Expected research request to route to research_summarize, got %v", got)
	}
	got = router.FindChain("build the quarterly revenue overview")
	if got == nil || got.Name != "finance_report" {
		t.Errorf("Expected finance request to route to finance_report, got %v", got)
	}
}

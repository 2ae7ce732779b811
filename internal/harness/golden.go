package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RenderTrace renders a result as the text stored in golden files: one line
// per trace event followed by the final state of every post.
func RenderTrace(name string, r *Result) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "scenario %s\n", name)
	for _, ev := range r.Trace {
		fmt.Fprintf(&buf, "%d step=%d %s %s\n", ev.Seq, ev.Step, ev.Type, ev.Detail)
	}
	for _, p := range r.Posts {
		fmt.Fprintf(&buf, "post %s likes=%d recasts=%d comments=%d liked=%t recast=%t\n",
			p.ID, p.Likes, p.Recasts, p.Comments, p.Liked, p.Recast)
	}
	return buf.Bytes()
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, RenderTrace(name, result))
}

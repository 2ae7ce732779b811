package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/feedsync/internal/model"
	"github.com/roach88/feedsync/internal/ranking"
	"github.com/roach88/feedsync/internal/remote"
	"github.com/roach88/feedsync/internal/stories"
)

// DefaultNow is the virtual start time of scenarios that do not set one.
var DefaultNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Scenario defines a synchronization scenario: a seeded backend, a sequence
// of steps and the assertions that must hold afterwards.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Viewer is the signed-in user. Intents default to acting as the viewer.
	Viewer string `yaml:"viewer"`

	// Now is the virtual clock's start. Zero uses DefaultNow.
	Now time.Time `yaml:"now,omitempty"`

	// Retention is the story retention policy, soft when empty.
	Retention string `yaml:"retention,omitempty"`

	// Seed is the backend state the engine starts from.
	Seed Seed `yaml:"seed"`

	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Seed is the initial backend state. Ages are relative to the scenario's now.
type Seed struct {
	Users   []SeedUser  `yaml:"users,omitempty"`
	Posts   []SeedPost  `yaml:"posts,omitempty"`
	Stories []SeedStory `yaml:"stories,omitempty"`

	// Follows are "<follower>:<followee>" edges.
	Follows []string `yaml:"follows,omitempty"`

	// Flags are "<kind>:<user>:<post>" interaction flags.
	Flags []string `yaml:"flags,omitempty"`
}

type SeedUser struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
	Handle      string `yaml:"handle"`
}

type SeedPost struct {
	ID       string        `yaml:"id"`
	Author   string        `yaml:"author"`
	Text     string        `yaml:"text"`
	Likes    int64         `yaml:"likes,omitempty"`
	Recasts  int64         `yaml:"recasts,omitempty"`
	Comments int64         `yaml:"comments,omitempty"`
	Age      time.Duration `yaml:"age,omitempty"`
}

type SeedStory struct {
	ID     string        `yaml:"id"`
	Author string        `yaml:"author"`
	Media  string        `yaml:"media"`
	Age    time.Duration `yaml:"age,omitempty"`
	TTL    time.Duration `yaml:"ttl,omitempty"`
}

// Step is one scenario action. Exactly one of Intent, Resolve, Event,
// Advance and Reconcile is set.
type Step struct {
	Intent    *IntentStep   `yaml:"intent,omitempty"`
	Resolve   *ResolveStep  `yaml:"resolve,omitempty"`
	Event     *EventStep    `yaml:"event,omitempty"`
	Advance   time.Duration `yaml:"advance,omitempty"`
	Reconcile bool          `yaml:"reconcile,omitempty"`

	// Assert is evaluated right after the action.
	Assert []Assertion `yaml:"assert,omitempty"`
}

// IntentStep submits a user action.
type IntentStep struct {
	Type string `yaml:"type"`

	// User acts; empty means the scenario viewer.
	User string `yaml:"user,omitempty"`

	// Post targets flags and comments.
	Post string `yaml:"post,omitempty"`

	// Target is the followee of follow and unfollow.
	Target string `yaml:"target,omitempty"`

	Text string `yaml:"text,omitempty"`

	// TextLength generates Text of that many characters when Text is empty.
	TextLength int      `yaml:"text_length,omitempty"`
	Media      []string `yaml:"media,omitempty"`

	DisplayName *string   `yaml:"display_name,omitempty"`
	Bio         *string   `yaml:"bio,omitempty"`
	Links       *[]string `yaml:"links,omitempty"`

	// Reject is the validation code the intent must fail with.
	Reject string `yaml:"reject,omitempty"`
}

// ResolveStep completes a dispatched mutation.
type ResolveStep struct {
	Mutation string `yaml:"mutation"`
	Outcome  string `yaml:"outcome"`

	// Error is unavailable, unauthorized or rejected. Used by outcome fail.
	Error string `yaml:"error,omitempty"`
}

// EventStep is a server-side change delivered on the stream.
type EventStep struct {
	Kind   string         `yaml:"kind"`
	Type   string         `yaml:"type"`
	ID     string         `yaml:"id"`
	Rev    int64          `yaml:"rev,omitempty"`
	Fields map[string]any `yaml:"fields,omitempty"`
}

// Assertion validates the trace or the engine's published state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// ID is the post checked by post assertions.
	ID string `yaml:"id,omitempty"`

	// Expect is the subset of post properties a post assertion checks.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Mode and Search select the feed a feed assertion ranks.
	Mode   string `yaml:"mode,omitempty"`
	Search string `yaml:"search,omitempty"`

	// IDs is the expected order of a feed or stories assertion.
	IDs []string `yaml:"ids,omitempty"`

	// Event and Contains select trace events. Contains matches a substring
	// of the event detail.
	Event    string `yaml:"event,omitempty"`
	Contains string `yaml:"contains,omitempty"`

	// Count is used by pending and trace_count.
	Count int `yaml:"count,omitempty"`

	// Events is the expected order of trace_order, as "<event> <contains>".
	Events []string `yaml:"events,omitempty"`
}

// Assertion type constants.
const (
	AssertPost          = "post"
	AssertFeed          = "feed"
	AssertStories       = "stories"
	AssertPending       = "pending"
	AssertTraceContains = "trace_contains"
	AssertTraceCount    = "trace_count"
	AssertTraceOrder    = "trace_order"
)

var intentTypes = map[string]bool{
	"like": true, "unlike": true, "recast": true, "unrecast": true,
	"follow": true, "unfollow": true,
	"post": true, "story": true, "comment": true, "profile": true,
}

var postExpectKeys = map[string]bool{
	"exists": true, "likes": true, "recasts": true, "comments": true,
	"text": true, "author": true, "liked": true, "recast": true,
}

// LoadScenario reads and parses a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML. Unknown fields are rejected so typos
// surface instead of silently skipping a check.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if scenario.Now.IsZero() {
		scenario.Now = DefaultNow
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Viewer == "" {
		return fmt.Errorf("viewer is required")
	}
	if _, err := stories.ParseRetention(s.Retention); err != nil {
		return err
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if err := validateSeed(&s.Seed); err != nil {
		return err
	}
	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(fmt.Sprintf("assertions[%d]", i), &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateSeed(seed *Seed) error {
	for i, u := range seed.Users {
		if u.ID == "" {
			return fmt.Errorf("seed.users[%d]: id is required", i)
		}
	}
	for i, p := range seed.Posts {
		if p.ID == "" || p.Author == "" {
			return fmt.Errorf("seed.posts[%d]: id and author are required", i)
		}
	}
	for i, st := range seed.Stories {
		if st.ID == "" || st.Author == "" || st.Media == "" {
			return fmt.Errorf("seed.stories[%d]: id, author and media are required", i)
		}
	}
	for i, f := range seed.Follows {
		if _, err := model.ParseFollowKey(f); err != nil {
			return fmt.Errorf("seed.follows[%d]: %w", i, err)
		}
	}
	for i, f := range seed.Flags {
		if _, err := model.ParseFlagKey(f); err != nil {
			return fmt.Errorf("seed.flags[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(index int, step *Step) error {
	actions := 0
	if step.Intent != nil {
		actions++
	}
	if step.Resolve != nil {
		actions++
	}
	if step.Event != nil {
		actions++
	}
	if step.Advance != 0 {
		actions++
	}
	if step.Reconcile {
		actions++
	}
	if actions != 1 {
		return fmt.Errorf("steps[%d]: exactly one of intent, resolve, event, advance or reconcile is required", index)
	}

	switch {
	case step.Intent != nil:
		in := step.Intent
		if !intentTypes[in.Type] {
			return fmt.Errorf("steps[%d].intent: unknown type %q", index, in.Type)
		}
		switch in.Type {
		case "like", "unlike", "recast", "unrecast", "comment":
			if in.Post == "" {
				return fmt.Errorf("steps[%d].intent: post is required for %s", index, in.Type)
			}
		case "follow", "unfollow":
			if in.Target == "" {
				return fmt.Errorf("steps[%d].intent: target is required for %s", index, in.Type)
			}
		}
	case step.Resolve != nil:
		r := step.Resolve
		if r.Mutation == "" {
			return fmt.Errorf("steps[%d].resolve: mutation is required", index)
		}
		if r.Outcome != "ok" && r.Outcome != "fail" {
			return fmt.Errorf("steps[%d].resolve: outcome must be ok or fail, got %q", index, r.Outcome)
		}
		if _, err := resolveError(r.Error); err != nil {
			return fmt.Errorf("steps[%d].resolve: %w", index, err)
		}
	case step.Event != nil:
		ev := step.Event
		switch remote.EventKind(ev.Kind) {
		case remote.EventInsert, remote.EventUpdate, remote.EventDelete:
		default:
			return fmt.Errorf("steps[%d].event: kind must be insert, update or delete, got %q", index, ev.Kind)
		}
		if ev.Type == "" || ev.ID == "" {
			return fmt.Errorf("steps[%d].event: type and id are required", index)
		}
	case step.Advance < 0:
		return fmt.Errorf("steps[%d]: advance must be positive", index)
	}

	for i := range step.Assert {
		if err := validateAssertion(fmt.Sprintf("steps[%d].assert[%d]", index, i), &step.Assert[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(where string, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("%s: type is required", where)
	case AssertPost:
		if a.ID == "" {
			return fmt.Errorf("%s: id is required for post", where)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("%s: expect is required for post", where)
		}
		for k := range a.Expect {
			if !postExpectKeys[k] {
				return fmt.Errorf("%s: unknown post property %q", where, k)
			}
		}
	case AssertFeed:
		if _, err := ranking.ParseMode(a.Mode); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
	case AssertStories:
	case AssertPending, AssertTraceCount:
		if a.Count < 0 {
			return fmt.Errorf("%s: count must be non-negative", where)
		}
		if a.Type == AssertTraceCount && a.Event == "" {
			return fmt.Errorf("%s: event is required for trace_count", where)
		}
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("%s: event is required for trace_contains", where)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("%s: events list is required for trace_order", where)
		}
	default:
		return fmt.Errorf("%s: unknown assertion type %q", where, a.Type)
	}
	return nil
}

// resolveError maps a resolve error name to the backend sentinel it stands for.
func resolveError(name string) (cause error, err error) {
	switch name {
	case "", "unavailable":
		return remote.ErrUnavailable, nil
	case "unauthorized":
		return remote.ErrUnauthorized, nil
	case "rejected":
		return remote.ErrRejected, nil
	}
	return nil, fmt.Errorf("unknown error %q (want unavailable, unauthorized or rejected)", name)
}

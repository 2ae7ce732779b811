package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/feedsync/internal/clock"
	"github.com/roach88/feedsync/internal/engine"
	"github.com/roach88/feedsync/internal/merger"
	"github.com/roach88/feedsync/internal/model"
	"github.com/roach88/feedsync/internal/mutation"
	"github.com/roach88/feedsync/internal/remote"
	"github.com/roach88/feedsync/internal/stories"
)

// callTimeout bounds every engine call so a wedged engine fails the run
// instead of hanging it.
const callTimeout = 10 * time.Second

func callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), callTimeout)
}

// Harness is one scenario execution: the engine, the backend it talks to,
// and the operations dispatched but not yet resolved.
type Harness struct {
	scenario *Scenario
	engine   *engine.Engine
	backend  *remote.Memory
	clock    *clock.Virtual
	result   *Result
	logger   *slog.Logger

	mu         sync.Mutex
	dispatched map[string]remote.Op
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh engine and backend. Assertion failures
// are reported in the result; a returned error means the scenario could not
// be executed at all.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a parent context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	h := &Harness{
		scenario:   scenario,
		backend:    remote.NewMemory(),
		clock:      clock.NewVirtual(scenario.Now),
		result:     NewResult(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		dispatched: map[string]remote.Op{},
	}

	seed, err := seedPatches(scenario)
	if err != nil {
		return nil, fmt.Errorf("failed to build seed: %w", err)
	}
	if err := h.backend.Seed(seed...); err != nil {
		return nil, err
	}
	retention, err := stories.ParseRetention(scenario.Retention)
	if err != nil {
		return nil, err
	}

	h.engine = engine.New(h.backend,
		engine.WithClock(h.clock),
		engine.WithIDs(model.NewSequentialIDs()),
		engine.WithViewer(scenario.Viewer),
		engine.WithLogger(h.logger),
		engine.WithInitialSnapshot(h.backend.State()),
		engine.WithReconcileInterval(0),
		engine.WithRetention(retention),
		engine.WithoutStream(),
		engine.WithDispatcher(mutation.DispatcherFunc(h.dispatch)),
		engine.WithListener(mutation.ListenerFuncs{
			Failure:  h.onFailure,
			Redirect: h.onRedirect,
		}),
	)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(runCtx) }()
	defer func() {
		cancel()
		<-done
	}()

	for i := range scenario.Steps {
		step := &scenario.Steps[i]
		h.result.setStep(i + 1)
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		for _, a := range step.Assert {
			if err := h.evaluate(a); err != nil {
				h.result.AddError(fmt.Sprintf("step %d: %v", i+1, err))
			}
		}
	}

	h.result.setStep(len(scenario.Steps) + 1)
	for _, a := range scenario.Assertions {
		if err := h.evaluate(a); err != nil {
			h.result.AddError(err.Error())
		}
	}
	h.result.Posts = h.finalPosts()

	h.logger.Info("scenario completed",
		"scenario", scenario.Name,
		"pass", h.result.Pass,
		"trace_events", len(h.result.Trace))
	return h.result, nil
}

func (h *Harness) execute(ctx context.Context, step *Step) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	switch {
	case step.Intent != nil:
		return h.submit(ctx, step.Intent)
	case step.Resolve != nil:
		return h.resolve(ctx, step.Resolve)
	case step.Event != nil:
		return h.event(ctx, step.Event)
	case step.Advance > 0:
		h.result.record(EventAdvance, step.Advance.String())
		h.clock.Advance(step.Advance)
		// Periodic timers reschedule on the loop; the second sync runs
		// anything the first one released.
		if err := h.engine.Sync(ctx); err != nil {
			return err
		}
		return h.engine.Sync(ctx)
	case step.Reconcile:
		if err := h.engine.Reconcile(ctx); err != nil {
			h.result.record(EventReconcile, "failed: "+err.Error())
			return nil
		}
		h.result.record(EventReconcile, "ok")
		return nil
	}
	return fmt.Errorf("empty step")
}

func (h *Harness) submit(ctx context.Context, step *IntentStep) error {
	in, label, err := buildIntent(step, h.scenario.Viewer)
	if err != nil {
		return err
	}

	// The intent line goes first so dispatches it triggers follow it.
	h.result.record(EventIntent, label)
	receipt, err := h.engine.Submit(ctx, in)
	if err != nil {
		var ve *mutation.ValidationError
		if !errors.As(err, &ve) {
			return err
		}
		h.result.record(EventReject, fmt.Sprintf("%s: %s", step.Type, ve.Code))
		if step.Reject != string(ve.Code) {
			h.result.AddError(fmt.Sprintf("intent %s rejected with %s, want %q", label, ve.Code, step.Reject))
		}
		return nil
	}
	if step.Reject != "" {
		h.result.AddError(fmt.Sprintf("intent %s accepted, want rejection %s", label, step.Reject))
	}

	switch {
	case receipt.Coalesced && receipt.MutationID == "":
		h.result.record(EventReceipt, "coalesced, no change")
	case receipt.Coalesced:
		h.result.record(EventReceipt, "coalesced into "+receipt.MutationID)
	case model.IsTempID(receipt.EntityID):
		h.result.record(EventReceipt, fmt.Sprintf("%s as %s", receipt.MutationID, receipt.EntityID))
	default:
		h.result.record(EventReceipt, receipt.MutationID)
	}
	return nil
}

func (h *Harness) resolve(ctx context.Context, step *ResolveStep) error {
	h.mu.Lock()
	op, ok := h.dispatched[step.Mutation]
	delete(h.dispatched, step.Mutation)
	h.mu.Unlock()
	if !ok {
		h.result.record(EventError, fmt.Sprintf("resolve %s: not dispatched", step.Mutation))
		return nil
	}

	var res remote.Result
	var cause error
	if step.Outcome == "ok" {
		res, cause = h.backend.Perform(ctx, op)
	} else {
		cause, _ = resolveError(step.Error)
	}

	if cause != nil {
		h.result.record(EventResolve, fmt.Sprintf("%s fail: %v", step.Mutation, cause))
	} else {
		h.result.record(EventResolve, fmt.Sprintf("%s ok: %s", step.Mutation, describePatches(res.Patches)))
	}
	err := h.engine.Resolve(ctx, step.Mutation, res, cause)
	if errors.Is(err, mutation.ErrUnknownMutation) {
		h.result.record(EventError, fmt.Sprintf("resolve %s: unknown mutation", step.Mutation))
		return nil
	}
	return err
}

func (h *Harness) event(ctx context.Context, step *EventStep) error {
	ev := remote.Event{
		Kind:       remote.EventKind(step.Kind),
		EntityType: step.Type,
		EntityID:   step.ID,
		Rev:        step.Rev,
	}
	if len(step.Fields) > 0 {
		payload, err := json.Marshal(step.Fields)
		if err != nil {
			return fmt.Errorf("encode event fields: %w", err)
		}
		ev.Payload = payload
	}

	// The change happened on the server, so the backend learns it too.
	if patch, err := merger.ToPatch(ev); err == nil {
		if err := h.backend.Seed(patch); err != nil {
			h.logger.Debug("backend ignored event", "event", ev.String(), "error", err)
		}
	}

	applied, err := h.engine.Merge(ctx, ev)
	var merr *merger.MergeError
	switch {
	case errors.As(err, &merr):
		h.result.record(EventStream, fmt.Sprintf("%s rejected: %s", ev, merr.Code))
	case err != nil:
		return err
	case applied:
		h.result.record(EventStream, ev.String()+" applied")
	default:
		h.result.record(EventStream, ev.String()+" dropped")
	}
	return nil
}

// dispatch records an operation for a later resolve step. Runs on the
// engine loop.
func (h *Harness) dispatch(mutationID string, op remote.Op) {
	h.mu.Lock()
	h.dispatched[mutationID] = op
	h.mu.Unlock()
	h.result.record(EventDispatch, fmt.Sprintf("%s %s", mutationID, op.Kind))
}

func (h *Harness) onFailure(f *mutation.Failure) {
	h.result.record(EventFailure, fmt.Sprintf("%s %s %s: %v", f.MutationID, f.Op, f.EntityID, f.Err))
}

func (h *Harness) onRedirect(r mutation.Redirect) {
	h.result.record(EventRedirect, fmt.Sprintf("%s %s -> %s", r.Kind, r.TempID, r.ServerID))
}

func (h *Harness) finalPosts() []PostState {
	s := h.engine.Snapshot()
	posts := s.Posts()
	out := make([]PostState, 0, len(posts))
	for _, p := range posts {
		out = append(out, postState(s, p, h.scenario.Viewer))
	}
	return out
}

func seedPatches(s *Scenario) ([]model.Patch, error) {
	var patches []model.Patch
	for _, u := range s.Seed.Users {
		patches = append(patches, model.InsertUser(model.User{ID: u.ID, DisplayName: u.DisplayName, Handle: u.Handle}))
	}
	for _, p := range s.Seed.Posts {
		patches = append(patches, model.InsertPost(model.Post{
			ID:        p.ID,
			AuthorID:  p.Author,
			Text:      p.Text,
			Likes:     p.Likes,
			Recasts:   p.Recasts,
			Comments:  p.Comments,
			CreatedAt: s.Now.Add(-p.Age),
		}))
	}
	for _, st := range s.Seed.Stories {
		patches = append(patches, model.InsertStory(model.NewStory(st.ID, st.Author, st.Media, s.Now.Add(-st.Age), st.TTL)))
	}
	for _, f := range s.Seed.Follows {
		key, err := model.ParseFollowKey(f)
		if err != nil {
			return nil, err
		}
		patches = append(patches, model.SetFollow(key, true))
	}
	for _, f := range s.Seed.Flags {
		key, err := model.ParseFlagKey(f)
		if err != nil {
			return nil, err
		}
		patches = append(patches, model.SetFlag(key, true))
	}
	return patches, nil
}

// buildIntent converts a step to an intent and a short label for the trace.
func buildIntent(step *IntentStep, viewer string) (mutation.Intent, string, error) {
	user := step.User
	if user == "" {
		user = viewer
	}
	text := step.Text
	if text == "" && step.TextLength > 0 {
		text = strings.Repeat("a", step.TextLength)
	}

	switch step.Type {
	case "like":
		return mutation.Like(user, step.Post), fmt.Sprintf("like %s/%s", user, step.Post), nil
	case "unlike":
		return mutation.Unlike(user, step.Post), fmt.Sprintf("unlike %s/%s", user, step.Post), nil
	case "recast":
		return mutation.Recast(user, step.Post), fmt.Sprintf("recast %s/%s", user, step.Post), nil
	case "unrecast":
		return mutation.Unrecast(user, step.Post), fmt.Sprintf("unrecast %s/%s", user, step.Post), nil
	case "follow":
		return mutation.FollowUser(user, step.Target), fmt.Sprintf("follow %s/%s", user, step.Target), nil
	case "unfollow":
		return mutation.UnfollowUser(user, step.Target), fmt.Sprintf("unfollow %s/%s", user, step.Target), nil
	case "post":
		in := mutation.CreatePost{Post: model.Post{AuthorID: user, Text: text, Media: step.Media}}
		return in, fmt.Sprintf("post by %s (%d chars)", user, len([]rune(text))), nil
	case "story":
		media := ""
		if len(step.Media) > 0 {
			media = step.Media[0]
		}
		in := mutation.CreateStory{Story: model.Story{AuthorID: user, MediaRef: media}}
		return in, fmt.Sprintf("story by %s", user), nil
	case "comment":
		in := mutation.CreateComment{Comment: model.Comment{PostID: step.Post, AuthorID: user, Text: text}}
		return in, fmt.Sprintf("comment by %s on %s", user, step.Post), nil
	case "profile":
		in := mutation.UpdateProfile{UserID: user, Fields: model.UserFields{
			DisplayName: step.DisplayName,
			Bio:         step.Bio,
			Links:       step.Links,
		}}
		return in, "profile of " + user, nil
	}
	return nil, "", fmt.Errorf("unknown intent type %q", step.Type)
}

// describePatches summarizes authoritative patches as "kind/id" pairs.
func describePatches(patches []model.Patch) string {
	if len(patches) == 0 {
		return "no patches"
	}
	parts := make([]string, len(patches))
	for i, p := range patches {
		parts[i] = fmt.Sprintf("%s/%s", p.Kind, p.ID)
	}
	return strings.Join(parts, " ")
}
